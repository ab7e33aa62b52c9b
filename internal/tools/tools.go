// SPDX-License-Identifier: MIT

// Package tools discovers the external media tools (ffmpeg, ffprobe,
// mkvmerge, mkvpropedit), parses their versions and ffmpeg's
// capability lists, and answers the version-gate questions the
// executor asks before building a command line.
package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	vpolog "github.com/randomparity/vpo-sub005/internal/log"
)

// Tool names as used by Require.
const (
	FFmpeg      = "ffmpeg"
	FFprobe     = "ffprobe"
	MKVMerge    = "mkvmerge"
	MKVPropedit = "mkvpropedit"
)

// ErrToolMissing wraps the name of an absent tool.
type ErrToolMissing struct {
	Name string
}

func (e *ErrToolMissing) Error() string {
	return fmt.Sprintf("required tool %s not found", e.Name)
}

// Tool is one detected external binary.
type Tool struct {
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	Version Version `json:"version"`
	Banner  string  `json:"banner"` // first line of --version output
}

// Config points detection at explicit binary paths; empty fields fall
// back to PATH lookup under the conventional name.
type Config struct {
	FFmpegPath      string
	FFprobePath     string
	MKVMergePath    string
	MKVPropeditPath string
}

// Registry is the cached result of one detection pass.
type Registry struct {
	tools map[string]*Tool

	// ffmpeg capability sets, keyed by component name.
	encoders map[string]bool
	muxers   map[string]bool
	filters  map[string]bool

	log zerolog.Logger
}

// Detect probes for the four tools and loads ffmpeg's capability
// lists. Missing tools are recorded as absent, not fatal: only ffprobe
// is required for the registry itself to be usable.
func Detect(ctx context.Context, cfg Config) (*Registry, error) {
	r := &Registry{
		tools:    map[string]*Tool{},
		encoders: map[string]bool{},
		muxers:   map[string]bool{},
		filters:  map[string]bool{},
		log:      vpolog.WithComponent("tools"),
	}

	probes := []struct {
		name, path, flag string
	}{
		{FFmpeg, cfg.FFmpegPath, "-version"},
		{FFprobe, cfg.FFprobePath, "-version"},
		{MKVMerge, cfg.MKVMergePath, "--version"},
		{MKVPropedit, cfg.MKVPropeditPath, "--version"},
	}
	for _, p := range probes {
		tool, err := detectOne(ctx, p.name, p.path, p.flag)
		if err != nil {
			r.log.Debug().Str("tool", p.name).Err(err).Msg("tool not available")
			continue
		}
		r.tools[p.name] = tool
		r.log.Info().
			Str("tool", p.name).
			Str("path", tool.Path).
			Str("version", tool.Version.String()).
			Msg("tool detected")
	}

	if _, ok := r.tools[FFprobe]; !ok {
		return nil, &ErrToolMissing{Name: FFprobe}
	}

	if ff, ok := r.tools[FFmpeg]; ok {
		r.loadCapabilities(ctx, ff.Path)
	}
	return r, nil
}

func detectOne(ctx context.Context, name, path, versionFlag string) (*Tool, error) {
	if path == "" {
		found, err := exec.LookPath(name)
		if err != nil {
			return nil, err
		}
		path = found
	}

	out, err := exec.CommandContext(ctx, path, versionFlag).Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", path, versionFlag, err)
	}
	banner := firstLine(string(out))
	v, err := ParseVersionLine(banner)
	if err != nil {
		return nil, err
	}
	return &Tool{Name: name, Path: path, Version: v, Banner: banner}, nil
}

// loadCapabilities fills the encoder, muxer, and filter sets from
// ffmpeg's list outputs. Failures degrade to empty sets; callers that
// need a specific component get a clear error from HasEncoder later.
func (r *Registry) loadCapabilities(ctx context.Context, ffmpegPath string) {
	r.encoders = parseComponentList(listOutput(ctx, ffmpegPath, "-encoders"))
	r.muxers = parseComponentList(listOutput(ctx, ffmpegPath, "-muxers"))
	r.filters = parseComponentList(listOutput(ctx, ffmpegPath, "-filters"))
	r.log.Debug().
		Int("encoders", len(r.encoders)).
		Int("muxers", len(r.muxers)).
		Int("filters", len(r.filters)).
		Msg("ffmpeg capabilities loaded")
}

func listOutput(ctx context.Context, ffmpegPath, flag string) string {
	out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", flag).Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// parseComponentList reads ffmpeg's component listing format: a flags
// column, the component name, then a description. Header lines up to
// and including the "----" separator are skipped.
func parseComponentList(out string) map[string]bool {
	set := map[string]bool{}
	sc := bufio.NewScanner(strings.NewReader(out))
	inBody := false
	for sc.Scan() {
		line := sc.Text()
		if !inBody {
			if strings.Contains(line, "----") {
				inBody = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		set[fields[1]] = true
	}
	return set
}

// NewStatic builds a registry from fixed tools and capability sets,
// bypassing detection. Used by tests and dry-run paths.
func NewStatic(toolList []*Tool, encoders, muxers, filters []string) *Registry {
	r := &Registry{
		tools:    map[string]*Tool{},
		encoders: map[string]bool{},
		muxers:   map[string]bool{},
		filters:  map[string]bool{},
		log:      vpolog.WithComponent("tools"),
	}
	for _, t := range toolList {
		r.tools[t.Name] = t
	}
	for _, e := range encoders {
		r.encoders[e] = true
	}
	for _, m := range muxers {
		r.muxers[m] = true
	}
	for _, f := range filters {
		r.filters[f] = true
	}
	return r
}

// Lookup returns the detected tool, if present.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Require returns the tool or a typed missing-tool error.
func (r *Registry) Require(name string) (*Tool, error) {
	if t, ok := r.tools[name]; ok {
		return t, nil
	}
	return nil, &ErrToolMissing{Name: name}
}

// IsToolMissing reports whether err is a missing-tool error.
func IsToolMissing(err error) bool {
	var tm *ErrToolMissing
	return errors.As(err, &tm)
}

// HasEncoder reports whether ffmpeg lists the named encoder.
func (r *Registry) HasEncoder(name string) bool { return r.encoders[name] }

// HasMuxer reports whether ffmpeg lists the named muxer.
func (r *Registry) HasMuxer(name string) bool { return r.muxers[name] }

// HasFilter reports whether ffmpeg lists the named filter.
func (r *Registry) HasFilter(name string) bool { return r.filters[name] }

// ffmpeg version gates.

// SupportsFPSMode reports whether -fps_mode replaces -vsync (>= 5.1).
func (r *Registry) SupportsFPSMode() bool {
	ff, ok := r.tools[FFmpeg]
	return ok && ff.Version.AtLeast(5, 1)
}

// SupportsStatsPeriod reports whether -stats_period is accepted (>= 4.4).
func (r *Registry) SupportsStatsPeriod() bool {
	ff, ok := r.tools[FFmpeg]
	return ok && ff.Version.AtLeast(4, 4)
}

// NeedsExplicitPCM reports whether WAV output needs an explicit
// pcm_s16le codec argument (< 4.0).
func (r *Registry) NeedsExplicitPCM() bool {
	ff, ok := r.tools[FFmpeg]
	return ok && !ff.Version.AtLeast(4, 0)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
