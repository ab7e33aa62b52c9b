// SPDX-License-Identifier: MIT

// Package scanner walks the library roots and keeps the catalog in
// sync with the filesystem: new and changed files are probed and
// upserted, vanished rows optionally pruned.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/randomparity/vpo-sub005/internal/config"
	vpolog "github.com/randomparity/vpo-sub005/internal/log"
	"github.com/randomparity/vpo-sub005/internal/probe"
	"github.com/randomparity/vpo-sub005/internal/store"
)

// Options select one scan's behavior.
type Options struct {
	// Roots overrides the configured library roots when non-empty.
	Roots []string

	// Full re-probes every file regardless of size/mtime.
	Full bool

	// VerifyHash compares SHA-256 content hashes instead of trusting
	// size+mtime. Expensive: reads every file fully.
	VerifyHash bool

	// Prune removes catalog rows whose files no longer exist under the
	// scanned roots.
	Prune bool

	// DryRun reports what would change without touching the store.
	DryRun bool
}

// Summary is the outcome of one scan pass.
type Summary struct {
	Scanned   int      `json:"scanned"`
	Added     int      `json:"added"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Pruned    int      `json:"pruned"`
	Errors    []string `json:"errors,omitempty"`
}

// Scanner is safe for sequential reuse; one Scan at a time.
type Scanner struct {
	store *store.Store
	cfg   *config.Config
	log   zerolog.Logger

	// probeFn is swappable in tests.
	probeFn func(ctx context.Context, ffprobePath, path string) (*probe.FileInfo, error)
}

func New(st *store.Store, cfg *config.Config) *Scanner {
	return &Scanner{
		store:   st,
		cfg:     cfg,
		log:     vpolog.WithComponent("scanner"),
		probeFn: probe.Probe,
	}
}

// Scan walks the roots and reconciles the catalog. Errors on single
// files are collected in the summary; only setup failures abort.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Summary, error) {
	roots := opts.Roots
	if len(roots) == 0 {
		roots = s.cfg.LibraryRoots
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no library roots configured")
	}

	sum := &Summary{}
	seen := map[string]bool{}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root %q: %w", root, err)
		}
		if err := s.walkRoot(ctx, abs, opts, sum, seen); err != nil {
			return nil, err
		}
	}

	if opts.Prune {
		if err := s.prune(ctx, roots, opts, sum, seen); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Int("scanned", sum.Scanned).
		Int("added", sum.Added).
		Int("updated", sum.Updated).
		Int("unchanged", sum.Unchanged).
		Int("pruned", sum.Pruned).
		Int("errors", len(sum.Errors)).
		Bool("dry_run", opts.DryRun).
		Msg("scan complete")
	return sum, nil
}

func (s *Scanner) walkRoot(ctx context.Context, root string, opts Options, sum *Summary, seen map[string]bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", path, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Symlinks are never followed: the walk stays confined to the
		// configured roots.
		if d.Type()&fs.ModeSymlink != 0 {
			if target, serr := os.Stat(path); serr == nil && target.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !s.cfg.MatchesExtension(path) {
			return nil
		}
		if isWorkFile(d.Name()) {
			return nil
		}

		sum.Scanned++
		seen[path] = true
		if err := s.reconcile(ctx, path, opts, sum); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", path, err))
		}
		return nil
	})
}

// reconcile decides whether path is new, changed, or unchanged, and
// updates the catalog accordingly.
func (s *Scanner) reconcile(ctx context.Context, path string, opts Options, sum *Summary) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}

	rec, err := s.store.GetFileByPath(ctx, path)
	if err != nil {
		return err
	}

	changed, isNew := true, rec == nil
	if rec != nil && !opts.Full {
		changed = rec.Size != st.Size() || rec.ModTime.Unix() != st.ModTime().Unix()
		if !changed && opts.VerifyHash {
			hash, herr := hashFile(path)
			if herr != nil {
				return herr
			}
			changed = rec.ContentHash != "" && rec.ContentHash != hash
		}
	}
	if !changed {
		sum.Unchanged++
		return nil
	}

	if opts.DryRun {
		if isNew {
			sum.Added++
		} else {
			sum.Updated++
		}
		return nil
	}

	fi, err := s.probeFn(ctx, s.cfg.FFprobePath, path)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	var hash string
	if opts.VerifyHash {
		if hash, err = hashFile(path); err != nil {
			return err
		}
	}
	if _, err := s.store.UpsertFile(ctx, fi, hash); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	if isNew {
		sum.Added++
		s.log.Debug().Str("path", path).Msg("file added")
	} else {
		sum.Updated++
		s.log.Debug().Str("path", path).Msg("file updated")
	}
	return nil
}

// prune drops catalog rows under the scanned roots whose files were
// not seen this pass.
func (s *Scanner) prune(ctx context.Context, roots []string, opts Options, sum *Summary, seen map[string]bool) error {
	paths, err := s.store.ListPaths(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if seen[p] || !underAnyRoot(p, roots) {
			continue
		}
		// Re-check existence: the row may cover a file the extension
		// filter now excludes but that still exists.
		if _, err := os.Stat(p); err == nil {
			continue
		}
		sum.Pruned++
		if opts.DryRun {
			continue
		}
		if err := s.store.DeleteFile(ctx, p); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("prune %s: %v", p, err))
			continue
		}
		s.log.Debug().Str("path", p).Msg("file pruned")
	}
	return nil
}

func underAnyRoot(path string, roots []string) bool {
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(abs, path); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

// isWorkFile matches the executor's temp and backup sentinels so
// half-written outputs never enter the catalog.
func isWorkFile(name string) bool {
	return strings.HasPrefix(name, ".vpo_temp_") ||
		strings.Contains(name, ".vpo_backup.") ||
		strings.HasSuffix(name, ".vpo_staging")
}

// hashFile computes the SHA-256 content hash as lowercase hex.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
