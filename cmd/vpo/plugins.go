// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"

	"github.com/randomparity/vpo-sub005/internal/config"
	"github.com/randomparity/vpo-sub005/internal/store"
)

// pluginState is the per-plugin record in plugins/state.json. A plugin
// must be acknowledged once before its metadata is trusted; disabling
// keeps the stored metadata but stops the evaluator from seeing new
// contributions.
type pluginState struct {
	Enabled      bool `json:"enabled"`
	Acknowledged bool `json:"acknowledged"`
}

type pluginStateFile map[string]pluginState

func pluginStatePath(cfg *config.Config) string {
	return filepath.Join(cfg.PluginsDir(), "state.json")
}

func loadPluginState(cfg *config.Config) (pluginStateFile, error) {
	data, err := os.ReadFile(pluginStatePath(cfg))
	if os.IsNotExist(err) {
		return pluginStateFile{}, nil
	}
	if err != nil {
		return nil, err
	}
	var state pluginStateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse plugin state: %w", err)
	}
	return state, nil
}

func savePluginState(cfg *config.Config, state pluginStateFile) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(pluginStatePath(cfg), append(data, '\n'), 0o644)
}

func cmdPlugins(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plugins", flag.ContinueOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode := "list"
	if fs.NArg() > 0 {
		mode = fs.Arg(0)
	}

	cfg, err := loadConfig(cf.config, cf.logLevel)
	if err != nil {
		return err
	}

	switch mode {
	case "list":
		return pluginsList(ctx, cfg, cf.jsonOut)
	case "enable", "disable", "acknowledge":
		if fs.NArg() < 2 {
			return fmt.Errorf("usage: vpo plugins %s <name>", mode)
		}
		return pluginsSet(cfg, fs.Arg(1), mode)
	default:
		return fmt.Errorf("plugins: unknown mode %q (list, enable, disable, acknowledge)", mode)
	}
}

// pluginsList merges plugins seen in the store's metadata tables with
// those recorded in the state file; either side alone is enough to be
// listed.
func pluginsList(ctx context.Context, cfg *config.Config, jsonOut bool) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	names, err := st.PluginNames(ctx)
	if err != nil {
		return err
	}
	state, err := loadPluginState(cfg)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	for n := range state {
		seen[n] = true
	}
	all := make([]string, 0, len(seen))
	for n := range seen {
		all = append(all, n)
	}
	sort.Strings(all)

	type entry struct {
		Name         string `json:"name"`
		Enabled      bool   `json:"enabled"`
		Acknowledged bool   `json:"acknowledged"`
		HasMetadata  bool   `json:"has_metadata"`
	}
	entries := make([]entry, 0, len(all))
	for _, n := range all {
		ps, known := state[n]
		if !known {
			// Discovered via stored metadata but never managed:
			// enabled by default, not yet acknowledged.
			ps = pluginState{Enabled: true}
		}
		entries = append(entries, entry{
			Name:         n,
			Enabled:      ps.Enabled,
			Acknowledged: ps.Acknowledged,
			HasMetadata:  containsString(names, n),
		})
	}

	if jsonOut {
		return printJSON(map[string]any{"plugins": entries})
	}
	if len(entries) == 0 {
		fmt.Println("no plugins")
		return nil
	}
	for _, e := range entries {
		flags := ""
		if !e.Enabled {
			flags += " disabled"
		}
		if !e.Acknowledged {
			flags += " unacknowledged"
		}
		fmt.Printf("%s%s\n", e.Name, flags)
	}
	return nil
}

func pluginsSet(cfg *config.Config, name, mode string) error {
	state, err := loadPluginState(cfg)
	if err != nil {
		return err
	}
	ps := state[name]
	switch mode {
	case "enable":
		ps.Enabled = true
	case "disable":
		ps.Enabled = false
	case "acknowledge":
		ps.Acknowledged = true
		ps.Enabled = true
	}
	state[name] = ps
	if err := savePluginState(cfg, state); err != nil {
		return err
	}
	fmt.Printf("%s: %sd\n", name, mode)
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
