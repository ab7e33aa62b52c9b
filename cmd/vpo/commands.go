// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/randomparity/vpo-sub005/internal/config"
	"github.com/randomparity/vpo-sub005/internal/daemon"
	"github.com/randomparity/vpo-sub005/internal/evaluate"
	"github.com/randomparity/vpo-sub005/internal/executor"
	"github.com/randomparity/vpo-sub005/internal/maintain"
	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/probe"
	"github.com/randomparity/vpo-sub005/internal/queue"
	"github.com/randomparity/vpo-sub005/internal/scanner"
	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/tools"
)

// errPolicyInvalid marks validation failures so main can exit 2.
var errPolicyInvalid = errors.New("policy validation failed")

// commonFlags are accepted by every verb.
type commonFlags struct {
	config   string
	logLevel string
	jsonOut  bool
}

func addCommon(fs *flag.FlagSet, cf *commonFlags) {
	fs.StringVar(&cf.config, "config", "", "config file path")
	fs.StringVar(&cf.logLevel, "log-level", "", "log level override")
	fs.BoolVar(&cf.jsonOut, "json", false, "machine-readable output")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(cf.config, cf.logLevel)
	if err != nil {
		return err
	}
	if err := cfg.EnsureLayout(); err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ver, err := st.SchemaVersion()
	if err != nil {
		return err
	}
	if cf.jsonOut {
		return printJSON(map[string]any{
			"data_dir":       cfg.DataDir,
			"database":       cfg.DatabasePath,
			"schema_version": ver,
		})
	}
	fmt.Printf("initialized %s (schema v%d)\n", cfg.DataDir, ver)
	return nil
}

func cmdScan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	full := fs.Bool("full", false, "re-probe every file")
	prune := fs.Bool("prune", false, "remove vanished files from the catalog")
	verify := fs.Bool("verify-hash", false, "compare content hashes")
	dryRun := fs.Bool("dry-run", false, "report changes without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(cf.config, cf.logLevel)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sum, err := scanner.New(st, cfg).Scan(ctx, scanner.Options{
		Roots:      fs.Args(),
		Full:       *full,
		Prune:      *prune,
		VerifyHash: *verify,
		DryRun:     *dryRun,
	})
	if err != nil {
		if ctx.Err() != nil {
			return errInterrupted
		}
		return err
	}
	if !*dryRun {
		report := filepath.Join(cfg.DataDir, "scan_report.json")
		if werr := scanner.WriteReport(report, sum); werr != nil {
			fmt.Fprintf(os.Stderr, "vpo: write scan report: %v\n", werr)
		}
	}

	if cf.jsonOut {
		return printJSON(sum)
	}
	fmt.Printf("scanned %d: %d added, %d updated, %d unchanged, %d pruned\n",
		sum.Scanned, sum.Added, sum.Updated, sum.Unchanged, sum.Pruned)
	for _, e := range sum.Errors {
		fmt.Fprintf(os.Stderr, "  error: %s\n", e)
	}
	if len(sum.Errors) > 0 {
		return fmt.Errorf("%d files failed", len(sum.Errors))
	}
	return nil
}

// applyResult is the per-file outcome of apply/transcode.
type applyResult struct {
	Path     string     `json:"path"`
	Actions  int        `json:"actions"`
	Strategy string     `json:"strategy,omitempty"`
	NewPath  string     `json:"new_path,omitempty"`
	Skipped  string     `json:"skipped,omitempty"`
	Error    string     `json:"error,omitempty"`
	Plan     *plan.Plan `json:"plan,omitempty"` // dry-run only
}

// cmdApply drives the evaluate→execute pipeline directly. transcodeOnly
// restricts execution to plans that actually re-encode something.
func cmdApply(ctx context.Context, args []string, transcodeOnly bool) error {
	name := "apply"
	if transcodeOnly {
		name = "transcode"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	dryRun := fs.Bool("dry-run", false, "print the plan without executing")
	polFlag := fs.String("policy", "", "policy name (transcode verb)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	var polName string
	if transcodeOnly {
		polName = *polFlag
		if polName == "" {
			polName = "default"
		}
	} else {
		if len(rest) < 2 {
			return fmt.Errorf("usage: vpo apply <policy> <paths...>")
		}
		polName, rest = rest[0], rest[1:]
	}
	if len(rest) == 0 {
		return fmt.Errorf("no files given")
	}

	cfg, err := loadConfig(cf.config, cf.logLevel)
	if err != nil {
		return err
	}
	pol, err := resolvePolicy(cfg, polName)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var exec *executor.Executor
	if !*dryRun {
		reg, err := tools.Detect(ctx, tools.Config{
			FFmpegPath:      cfg.FFmpegPath,
			FFprobePath:     cfg.FFprobePath,
			MKVMergePath:    cfg.MKVMergePath,
			MKVPropeditPath: cfg.MKVPropeditPath,
		})
		if err != nil {
			return err
		}
		exec = executor.New(reg, executor.Options{
			DeadlineBase:  cfg.DeadlineBase,
			DeadlinePerGB: cfg.DeadlinePerGB,
		})
	}

	var (
		results []applyResult
		failed  int
	)
	for _, path := range rest {
		if ctx.Err() != nil {
			return errInterrupted
		}
		res := applyOne(ctx, cfg, st, exec, pol, path, *dryRun, transcodeOnly)
		if res.Error != "" {
			failed++
		}
		results = append(results, res)
		if !cf.jsonOut {
			printApplyResult(res)
		}
	}

	if cf.jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	}
	if failed == len(rest) {
		return fmt.Errorf("all %d files failed", failed)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(rest))
	}
	return nil
}

func applyOne(ctx context.Context, cfg *config.Config, st *store.Store,
	exec *executor.Executor, pol *policy.Policy, path string,
	dryRun, transcodeOnly bool) applyResult {

	res := applyResult{Path: path}

	fi, err := probe.Probe(ctx, cfg.FFprobePath, path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	analyses, err := st.AnalysesForFile(ctx, path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	p, err := evaluate.Evaluate(pol, fi, analyses)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Actions = len(p.Actions)

	if p.Empty() {
		res.Skipped = "file already conforms"
		return res
	}
	if transcodeOnly && !p.HasKind(plan.TranscodeVideo) &&
		!p.HasKind(plan.TranscodeAudio) && !p.HasKind(plan.SynthesizeAudio) {
		res.Skipped = "nothing to transcode"
		return res
	}
	if dryRun {
		res.Plan = p
		return res
	}

	out, err := exec.Execute(ctx, p, fi, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Strategy = string(out.Strategy)
	if out.NewPath != path {
		res.NewPath = out.NewPath
	}

	if refreshed, perr := probe.Probe(ctx, cfg.FFprobePath, out.NewPath); perr == nil {
		if _, uerr := st.UpsertFile(ctx, refreshed, ""); uerr != nil {
			res.Error = fmt.Sprintf("refresh catalog: %v", uerr)
		}
	}
	return res
}

func printApplyResult(res applyResult) {
	switch {
	case res.Error != "":
		fmt.Printf("%s: FAILED: %s\n", res.Path, res.Error)
	case res.Skipped != "":
		fmt.Printf("%s: %s\n", res.Path, res.Skipped)
	case res.Plan != nil:
		fmt.Printf("%s: %d planned actions\n", res.Path, res.Actions)
		for _, a := range res.Plan.Actions {
			fmt.Printf("  %s track=%d\n", a.Kind, a.TrackIndex)
		}
	default:
		fmt.Printf("%s: %d actions via %s\n", res.Path, res.Actions, res.Strategy)
		if res.NewPath != "" {
			fmt.Printf("  -> %s\n", res.NewPath)
		}
	}
}

// resolvePolicy accepts a policy name under the policies dir or a
// direct path to a YAML file.
func resolvePolicy(cfg *config.Config, nameOrPath string) (*policy.Policy, error) {
	if _, err := os.Stat(nameOrPath); err == nil {
		return policy.LoadFile(nameOrPath)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(cfg.PoliciesDir(), nameOrPath+ext)
		if _, err := os.Stat(candidate); err == nil {
			return policy.LoadFile(candidate)
		}
	}
	return nil, fmt.Errorf("policy %q not found in %s", nameOrPath, cfg.PoliciesDir())
}

func cmdMaintain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("maintain", flag.ContinueOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode := "all"
	if fs.NArg() > 0 {
		mode = fs.Arg(0)
	}

	cfg, err := loadConfig(cf.config, cf.logLevel)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	switch mode {
	case "status":
		depth, err := queue.New(st).Depth(ctx)
		if err != nil {
			return err
		}
		files, err := st.FileCount(ctx)
		if err != nil {
			return err
		}
		status := map[string]any{
			"queue_depth":          depth,
			"files":                files,
			"log_compression_days": cfg.LogCompressionDays,
			"log_deletion_days":    cfg.LogDeletionDays,
		}
		if cf.jsonOut {
			return printJSON(status)
		}
		fmt.Printf("queue depth: %d\nfiles cataloged: %d\nlog windows: compress %dd, delete %dd\n",
			depth, files, cfg.LogCompressionDays, cfg.LogDeletionDays)
		return nil
	case "logs", "all":
		rep, err := maintain.New(cfg, st).Run(ctx)
		if err != nil {
			return err
		}
		if cf.jsonOut {
			return printJSON(rep)
		}
		fmt.Printf("compressed %d logs, deleted %d, purged %d jobs, removed %d temp files\n",
			rep.LogsCompressed, rep.LogsDeleted, rep.JobsPurged, rep.TempsRemoved)
		for _, e := range rep.Errors {
			fmt.Fprintf(os.Stderr, "  error: %s\n", e)
		}
		return nil
	default:
		return fmt.Errorf("maintain: unknown mode %q (logs, all, status)", mode)
	}
}

func cmdPolicy(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "validate" {
		return fmt.Errorf("usage: vpo policy validate <files...>")
	}
	fs := flag.NewFlagSet("policy validate", flag.ContinueOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: vpo policy validate <files...>")
	}

	type result struct {
		Path  string `json:"path"`
		Valid bool   `json:"valid"`
		Error string `json:"error,omitempty"`
	}
	var (
		results []result
		invalid int
	)
	for _, path := range fs.Args() {
		_, err := policy.LoadFile(path)
		r := result{Path: path, Valid: err == nil}
		if err != nil {
			r.Error = err.Error()
			invalid++
		}
		results = append(results, r)
		if !cf.jsonOut {
			if r.Valid {
				fmt.Printf("%s: ok\n", path)
			} else {
				fmt.Printf("%s: INVALID: %s\n", path, r.Error)
			}
		}
	}
	if cf.jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d documents", errPolicyInvalid, invalid, len(results))
	}
	return nil
}

func cmdPolicies(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("policies", flag.ContinueOnError)
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
		pols, err := policy.LoadDir(cfg.PoliciesDir())
		if err != nil {
			return err
		}
		if cf.jsonOut {
			names := make([]string, 0, len(pols))
			for _, p := range pols {
				names = append(names, p.Name)
			}
			return printJSON(map[string][]string{"policies": names})
		}
		if len(pols) == 0 {
			fmt.Printf("no policies in %s\n", cfg.PoliciesDir())
			return nil
		}
		for _, p := range pols {
			fmt.Printf("%s (%d phases)\n", p.Name, len(p.Phases))
		}
		return nil
	case "show":
		if fs.NArg() < 2 {
			return fmt.Errorf("usage: vpo policies show <name>")
		}
		pol, err := resolvePolicy(cfg, fs.Arg(1))
		if err != nil {
			return err
		}
		data, err := pol.Serialize()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	default:
		return fmt.Errorf("policies: unknown mode %q (list, show)", mode)
	}
}

func cmdServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	listen := fs.String("listen", "", "listen address override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(cf.config, cf.logLevel)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	start := time.Now()
	if err := d.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "vpo: daemon stopped after %s\n", time.Since(start).Round(time.Second))
	return nil
}
