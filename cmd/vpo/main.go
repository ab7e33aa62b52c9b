// SPDX-License-Identifier: MIT

// vpo is the policy-driven video library manager: scan a library,
// evaluate files against declarative policies, and execute the
// resulting plans through ffmpeg and the MKVToolNix property editor,
// either one-off from this CLI or continuously via the serve daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/randomparity/vpo-sub005/internal/config"
	vpolog "github.com/randomparity/vpo-sub005/internal/log"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitPolicyError = 2
	exitInterrupt   = 130
)

// Build metadata, injected via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var errInterrupted = errors.New("interrupted")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitError
	}
	verb, rest := args[0], args[1:]

	if verb == "version" {
		fmt.Printf("vpo %s (%s)\n", version, commit)
		return exitOK
	}
	if verb == "help" || verb == "-h" || verb == "--help" {
		usage()
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := dispatch(ctx, verb, rest)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errInterrupted) || errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "vpo: interrupted")
		return exitInterrupt
	case errors.Is(err, errPolicyInvalid):
		fmt.Fprintf(os.Stderr, "vpo: %v\n", err)
		return exitPolicyError
	default:
		fmt.Fprintf(os.Stderr, "vpo: %v\n", err)
		return exitError
	}
}

func dispatch(ctx context.Context, verb string, args []string) error {
	switch verb {
	case "init":
		return cmdInit(ctx, args)
	case "scan":
		return cmdScan(ctx, args)
	case "apply":
		return cmdApply(ctx, args, false)
	case "transcode":
		return cmdApply(ctx, args, true)
	case "maintain":
		return cmdMaintain(ctx, args)
	case "plugins":
		return cmdPlugins(ctx, args)
	case "policy":
		return cmdPolicy(ctx, args)
	case "policies":
		return cmdPolicies(ctx, args)
	case "serve":
		return cmdServe(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", verb)
	}
}

// loadConfig resolves configuration and initializes logging. Every
// verb goes through here so VPO_* and the config file behave the same
// everywhere.
func loadConfig(path, logLevel string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	vpolog.Configure(vpolog.Config{Level: cfg.LogLevel})
	return cfg, nil
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: vpo <command> [flags]

commands:
  init                     create the data directory and database
  scan [dirs...]           reconcile the catalog with the filesystem
  apply <policy> <paths>   evaluate and execute a policy against files
  transcode <paths>        apply with transcode phases required
  maintain <logs|all|status>
                           housekeeping: log rotation, history purge,
                           orphan temp sweep
  plugins <list|enable|disable|acknowledge>
                           manage analysis plugin state
  policy validate <files>  check policy documents (exit 2 on failure)
  policies <list|show>     inspect loaded policies
  serve                    run the daemon (workers + HTTP)
  version                  print build information

common flags (per command): -config PATH, -json, -log-level LEVEL
`)
}
