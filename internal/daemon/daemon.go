// SPDX-License-Identifier: MIT

// Package daemon wires the long-running process together: store, tool
// registry, job queue, worker pool, HTTP server, and live policy
// reload. The CLI's serve verb constructs one Daemon and runs it until
// a signal arrives.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/randomparity/vpo-sub005/internal/api"
	"github.com/randomparity/vpo-sub005/internal/config"
	"github.com/randomparity/vpo-sub005/internal/executor"
	vpolog "github.com/randomparity/vpo-sub005/internal/log"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/queue"
	"github.com/randomparity/vpo-sub005/internal/scanner"
	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/tools"
	"github.com/randomparity/vpo-sub005/internal/vpotypes"
	"github.com/randomparity/vpo-sub005/internal/worker"
)

// Daemon owns every long-lived component of the serve process.
type Daemon struct {
	cfg   *config.Config
	store *store.Store
	queue *queue.Queue
	reg   *tools.Registry
	exec  *executor.Executor
	scan  *scanner.Scanner
	pool  *worker.Pool
	api   *api.Server
	log   zerolog.Logger

	mu       sync.RWMutex
	policies map[string]*policy.Policy
}

// New builds a daemon from configuration: opens the store, detects
// tools, and loads the policy directory. The store stays open until
// Close.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureLayout(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg, err := tools.Detect(ctx, tools.Config{
		FFmpegPath:      cfg.FFmpegPath,
		FFprobePath:     cfg.FFprobePath,
		MKVMergePath:    cfg.MKVMergePath,
		MKVPropeditPath: cfg.MKVPropeditPath,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("detect tools: %w", err)
	}

	q := queue.New(st)
	d := &Daemon{
		cfg:   cfg,
		store: st,
		queue: q,
		reg:   reg,
		exec: executor.New(reg, executor.Options{
			DeadlineBase:  cfg.DeadlineBase,
			DeadlinePerGB: cfg.DeadlinePerGB,
		}),
		scan: scanner.New(st, cfg),
		api: api.NewServer(st, q, api.Options{
			AuthToken: cfg.AuthToken,
		}),
		log:      vpolog.WithComponent("daemon"),
		policies: map[string]*policy.Policy{},
	}

	d.pool = worker.New(q, st, worker.Options{
		Workers:           cfg.Workers,
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleThreshold:    cfg.StaleThreshold,
	})
	d.pool.Register(vpotypes.JobKindScan, d.handleScanJob)
	d.pool.Register(vpotypes.JobKindApply, d.handleApplyJob)
	d.pool.Register(vpotypes.JobKindTranscode, d.handleApplyJob)
	d.pool.Register(vpotypes.JobKindMove, d.handleMoveJob)

	if err := d.reloadPolicies(); err != nil {
		d.log.Warn().Err(err).Msg("initial policy load failed")
	}
	return d, nil
}

// Close releases the store. Call after Run returns.
func (d *Daemon) Close() error {
	return d.store.Close()
}

// Run serves until ctx is cancelled, then drains: HTTP stops accepting,
// /health flips to 503, in-flight jobs finish.
func (d *Daemon) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.cfg.ListenAddr,
		Handler:           d.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.log.Info().Str("addr", d.cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		d.api.SetShuttingDown()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return d.pool.Run(gctx)
	})

	g.Go(func() error {
		return d.watchPolicies(gctx)
	})

	err := g.Wait()
	d.log.Info().Msg("daemon stopped")
	return err
}

// Policy returns the named loaded policy.
func (d *Daemon) Policy(name string) (*policy.Policy, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy %q not loaded", name)
	}
	return p, nil
}

// PolicyNames lists the loaded policies in no particular order.
func (d *Daemon) PolicyNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.policies))
	for name := range d.policies {
		names = append(names, name)
	}
	return names
}

func (d *Daemon) reloadPolicies() error {
	loaded, err := policy.LoadDir(d.cfg.PoliciesDir())
	if err != nil {
		return err
	}
	next := make(map[string]*policy.Policy, len(loaded))
	for _, p := range loaded {
		next[p.Name] = p
	}

	d.mu.Lock()
	d.policies = next
	d.mu.Unlock()

	d.log.Info().Int("policies", len(next)).Msg("policies loaded")
	return nil
}

// watchPolicies reloads the policy directory on filesystem changes,
// debounced so an editor's write-then-rename counts once. A broken
// policy file keeps the previous generation active.
func (d *Daemon) watchPolicies(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(d.cfg.PoliciesDir()); err != nil {
		d.log.Warn().Err(err).Msg("cannot watch policy dir")
		<-ctx.Done()
		return nil
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(500*time.Millisecond, func() {
			select {
			case pending <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isPolicyFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.log.Warn().Err(err).Msg("policy watcher error")
		case <-pending:
			if err := d.reloadPolicies(); err != nil {
				d.log.Error().Err(err).Msg("policy reload failed, keeping previous set")
			}
		}
	}
}

func isPolicyFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
