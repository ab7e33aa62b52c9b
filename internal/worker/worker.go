// SPDX-License-Identifier: MIT

// Package worker runs the job-processing pool: N claim loops over the
// queue, a heartbeat per running job, and periodic stale-worker
// recovery. Handlers are registered per job kind; the pool owns the
// full claim/heartbeat/release lifecycle so handlers only do the work.
package worker

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	vpolog "github.com/randomparity/vpo-sub005/internal/log"
	"github.com/randomparity/vpo-sub005/internal/metrics"
	"github.com/randomparity/vpo-sub005/internal/queue"
	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/vpotypes"
)

// Handler processes one claimed job. The context outlives pool
// shutdown so an in-flight job can finish; logf appends to the job's
// persistent log.
type Handler func(ctx context.Context, job *store.JobRecord, logf func(level, format string, args ...any)) error

// Options tune the pool.
type Options struct {
	Workers           int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StaleThreshold    time.Duration
}

// Pool coordinates the claim loops. Register all handlers before Run.
type Pool struct {
	queue    *queue.Queue
	store    *store.Store
	opts     Options
	handlers map[vpotypes.JobKind]Handler
	limiter  *rate.Limiter
	log      zerolog.Logger
}

func New(q *queue.Queue, st *store.Store, opts Options) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 5 * time.Minute
	}
	return &Pool{
		queue:    q,
		store:    st,
		opts:     opts,
		handlers: map[vpotypes.JobKind]Handler{},
		// One claim attempt per poll interval across the whole pool
		// keeps the BEGIN IMMEDIATE lock pressure bounded.
		limiter: rate.NewLimiter(rate.Every(opts.PollInterval/time.Duration(opts.Workers)), opts.Workers),
		log:     vpolog.WithComponent("worker"),
	}
}

// Register installs the handler for a job kind. Claimed jobs with no
// handler fail immediately.
func (p *Pool) Register(kind vpotypes.JobKind, h Handler) {
	p.handlers[kind] = h
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs to
// finish before returning.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.opts.Workers; i++ {
		id := workerID(i)
		g.Go(func() error {
			p.claimLoop(gctx, id)
			return nil
		})
	}

	g.Go(func() error {
		p.recoveryLoop(gctx)
		return nil
	})

	return g.Wait()
}

func (p *Pool) claimLoop(ctx context.Context, workerID string) {
	log := p.log.With().Str("worker", workerID).Logger()
	log.Info().Msg("worker started")
	defer log.Info().Msg("worker stopped")

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		job, err := p.queue.ClaimNext(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("claim failed")
			continue
		}
		if job == nil {
			// Empty queue or lock contention: back off one interval.
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.PollInterval):
			}
			continue
		}

		p.runJob(ctx, workerID, job)
	}
}

// runJob drives one claimed job to a terminal state. The handler runs
// under a context detached from pool shutdown so cancellation drains
// rather than aborts.
func (p *Pool) runJob(ctx context.Context, workerID string, job *store.JobRecord) {
	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	jobCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHeartbeat()

	jlog := vpolog.WithJob(job.ID, job.Kind.String()).With().
		Str("worker", workerID).Logger()
	jlog.Info().
		Str("path", job.FilePath).
		Int("attempt", job.Attempts).
		Msg("job claimed")

	go p.heartbeatLoop(jobCtx, job.ID, workerID, jlog)

	logf := func(level, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if err := p.store.AppendJobLog(jobCtx, job.ID, level, msg); err != nil {
			jlog.Warn().Err(err).Msg("append job log failed")
		}
	}

	start := time.Now()
	err := p.dispatch(jobCtx, job, logf, jlog)
	stopHeartbeat()

	final := vpotypes.JobStatusCompleted
	errMsg := ""
	if err != nil {
		final = vpotypes.JobStatusFailed
		errMsg = err.Error()
		jlog.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
	} else {
		jlog.Info().Dur("elapsed", time.Since(start)).Msg("job completed")
	}
	metrics.ObserveJob(job.Kind.String(), final.String(), time.Since(start))

	// Release must not race pool shutdown.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if rerr := p.queue.Release(releaseCtx, job.ID, workerID, final, errMsg); rerr != nil {
		jlog.Error().Err(rerr).Msg("release failed")
	}
}

// dispatch runs the handler with panic isolation: a panicking handler
// fails its job instead of killing the worker.
func (p *Pool) dispatch(ctx context.Context, job *store.JobRecord,
	logf func(level, format string, args ...any), jlog zerolog.Logger) (err error) {

	h, ok := p.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("no handler registered for job kind %q", job.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			jlog.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job, logf)
}

func (p *Pool) heartbeatLoop(ctx context.Context, jobID, workerID string, jlog zerolog.Logger) {
	t := time.NewTicker(p.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.queue.Heartbeat(ctx, jobID, workerID); err != nil {
				if ctx.Err() != nil {
					return
				}
				jlog.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// recoveryLoop periodically requeues jobs whose workers stopped
// heartbeating, and refreshes the queue-depth gauge.
func (p *Pool) recoveryLoop(ctx context.Context) {
	interval := p.opts.StaleThreshold / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.queue.RecoverStale(ctx, p.opts.StaleThreshold)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Warn().Err(err).Msg("stale recovery failed")
				}
				continue
			}
			if n > 0 {
				metrics.StaleRecovered.Add(float64(n))
				p.log.Warn().Int("recovered", n).Msg("recovered stale jobs")
			}
			if depth, err := p.queue.Depth(ctx); err == nil {
				metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}

func workerID(n int) string {
	host, err := os.Hostname()
	if err != nil {
		host = "vpo"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), n)
}
