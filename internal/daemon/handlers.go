// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/randomparity/vpo-sub005/internal/evaluate"
	"github.com/randomparity/vpo-sub005/internal/executor"
	"github.com/randomparity/vpo-sub005/internal/metrics"
	"github.com/randomparity/vpo-sub005/internal/probe"
	"github.com/randomparity/vpo-sub005/internal/scanner"
	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/vpotypes"
)

// jobPayload is the JSON blob stored with a queued job. Fields are
// kind-specific: Policy for apply/transcode, Destination for move,
// scan flags for scan.
type jobPayload struct {
	Policy      string `json:"policy,omitempty"`
	Destination string `json:"destination,omitempty"`

	Full       bool `json:"full,omitempty"`
	VerifyHash bool `json:"verify_hash,omitempty"`
	Prune      bool `json:"prune,omitempty"`
}

func parsePayload(raw string) (jobPayload, error) {
	var p jobPayload
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("parse job payload: %w", err)
	}
	return p, nil
}

// handleScanJob runs a library scan. The job's file path selects the
// root; empty means all configured roots.
func (d *Daemon) handleScanJob(ctx context.Context, job *store.JobRecord, logf func(level, format string, args ...any)) error {
	payload, err := parsePayload(job.Payload)
	if err != nil {
		return err
	}

	opts := scanner.Options{
		Full:       payload.Full,
		VerifyHash: payload.VerifyHash,
		Prune:      payload.Prune,
	}
	if job.FilePath != "" {
		opts.Roots = []string{job.FilePath}
	}

	sum, err := d.scan.Scan(ctx, opts)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.ScansTotal.WithLabelValues("ok").Inc()
	if n, cerr := d.store.FileCount(ctx); cerr == nil {
		metrics.FilesCataloged.Set(float64(n))
	}

	logf("info", "scan finished: %d scanned, %d added, %d updated, %d pruned, %d errors",
		sum.Scanned, sum.Added, sum.Updated, sum.Pruned, len(sum.Errors))
	for _, e := range sum.Errors {
		logf("warn", "scan error: %s", e)
	}

	if report := filepath.Join(d.cfg.DataDir, "scan_report.json"); d.cfg.DataDir != "" {
		if werr := scanner.WriteReport(report, sum); werr != nil {
			logf("warn", "write scan report: %v", werr)
		}
	}
	return nil
}

// handleApplyJob runs the full pipeline for one file: probe, evaluate
// against the named policy, execute, re-probe, record stats. Serves
// both the apply and transcode job kinds; the kinds differ only in
// scheduling intent.
func (d *Daemon) handleApplyJob(ctx context.Context, job *store.JobRecord, logf func(level, format string, args ...any)) error {
	payload, err := parsePayload(job.Payload)
	if err != nil {
		return err
	}
	if payload.Policy == "" {
		return fmt.Errorf("job carries no policy name")
	}
	pol, err := d.Policy(payload.Policy)
	if err != nil {
		return err
	}

	fi, err := probe.Probe(ctx, d.cfg.FFprobePath, job.FilePath)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	analyses, err := d.store.AnalysesForFile(ctx, job.FilePath)
	if err != nil {
		return fmt.Errorf("load analyses: %w", err)
	}

	p, err := evaluate.Evaluate(pol, fi, analyses)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	for _, w := range p.Warnings {
		logf("warn", "%s", w)
	}
	if p.Empty() {
		logf("info", "file already conforms to policy %s", payload.Policy)
		return nil
	}
	logf("info", "plan has %d actions", len(p.Actions))

	planID, err := d.store.SavePlan(ctx, payload.Policy, p)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	// Queue-driven runs are auto-approved; manual review happens before
	// enqueueing, not after.
	if err := d.store.TransitionPlan(ctx, planID,
		vpotypes.PlanStatusPending, vpotypes.PlanStatusApproved); err != nil {
		return fmt.Errorf("approve plan: %w", err)
	}

	start := time.Now().UTC()
	res, execErr := d.exec.Execute(ctx, p, fi, func(pr executor.Progress) {
		var pct float64
		if fi.Duration > 0 {
			pct = pr.Seconds() / fi.Duration * 100
		}
		detail, _ := json.Marshal(map[string]any{
			"frame":        pr.Frame,
			"fps":          pr.FPS,
			"bitrate_kbps": pr.Bitrate,
			"speed":        pr.Speed,
		})
		if err := d.queue.UpdateProgress(ctx, job.ID, job.WorkerID, pct, string(detail)); err != nil {
			d.log.Debug().Err(err).Str("job", job.ID).Msg("progress update dropped")
		}
		d.log.Debug().
			Str("job", job.ID).
			Float64("percent", pct).
			Int64("frame", pr.Frame).
			Float64("fps", pr.FPS).
			Str("speed", pr.Speed).
			Msg("progress")
	})

	stats := &store.ProcessingStats{
		JobID:     job.ID,
		FilePath:  job.FilePath,
		StartedAt: start,
	}
	if execErr != nil {
		stats.FinishedAt = time.Now().UTC()
		stats.Duration = stats.FinishedAt.Sub(start).Seconds()
		stats.Error = execErr.Error()
		_ = d.store.RecordStats(ctx, stats)
		_ = d.store.TransitionPlan(ctx, planID,
			vpotypes.PlanStatusApproved, vpotypes.PlanStatusFailed)
		return fmt.Errorf("execute: %w", execErr)
	}

	stats.Strategy = string(res.Strategy)
	stats.Encoder = res.Encoder
	stats.EncoderType = res.EncoderType
	stats.FallbackOccurred = res.FallbackOccurred
	stats.FinishedAt = time.Now().UTC()
	stats.Duration = res.Duration.Seconds()
	stats.InputBytes = res.InputBytes
	stats.OutputBytes = res.OutputBytes
	stats.Frames = res.Frames
	stats.MeanFPS = res.MeanFPS
	stats.PeakFPS = res.PeakFPS
	stats.MeanBitrate = res.MeanBitrate
	stats.Success = true
	if err := d.store.RecordStats(ctx, stats); err != nil {
		logf("warn", "record stats: %v", err)
	}
	metrics.ObserveExecution(string(res.Strategy), res.Duration, res.InputBytes-res.OutputBytes)

	if err := d.store.TransitionPlan(ctx, planID,
		vpotypes.PlanStatusApproved, vpotypes.PlanStatusExecuted); err != nil {
		logf("warn", "mark plan executed: %v", err)
	}
	for _, w := range res.Warnings {
		logf("warn", "%s", w)
	}

	// The mutated file needs a fresh probe in the catalog; a container
	// conversion also retires the old path.
	refreshed, err := probe.Probe(ctx, d.cfg.FFprobePath, res.NewPath)
	if err != nil {
		return fmt.Errorf("re-probe after execute: %w", err)
	}
	if _, err := d.store.UpsertFile(ctx, refreshed, ""); err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}
	if res.NewPath != job.FilePath {
		if err := d.store.DeleteFile(ctx, job.FilePath); err != nil {
			logf("warn", "drop old catalog row: %v", err)
		}
		logf("info", "container converted: %s", res.NewPath)
	}

	logf("info", "executed via %s in %.1fs (%d -> %d bytes)",
		res.Strategy, res.Duration.Seconds(), res.InputBytes, res.OutputBytes)
	return nil
}

// handleMoveJob relocates a file and its catalog row.
func (d *Daemon) handleMoveJob(ctx context.Context, job *store.JobRecord, logf func(level, format string, args ...any)) error {
	payload, err := parsePayload(job.Payload)
	if err != nil {
		return err
	}
	if payload.Destination == "" {
		return fmt.Errorf("move job carries no destination")
	}

	dest := payload.Destination
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("destination %s already exists", dest)
	}
	if err := moveFile(job.FilePath, dest); err != nil {
		return err
	}

	// Re-home the catalog row by re-probing at the new path.
	fi, err := probe.Probe(ctx, d.cfg.FFprobePath, dest)
	if err != nil {
		return fmt.Errorf("probe after move: %w", err)
	}
	if _, err := d.store.UpsertFile(ctx, fi, ""); err != nil {
		return err
	}
	if err := d.store.DeleteFile(ctx, job.FilePath); err != nil {
		logf("warn", "drop old catalog row: %v", err)
	}

	logf("info", "moved to %s", dest)
	return nil
}

// moveFile renames, degrading to copy+remove across filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := out.ReadFrom(in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
