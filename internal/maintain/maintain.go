// SPDX-License-Identifier: MIT

// Package maintain implements the housekeeping pass: compress aged log
// files, delete expired ones, purge old job history from the store,
// and sweep orphaned executor temp files out of the library.
package maintain

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/randomparity/vpo-sub005/internal/config"
	vpolog "github.com/randomparity/vpo-sub005/internal/log"
	"github.com/randomparity/vpo-sub005/internal/store"
)

// Report summarizes one maintenance pass.
type Report struct {
	LogsCompressed int      `json:"logs_compressed"`
	LogsDeleted    int      `json:"logs_deleted"`
	JobsPurged     int64    `json:"jobs_purged"`
	JobLogsPurged  int64    `json:"job_logs_purged"`
	TempsRemoved   int      `json:"temps_removed"`
	Errors         []string `json:"errors,omitempty"`
}

// Runner performs maintenance against one data dir and store.
type Runner struct {
	cfg   *config.Config
	store *store.Store
	log   zerolog.Logger

	// orphanAge guards against sweeping a temp file an executor is
	// actively writing.
	orphanAge time.Duration
}

func New(cfg *config.Config, st *store.Store) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     st,
		log:       vpolog.WithComponent("maintain"),
		orphanAge: time.Hour,
	}
}

// Run executes the full pass. Individual failures are collected, not
// fatal.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep := &Report{}
	r.rotateLogs(rep)
	r.purgeHistory(ctx, rep)
	r.sweepOrphans(rep)

	r.log.Info().
		Int("compressed", rep.LogsCompressed).
		Int("deleted", rep.LogsDeleted).
		Int64("jobs_purged", rep.JobsPurged).
		Int("temps_removed", rep.TempsRemoved).
		Int("errors", len(rep.Errors)).
		Msg("maintenance complete")
	return rep, nil
}

// rotateLogs gzips .log files older than the compression window and
// deletes anything older than the deletion window.
func (r *Runner) rotateLogs(rep *Report) {
	dir := r.cfg.LogsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			rep.Errors = append(rep.Errors, fmt.Sprintf("read logs dir: %v", err))
		}
		return
	}

	now := time.Now()
	compressBefore := now.AddDate(0, 0, -r.cfg.LogCompressionDays)
	deleteBefore := now.AddDate(0, 0, -r.cfg.LogDeletionDays)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		isLog := strings.HasSuffix(name, ".log")
		isGz := strings.HasSuffix(name, ".log.gz")
		if !isLog && !isGz {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)

		switch {
		case info.ModTime().Before(deleteBefore):
			if err := os.Remove(path); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("delete %s: %v", name, err))
				continue
			}
			rep.LogsDeleted++
		case isLog && info.ModTime().Before(compressBefore):
			if err := compressFile(path); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("compress %s: %v", name, err))
				continue
			}
			rep.LogsCompressed++
		}
	}
}

// purgeHistory trims job rows and log lines past the deletion window.
func (r *Runner) purgeHistory(ctx context.Context, rep *Report) {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.cfg.LogDeletionDays)

	n, err := r.store.PurgeJobLogsBefore(ctx, cutoff)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("purge job logs: %v", err))
	} else {
		rep.JobLogsPurged = n
	}

	n, err = r.store.PurgeFinishedJobsBefore(ctx, cutoff)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("purge jobs: %v", err))
	} else {
		rep.JobsPurged = n
	}
}

// sweepOrphans removes executor work files left behind by crashed
// runs. Only files past the orphan age are touched.
func (r *Runner) sweepOrphans(rep *Report) {
	cutoff := time.Now().Add(-r.orphanAge)
	for _, root := range r.cfg.LibraryRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 {
				if target, serr := os.Stat(path); serr == nil && target.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !isOrphan(d.Name()) {
				return nil
			}
			info, ierr := d.Info()
			if ierr != nil || info.ModTime().After(cutoff) {
				return nil
			}
			if rerr := os.Remove(path); rerr != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("remove %s: %v", path, rerr))
				return nil
			}
			rep.TempsRemoved++
			r.log.Debug().Str("path", path).Msg("removed orphan work file")
			return nil
		})
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("sweep %s: %v", root, err))
		}
	}
}

func isOrphan(name string) bool {
	return strings.HasPrefix(name, ".vpo_temp_") || strings.HasSuffix(name, ".vpo_staging")
}

// compressFile gzips path to path.gz and removes the original. The .gz
// keeps the source mtime so the deletion window still applies.
func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(path)
	gz.ModTime = info.ModTime()

	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		_ = out.Close()
		_ = os.Remove(path + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(path+".gz", time.Now(), info.ModTime()); err != nil {
		return err
	}
	return os.Remove(path)
}
