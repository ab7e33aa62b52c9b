// SPDX-License-Identifier: MIT

package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// migrations are applied in order; _meta.schema_version records the
// last applied index + 1. Entries are append-only.
var migrations = []string{
	// 1: core catalog and queue.
	`
	CREATE TABLE IF NOT EXISTS _meta (
		schema_version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		container TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		mod_time TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		scanned_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_files_scanned_at ON files(scanned_at);

	CREATE TABLE IF NOT EXISTS tracks (
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		track_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		codec TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'und',
		title TEXT NOT NULL DEFAULT '',
		is_default INTEGER NOT NULL DEFAULT 0,
		is_forced INTEGER NOT NULL DEFAULT 0,
		channels INTEGER NOT NULL DEFAULT 0,
		channel_layout TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		frame_rate TEXT NOT NULL DEFAULT '',
		color_transfer TEXT NOT NULL DEFAULT '',
		color_primaries TEXT NOT NULL DEFAULT '',
		color_space TEXT NOT NULL DEFAULT '',
		color_range TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (file_id, track_index)
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		file_path TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'queued'
			CHECK(status IN ('queued', 'running', 'completed', 'failed', 'cancelled')),
		attempts INTEGER NOT NULL DEFAULT 0,
		worker_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT NOT NULL DEFAULT '',
		heartbeat_at TEXT NOT NULL DEFAULT '',
		finished_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_priority ON jobs(status, priority DESC, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_file_path ON jobs(file_path);

	CREATE TABLE IF NOT EXISTS job_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		ts TEXT NOT NULL,
		level TEXT NOT NULL DEFAULT 'info',
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id, id);
	`,

	// 2: plans and processing statistics.
	`
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		policy_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK(status IN ('pending', 'approved', 'rejected', 'executed', 'failed')),
		plan_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plans_file ON plans(file_path, created_at);

	CREATE TABLE IF NOT EXISTS processing_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		encoder TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		input_bytes INTEGER NOT NULL DEFAULT 0,
		output_bytes INTEGER NOT NULL DEFAULT 0,
		frames INTEGER NOT NULL DEFAULT 0,
		mean_fps REAL NOT NULL DEFAULT 0,
		peak_fps REAL NOT NULL DEFAULT 0,
		mean_bitrate_kbps REAL NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_stats_started ON processing_stats(started_at);
	`,

	// 3: side-channel analyses.
	`
	CREATE TABLE IF NOT EXISTS language_analysis_results (
		file_path TEXT NOT NULL,
		track_index INTEGER NOT NULL,
		language TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		analyzed_at TEXT NOT NULL,
		PRIMARY KEY (file_path, track_index)
	);

	CREATE TABLE IF NOT EXISTS language_segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		track_index INTEGER NOT NULL,
		language TEXT NOT NULL,
		start_seconds REAL NOT NULL,
		end_seconds REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_segments_file ON language_segments(file_path, track_index);

	CREATE TABLE IF NOT EXISTS track_classifications (
		file_path TEXT NOT NULL,
		track_index INTEGER NOT NULL,
		original INTEGER NOT NULL DEFAULT 0,
		class TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (file_path, track_index)
	);

	CREATE TABLE IF NOT EXISTS plugin_metadata (
		file_path TEXT NOT NULL,
		plugin TEXT NOT NULL,
		field TEXT NOT NULL,
		value_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (file_path, plugin, field)
	);
	`,

	// 4: claim order (lower priority value runs sooner), job progress,
	// encoder identity in stats.
	`
	DROP INDEX IF EXISTS idx_jobs_status_priority;
	CREATE INDEX IF NOT EXISTS idx_jobs_status_priority ON jobs(status, priority, created_at);

	ALTER TABLE jobs ADD COLUMN progress REAL NOT NULL DEFAULT 0;
	ALTER TABLE jobs ADD COLUMN progress_detail TEXT NOT NULL DEFAULT '';

	ALTER TABLE processing_stats ADD COLUMN encoder_type TEXT NOT NULL DEFAULT '';
	ALTER TABLE processing_stats ADD COLUMN fallback_occurred INTEGER NOT NULL DEFAULT 0;
	`,
}

func (s *Store) migrate() error {
	current, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)",
			current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := setSchemaVersion(tx, i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT schema_version FROM _meta LIMIT 1`).Scan(&v)
	if err != nil {
		// A fresh database has no _meta table yet.
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, nil
	}
	return v, nil
}

func setSchemaVersion(tx *sql.Tx, v int) error {
	if _, err := tx.Exec(`DELETE FROM _meta`); err != nil {
		return err
	}
	_, err := tx.Exec(`INSERT INTO _meta (schema_version) VALUES (?)`, v)
	return err
}

// SchemaVersion reports the current schema version, for `vpo init` and
// diagnostics output.
func (s *Store) SchemaVersion() (int, error) {
	return s.schemaVersion()
}
