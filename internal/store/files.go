// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/randomparity/vpo-sub005/internal/probe"
)

// FileRecord is one catalog row plus its probed tracks.
type FileRecord struct {
	ID          int64
	Path        string
	Container   string
	Size        int64
	ModTime     time.Time
	Duration    float64
	ContentHash string
	ScannedAt   time.Time
	Tracks      []probe.Track
}

// UpsertFile stores the probe result for one file, replacing any
// previous track rows, in a single transaction.
func (s *Store) UpsertFile(ctx context.Context, fi *probe.FileInfo, contentHash string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
	INSERT INTO files (path, container, size_bytes, mod_time, duration_seconds, content_hash, scanned_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		container = excluded.container,
		size_bytes = excluded.size_bytes,
		mod_time = excluded.mod_time,
		duration_seconds = excluded.duration_seconds,
		content_hash = excluded.content_hash,
		scanned_at = excluded.scanned_at
	`, fi.Path, fi.Container, fi.Size, formatTime(fi.ModTime), fi.Duration, contentHash, nowUTC())
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		if err := tx.QueryRowContext(ctx, `SELECT id FROM files WHERE path = ?`, fi.Path).Scan(&id); err != nil {
			return 0, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracks WHERE file_id = ?`, id); err != nil {
		return 0, err
	}
	for _, t := range fi.Tracks {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO tracks (
			file_id, track_index, kind, codec, language, title,
			is_default, is_forced, channels, channel_layout,
			width, height, frame_rate,
			color_transfer, color_primaries, color_space, color_range
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, t.Index, string(t.Kind), t.Codec, t.Language, t.Title,
			boolInt(t.Default), boolInt(t.Forced), t.Channels, t.ChannelLayout,
			t.Width, t.Height, t.FrameRate,
			t.ColorTransfer, t.ColorPrimaries, t.ColorSpace, t.ColorRange)
		if err != nil {
			return 0, err
		}
	}

	return id, tx.Commit()
}

// GetFileByPath loads one file row with its tracks, or nil when the
// path is not cataloged.
func (s *Store) GetFileByPath(ctx context.Context, path string) (*FileRecord, error) {
	var (
		rec             FileRecord
		modTime, scanAt string
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT id, path, container, size_bytes, mod_time, duration_seconds, content_hash, scanned_at
	FROM files WHERE path = ?
	`, path).Scan(&rec.ID, &rec.Path, &rec.Container, &rec.Size, &modTime,
		&rec.Duration, &rec.ContentHash, &scanAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.ModTime = parseTime(modTime)
	rec.ScannedAt = parseTime(scanAt)

	rec.Tracks, err = s.tracksForFile(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetFileByID loads one file row with its tracks by rowid.
func (s *Store) GetFileByID(ctx context.Context, id int64) (*FileRecord, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT path FROM files WHERE id = ?`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetFileByPath(ctx, path)
}

func (s *Store) tracksForFile(ctx context.Context, fileID int64) ([]probe.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT track_index, kind, codec, language, title,
	       is_default, is_forced, channels, channel_layout,
	       width, height, frame_rate,
	       color_transfer, color_primaries, color_space, color_range
	FROM tracks WHERE file_id = ? ORDER BY track_index
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tracks []probe.Track
	for rows.Next() {
		var (
			t                  probe.Track
			kind               string
			isDefault, isForce int
		)
		if err := rows.Scan(&t.Index, &kind, &t.Codec, &t.Language, &t.Title,
			&isDefault, &isForce, &t.Channels, &t.ChannelLayout,
			&t.Width, &t.Height, &t.FrameRate,
			&t.ColorTransfer, &t.ColorPrimaries, &t.ColorSpace, &t.ColorRange); err != nil {
			return nil, err
		}
		t.Kind = probe.TrackKind(kind)
		t.Default = isDefault != 0
		t.Forced = isForce != 0
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// ListPaths returns every cataloged path, for prune sweeps.
func (s *Store) ListPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// DeleteFile removes a file row and its tracks. Tracks are deleted
// explicitly because foreign keys are not enforced on every SQLite
// build.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
	DELETE FROM tracks WHERE file_id IN (SELECT id FROM files WHERE path = ?)`, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return err
	}
	return tx.Commit()
}

// FileCount reports catalog size, for stats summaries.
func (s *Store) FileCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
