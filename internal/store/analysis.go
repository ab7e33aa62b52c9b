// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"

	"github.com/randomparity/vpo-sub005/internal/analysis"
)

// SaveLanguageResult upserts a primary-language detection result.
func (s *Store) SaveLanguageResult(ctx context.Context, filePath string, r analysis.LanguageResult) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO language_analysis_results (file_path, track_index, language, confidence, analyzed_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(file_path, track_index) DO UPDATE SET
		language = excluded.language,
		confidence = excluded.confidence,
		analyzed_at = excluded.analyzed_at
	`, filePath, r.TrackIndex, r.Language, r.Confidence, nowUTC())
	return err
}

// SaveSegments replaces the language segments for one track.
func (s *Store) SaveSegments(ctx context.Context, filePath string, trackIndex int, segs []analysis.Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
	DELETE FROM language_segments WHERE file_path = ? AND track_index = ?
	`, filePath, trackIndex); err != nil {
		return err
	}
	for _, seg := range segs {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO language_segments (file_path, track_index, language, start_seconds, end_seconds)
		VALUES (?, ?, ?, ?, ?)
		`, filePath, trackIndex, seg.Language, seg.Start, seg.End); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveClassification upserts an original/dubbed classification.
func (s *Store) SaveClassification(ctx context.Context, filePath string, c analysis.Classification) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO track_classifications (file_path, track_index, original, class)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(file_path, track_index) DO UPDATE SET
		original = excluded.original,
		class = excluded.class
	`, filePath, c.TrackIndex, boolInt(c.Original), string(c.Class))
	return err
}

// SavePluginField upserts one plugin metadata field.
func (s *Store) SavePluginField(ctx context.Context, filePath, plugin, field string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO plugin_metadata (file_path, plugin, field, value_json, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(file_path, plugin, field) DO UPDATE SET
		value_json = excluded.value_json,
		updated_at = excluded.updated_at
	`, filePath, plugin, field, string(value), nowUTC())
	return err
}

// PluginNames lists distinct plugins that have stored metadata.
func (s *Store) PluginNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT DISTINCT plugin FROM plugin_metadata ORDER BY plugin
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AnalysesForFile assembles the full analysis set consumed by the
// evaluator: languages, segments, classifications, and plugin fields.
func (s *Store) AnalysesForFile(ctx context.Context, filePath string) (*analysis.Set, error) {
	set := &analysis.Set{
		Languages:       map[int]analysis.LanguageResult{},
		Segments:        map[int][]analysis.Segment{},
		Classifications: map[int]analysis.Classification{},
		Plugins:         map[string]map[string]json.RawMessage{},
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT track_index, language, confidence FROM language_analysis_results WHERE file_path = ?
	`, filePath)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var r analysis.LanguageResult
		if err := rows.Scan(&r.TrackIndex, &r.Language, &r.Confidence); err != nil {
			_ = rows.Close()
			return nil, err
		}
		set.Languages[r.TrackIndex] = r
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
	SELECT track_index, language, start_seconds, end_seconds
	FROM language_segments WHERE file_path = ? ORDER BY track_index, start_seconds
	`, filePath)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seg analysis.Segment
		if err := rows.Scan(&seg.TrackIndex, &seg.Language, &seg.Start, &seg.End); err != nil {
			_ = rows.Close()
			return nil, err
		}
		set.Segments[seg.TrackIndex] = append(set.Segments[seg.TrackIndex], seg)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
	SELECT track_index, original, class FROM track_classifications WHERE file_path = ?
	`, filePath)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			c        analysis.Classification
			original int
			class    string
		)
		if err := rows.Scan(&c.TrackIndex, &original, &class); err != nil {
			_ = rows.Close()
			return nil, err
		}
		c.Original = original != 0
		c.Class = analysis.TrackClass(class)
		set.Classifications[c.TrackIndex] = c
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
	SELECT plugin, field, value_json FROM plugin_metadata WHERE file_path = ?
	`, filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var plugin, field, value string
		if err := rows.Scan(&plugin, &field, &value); err != nil {
			return nil, err
		}
		if set.Plugins[plugin] == nil {
			set.Plugins[plugin] = map[string]json.RawMessage{}
		}
		set.Plugins[plugin][field] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The content language rides on the lowest-index original track
	// that has a language result.
	bestIdx := -1
	for idx, c := range set.Classifications {
		if !c.Original {
			continue
		}
		if _, ok := set.Languages[idx]; !ok {
			continue
		}
		if bestIdx < 0 || idx < bestIdx {
			bestIdx = idx
		}
	}
	if bestIdx >= 0 {
		set.ContentLanguage = set.Languages[bestIdx].Language
	}
	return set, nil
}
