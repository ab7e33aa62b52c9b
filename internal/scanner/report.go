// SPDX-License-Identifier: MIT

package scanner

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/renameio/v2"
)

// scanReport is the durable record of the last completed scan, written
// next to the database so operators can inspect it without the CLI.
type scanReport struct {
	FinishedAt time.Time `json:"finished_at"`
	Summary    *Summary  `json:"summary"`
}

// WriteReport atomically persists the scan summary: temp file, fsync,
// rename. A crash mid-write never leaves a torn report.
func WriteReport(path string, sum *Summary) error {
	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending report: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	enc := json.NewEncoder(pf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(scanReport{FinishedAt: time.Now().UTC(), Summary: sum}); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}
