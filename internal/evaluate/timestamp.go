// SPDX-License-Identifier: MIT

package evaluate

import (
	"time"

	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/policy"
)

// releaseDateLayouts are the formats plugin metadata dates arrive in.
var releaseDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006",
}

// planTimestamp emits SET_FILE_MTIME for plans that otherwise mutate
// the file. Replacing a file resets its mtime to now, so mode "now"
// needs no action and "preserve" pins the pre-run timestamp.
func (e *evaluator) planTimestamp(tp *policy.TimestampPolicy) {
	if e.plan.Empty() {
		return
	}

	switch tp.Mode {
	case "preserve":
		e.emitMtime(e.fi.ModTime)

	case "now":
		// The atomic replace already stamps the current time.

	case "release_date":
		raw, ok := e.analyses.PluginFieldString(tp.Plugin, tp.Field)
		if ok {
			if ts, err := parseReleaseDate(raw); err == nil {
				e.emitMtime(ts)
				return
			}
			e.warnf("file timestamp: plugin %s field %s value %q is not a date", tp.Plugin, tp.Field, raw)
		}
		switch tp.Fallback {
		case "preserve":
			e.emitMtime(e.fi.ModTime)
		case "now", "skip", "":
		}
	}
}

func (e *evaluator) emitMtime(ts time.Time) {
	e.plan.Actions = append(e.plan.Actions, plan.Action{
		Kind:  plan.SetFileMtime,
		Mtime: ts.UTC().Format(time.RFC3339),
	})
}

func parseReleaseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range releaseDateLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
