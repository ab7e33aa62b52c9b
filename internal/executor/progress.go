// SPDX-License-Identifier: MIT

package executor

import (
	"regexp"
	"strconv"
	"strings"
)

// Progress is one parsed ffmpeg status line.
type Progress struct {
	Frame   int64
	FPS     float64
	Bitrate float64 // kbit/s
	Time    string
	Speed   string
}

// ProgressFunc receives progress updates during a run. Callbacks are
// invoked from the stderr drain goroutine and are panic-isolated.
type ProgressFunc func(Progress)

// Seconds converts the HH:MM:SS.ss time field to seconds; zero when
// the field is absent or malformed.
func (p Progress) Seconds() float64 {
	parts := strings.Split(p.Time, ":")
	if len(parts) != 3 {
		return 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return float64(h*3600+m*60) + s
}

// progressRe tokenizes ffmpeg's "frame= 123 fps= 45 ..." status lines;
// ffmpeg pads values with spaces after the equals sign.
var progressRe = regexp.MustCompile(`(\w+)=\s*([^\s]+)`)

// parseProgressLine extracts a Progress from an ffmpeg stderr line.
// Returns false for non-status lines.
func parseProgressLine(line string) (Progress, bool) {
	if !strings.Contains(line, "frame=") && !strings.Contains(line, "time=") {
		return Progress{}, false
	}
	var (
		p     Progress
		found bool
	)
	for _, m := range progressRe.FindAllStringSubmatch(line, -1) {
		key, val := m[1], m[2]
		switch key {
		case "frame":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				p.Frame = n
				found = true
			}
		case "fps":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				p.FPS = f
				found = true
			}
		case "bitrate":
			if f, err := strconv.ParseFloat(strings.TrimSuffix(val, "kbits/s"), 64); err == nil {
				p.Bitrate = f
				found = true
			}
		case "time":
			p.Time = val
			found = true
		case "speed":
			p.Speed = val
		}
	}
	return p, found
}

// statsAggregator folds progress samples into the run summary.
type statsAggregator struct {
	samples     int64
	fpsSamples  int64
	sumFPS      float64
	peakFPS     float64
	brSamples   int64
	sumBitrate  float64
	finalFrame  int64
}

func (a *statsAggregator) observe(p Progress) {
	a.samples++
	if p.FPS > 0 {
		a.fpsSamples++
		a.sumFPS += p.FPS
		if p.FPS > a.peakFPS {
			a.peakFPS = p.FPS
		}
	}
	if p.Bitrate > 0 {
		a.brSamples++
		a.sumBitrate += p.Bitrate
	}
	if p.Frame > a.finalFrame {
		a.finalFrame = p.Frame
	}
}

func (a *statsAggregator) meanFPS() float64 {
	if a.fpsSamples == 0 {
		return 0
	}
	return a.sumFPS / float64(a.fpsSamples)
}

func (a *statsAggregator) meanBitrate() float64 {
	if a.brSamples == 0 {
		return 0
	}
	return a.sumBitrate / float64(a.brSamples)
}

// safeProgress shields the drain goroutine from a panicking callback.
func safeProgress(fn ProgressFunc, p Progress) {
	if fn == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(p)
}
