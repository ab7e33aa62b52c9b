// SPDX-License-Identifier: MIT

package executor

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// runResult is the outcome of one supervised subprocess run.
type runResult struct {
	stderrTail string
	stats      statsAggregator
	duration   time.Duration
}

const stderrTailLines = 64

// runSupervised executes argv[0] with a drain goroutine on stderr, an
// optional wall-clock deadline, and SIGKILL-on-timeout with a bounded
// wait for the drain to finish. The last lines of stderr are kept for
// error classification.
func (e *Executor) runSupervised(ctx context.Context, argv []string,
	deadline time.Duration, onProgress ProgressFunc) (runResult, error) {

	var res runResult

	runCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	// CommandContext sends SIGKILL when the context expires.
	cmd.WaitDelay = 10 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return res, err
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, err
	}

	var (
		mu   sync.Mutex
		tail []string
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		// ffmpeg terminates status lines with \r.
		sc.Split(scanCRLines)
		for sc.Scan() {
			line := sc.Text()
			if p, ok := parseProgressLine(line); ok {
				res.stats.observe(p)
				safeProgress(onProgress, p)
				continue
			}
			mu.Lock()
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[len(tail)-stderrTailLines:]
			}
			mu.Unlock()
		}
	}()

	waitErr := cmd.Wait()
	// Bounded join: the drain goroutine ends when the pipe closes,
	// which Wait guarantees; the timer only guards pathological cases.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}

	res.duration = time.Since(start)
	mu.Lock()
	res.stderrTail = strings.Join(tail, "\n")
	mu.Unlock()

	if waitErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return res, fmt.Errorf("subprocess exceeded %s deadline", deadline)
		}
		return res, fmt.Errorf("%s: %w", argv[0], waitErr)
	}
	return res, nil
}

// deadlineFor computes base + size×rate; zero base means no deadline.
func (e *Executor) deadlineFor(sizeBytes int64) time.Duration {
	if e.opts.DeadlineBase <= 0 {
		return 0
	}
	gb := float64(sizeBytes) / float64(1<<30)
	return e.opts.DeadlineBase + time.Duration(gb*float64(e.opts.DeadlinePerGB))
}

// scanCRLines splits on \n or \r so ffmpeg's in-place status updates
// arrive as separate lines.
func scanCRLines(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
