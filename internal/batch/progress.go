package batch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives batch progress. Calls are serialized.
type ProgressCallback interface {
	OnStart(total int)
	OnProgress(done, total int)
	OnError(file string, err error)
	OnComplete()
}

// ConsoleProgress draws a progress bar on a terminal.
type ConsoleProgress struct {
	mu             sync.Mutex
	w              io.Writer
	prefix         string
	width          int
	updateInterval time.Duration
	lastUpdate     time.Time
	startTime      time.Time
	now            func() time.Time
}

// NewConsoleProgress writes to w, or stderr when w is nil.
func NewConsoleProgress(w io.Writer, prefix string) *ConsoleProgress {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgress{
		w:              w,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
		now:            time.Now,
	}
}

// WithUpdateInterval sets how frequently the bar is redrawn.
func (c *ConsoleProgress) WithUpdateInterval(d time.Duration) *ConsoleProgress {
	c.updateInterval = d
	return c
}

func (c *ConsoleProgress) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = c.now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.w, "%s0/%d (0.0%%)\n", c.prefix, total)
}

func (c *ConsoleProgress) OnProgress(done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastUpdate) < c.updateInterval && done < total {
		return
	}
	c.lastUpdate = now
	if total == 0 {
		return
	}

	filled := c.width * done / total
	status := fmt.Sprintf("\r%s[%s%s] %d/%d (%.1f%%)", c.prefix,
		strings.Repeat("█", filled), strings.Repeat("░", c.width-filled),
		done, total, float64(done)/float64(total)*100)

	if elapsed := now.Sub(c.startTime); elapsed > 0 && done > 0 {
		status += fmt.Sprintf(" %.1f/s", float64(done)/elapsed.Seconds())
		if done < total {
			eta := time.Duration(float64(elapsed) * float64(total-done) / float64(done))
			status += fmt.Sprintf(" ETA: %v", eta.Round(time.Second))
		}
	}
	_, _ = fmt.Fprint(c.w, status)
}

func (c *ConsoleProgress) OnError(file string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "\n%sfailed %s: %v\n", c.prefix, file, err)
}

func (c *ConsoleProgress) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "\n%sCompleted in %v\n", c.prefix, c.now().Sub(c.startTime).Round(time.Millisecond))
}

// LogProgress reports progress through slog every interval items.
type LogProgress struct {
	logger    *slog.Logger
	interval  int
	lastLog   int
	startTime time.Time
}

// NewLogProgress logs through logger, or slog.Default() when nil.
func NewLogProgress(logger *slog.Logger, interval int) *LogProgress {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10
	}
	return &LogProgress{logger: logger, interval: interval}
}

func (l *LogProgress) OnStart(total int) {
	l.startTime = time.Now()
	l.lastLog = 0
	l.logger.Info("Batch started", "total", total)
}

func (l *LogProgress) OnProgress(done, total int) {
	if done-l.lastLog < l.interval && done != total {
		return
	}
	l.lastLog = done
	l.logger.Info("Batch progress", "done", done, "total", total,
		"elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgress) OnError(file string, err error) {
	l.logger.Error("Batch item failed", "file", file, "error", err)
}

func (l *LogProgress) OnComplete() {
	l.logger.Info("Batch completed", "elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

// noProgress is used when no callback is configured.
type noProgress struct{}

func (noProgress) OnStart(int)           {}
func (noProgress) OnProgress(int, int)   {}
func (noProgress) OnError(string, error) {}
func (noProgress) OnComplete()           {}
