// Package progress draws a single-line progress bar for long CLI runs
// such as replaying the RDS log.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	barWidth    = 40
	redrawEvery = 500 * time.Millisecond
	maxSuffix   = 40
)

// Bar represents a simple progress bar
type Bar struct {
	w         io.Writer
	total     int
	current   int
	suffix    string
	mu        sync.Mutex
	startTime time.Time
	lastPrint time.Time
	now       func() time.Time
	done      bool
}

// New creates a bar writing to stdout.
func New(total int) *Bar {
	return NewWithWriter(total, os.Stdout)
}

// NewWithWriter creates a bar writing to w.
func NewWithWriter(total int, w io.Writer) *Bar {
	now := time.Now()
	return &Bar{
		w:         w,
		total:     total,
		startTime: now,
		lastPrint: now,
		now:       time.Now,
	}
}

// Increment increases the progress counter and sets the text shown after
// the counters, usually the item just finished.
func (b *Bar) Increment(suffix string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	b.suffix = suffix

	// Update display every 500ms or when complete
	now := b.now()
	if now.Sub(b.lastPrint) > redrawEvery || b.current >= b.total {
		b.render()
		b.lastPrint = now
	}
}

// Finish marks the progress as complete
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.done {
		b.current = b.total
		b.render()
		fmt.Fprintln(b.w) // New line after completion
		b.done = true
	}
}

// render displays the progress bar
func (b *Bar) render() {
	if b.done || b.total <= 0 {
		return
	}

	percentage := float64(b.current) / float64(b.total) * 100
	elapsed := b.now().Sub(b.startTime)

	// Calculate ETA
	var eta time.Duration
	if b.current > 0 {
		avgTime := elapsed / time.Duration(b.current)
		remaining := b.total - b.current
		eta = avgTime * time.Duration(remaining)
	}

	filled := barWidth * b.current / b.total
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(b.w, "\r[%s] %d/%d (%.1f%%) - Elapsed: %s - ETA: %s %s   ",
		bar,
		b.current,
		b.total,
		percentage,
		formatDuration(elapsed),
		formatDuration(eta),
		truncate(b.suffix, maxSuffix),
	)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
