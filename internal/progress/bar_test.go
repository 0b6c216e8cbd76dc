package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestBarRendersOnCompletion(t *testing.T) {
	var buf bytes.Buffer
	b := NewWithWriter(2, &buf)

	b.Increment("Adele - Hello")
	if buf.Len() != 0 {
		t.Errorf("expected no redraw before the interval, got %q", buf.String())
	}

	b.Increment("Coldplay - Yellow")
	out := buf.String()
	if !strings.Contains(out, "2/2 (100.0%)") {
		t.Errorf("missing counters in %q", out)
	}
	if !strings.Contains(out, "Coldplay - Yellow") {
		t.Errorf("missing suffix in %q", out)
	}

	b.Finish()
	b.Finish()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Finish should end the line")
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Error("Finish should only print once")
	}
}

func TestBarRedrawsAfterInterval(t *testing.T) {
	var buf bytes.Buffer
	b := NewWithWriter(10, &buf)
	now := b.startTime
	b.now = func() time.Time { return now }

	now = now.Add(time.Second)
	b.Increment("")
	if !strings.Contains(buf.String(), "1/10") {
		t.Errorf("expected redraw, got %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("Motörhead - Ace of Spades", 10); got != "Motörhead…" {
		t.Errorf("truncate = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
