package common

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMetricsCounts(t *testing.T) {
	m := NewMetrics()
	m.SetTotalBytes(100)
	m.Start()
	m.AddFrame(30, false)
	m.AddFrame(20, true)
	m.AddFrame(0, true)
	m.IncFailure()
	m.Stop()
	s := m.Snapshot()
	if s.Frames != 2 || s.Legacy != 1 || s.Extended != 1 || s.Failures != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Bytes != 50 || s.Completion() != 0.5 {
		t.Fatalf("bytes=%d completion=%v", s.Bytes, s.Completion())
	}
	if d := m.Snapshot().Duration; d != s.Duration {
		t.Fatalf("duration moved after Stop: %v vs %v", d, s.Duration)
	}
}

func TestSnapshotRates(t *testing.T) {
	s := MetricsSnapshot{Duration: 2 * time.Second, Bytes: 4000, Frames: 10, TotalBytes: 1000}
	if s.ThroughputBytesPerSecond() != 2000 || s.FramesPerSecond() != 5 {
		t.Fatalf("rates %v %v", s.ThroughputBytesPerSecond(), s.FramesPerSecond())
	}
	if s.Completion() != 1 {
		t.Fatalf("completion should cap at 1, got %v", s.Completion())
	}
	if (MetricsSnapshot{}).ThroughputBytesPerSecond() != 0 {
		t.Fatalf("zero duration throughput should be 0")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:     "512 B",
		2048:    "2.00 KiB",
		5 << 20: "5.00 MiB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatProgressLine(t *testing.T) {
	line := formatProgressLine(MetricsSnapshot{Bytes: 512, TotalBytes: 1024, Frames: 3})
	if !strings.HasPrefix(line, "Progress:  50.00%") || !strings.Contains(line, "3 frames") {
		t.Fatalf("line = %q", line)
	}
	line = formatProgressLine(MetricsSnapshot{Bytes: 10, Frames: 1})
	if !strings.HasPrefix(line, "Processed: 10 B 1 frames") {
		t.Fatalf("line = %q", line)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStartProgressPrinter(t *testing.T) {
	m := NewMetrics()
	m.SetTotalBytes(10)
	m.Start()
	m.AddFrame(5, false)
	var out lockedBuffer
	stop := StartProgressPrinter(&out, m, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	stop()
	stop()
	if !strings.Contains(out.String(), "Progress:") {
		t.Fatalf("no progress written: %q", out.String())
	}
	if !strings.HasSuffix(out.String(), "\r\n") {
		t.Fatalf("progress line not cleared: %q", out.String())
	}
	StartProgressPrinter(nil, m, 0)()
}
