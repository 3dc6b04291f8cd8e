package common

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// Metrics tracks conversion progress. It is safe to read from a progress
// goroutine while a scan updates it.
type Metrics struct {
	mu      sync.Mutex
	started time.Time
	stopped time.Time
	c       MetricsSnapshot
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Start marks the beginning of a scan. Later calls are no-ops.
func (m *Metrics) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started.IsZero() {
		m.started = time.Now()
	}
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started.IsZero() && m.stopped.IsZero() {
		m.stopped = time.Now()
	}
}

// AddFrame records one decoded frame of size bytes, including any storage
// header in front of it.
func (m *Metrics) AddFrame(size int64, extended bool) {
	if size <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Bytes += size
	m.c.Frames++
	if extended {
		m.c.Extended++
	} else {
		m.c.Legacy++
	}
}

func (m *Metrics) IncFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Failures++
}

func (m *Metrics) SetTotalBytes(total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.TotalBytes = max(total, 0)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.c
	switch {
	case m.started.IsZero():
	case m.stopped.IsZero():
		s.Duration = time.Since(m.started)
	default:
		s.Duration = m.stopped.Sub(m.started)
	}
	return s
}

type MetricsSnapshot struct {
	Duration   time.Duration
	Bytes      int64
	TotalBytes int64
	Frames     int64
	Legacy     int64
	Extended   int64
	Failures   int64
}

func (s MetricsSnapshot) perSecond(n int64) float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(n) / s.Duration.Seconds()
}

func (s MetricsSnapshot) ThroughputBytesPerSecond() float64 {
	return s.perSecond(s.Bytes)
}

func (s MetricsSnapshot) FramesPerSecond() float64 {
	return s.perSecond(s.Frames)
}

// Completion is the consumed fraction of TotalBytes, within [0, 1].
func (s MetricsSnapshot) Completion() float64 {
	if s.TotalBytes <= 0 || s.Bytes <= 0 {
		return 0
	}
	return math.Min(float64(s.Bytes)/float64(s.TotalBytes), 1)
}

var byteUnits = []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// FormatBytes renders b with binary prefixes, e.g. "2.00 KiB".
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b) / 1024
	i := 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", v, byteUnits[i])
}

func formatProgressLine(s MetricsSnapshot) string {
	var b strings.Builder
	if s.TotalBytes > 0 {
		fmt.Fprintf(&b, "Progress: %6.2f%% (%s / %s)", s.Completion()*100, FormatBytes(s.Bytes), FormatBytes(s.TotalBytes))
	} else {
		fmt.Fprintf(&b, "Processed: %s", FormatBytes(s.Bytes))
	}
	fmt.Fprintf(&b, " %d frames %.2f MiB/s", s.Frames, s.ThroughputBytesPerSecond()/(1<<20))
	return b.String()
}

// progressLine redraws one terminal line in place.
type progressLine struct {
	w     io.Writer
	width int
}

func (p *progressLine) draw(line string) {
	if pad := p.width - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	fmt.Fprintf(p.w, "\r%s", line)
	p.width = len(line)
}

func (p *progressLine) clear() {
	if p.width > 0 {
		fmt.Fprintf(p.w, "\r%s\r\n", strings.Repeat(" ", p.width))
	}
}

// StartProgressPrinter redraws the progress of m on w every interval. The
// returned func stops it and clears the line; it may be called more than once.
func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	p := &progressLine{w: w}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.draw(formatProgressLine(m.Snapshot()))
			case <-done:
				p.clear()
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-finished
	}
}
