// Package bandwidth estimates network throughput from completed transfers.
package bandwidth

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindowSize is the default number of transfers in the estimate.
const DefaultWindowSize = 20

// transfer is one completed read of a response body.
type transfer struct {
	bytes   int64
	elapsed time.Duration
}

// Meter tracks bytes transferred and the throughput of recent transfers.
// It is safe for concurrent use.
type Meter struct {
	totalBytes atomic.Int64

	mu         sync.RWMutex
	samples    []transfer
	windowSize int
	now        func() time.Time
}

// NewMeter creates a meter averaging over the last windowSize transfers.
func NewMeter(windowSize int) *Meter {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Meter{
		samples:    make([]transfer, 0, windowSize),
		windowSize: windowSize,
		now:        time.Now,
	}
}

// Record adds a completed transfer. Transfers with no elapsed time are
// counted in the totals but not the estimate.
func (m *Meter) Record(bytes int64, elapsed time.Duration) {
	if bytes <= 0 {
		return
	}
	m.totalBytes.Add(bytes)
	if elapsed <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, transfer{bytes: bytes, elapsed: elapsed})
	if len(m.samples) > m.windowSize {
		m.samples = m.samples[len(m.samples)-m.windowSize:]
	}
}

// EstimateBps returns the windowed throughput in bits per second, or 0
// before the first timed transfer.
func (m *Meter) EstimateBps() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bytes int64
	var elapsed time.Duration
	for _, s := range m.samples {
		bytes += s.bytes
		elapsed += s.elapsed
	}
	if elapsed <= 0 {
		return 0
	}
	return int64(float64(bytes*8) / elapsed.Seconds())
}

// TotalBytes returns the cumulative bytes transferred.
func (m *Meter) TotalBytes() int64 {
	return m.totalBytes.Load()
}

// SampleCount returns the number of transfers in the window.
func (m *Meter) SampleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// History returns the throughput of each windowed transfer in bits per second.
func (m *Meter) History() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.samples) == 0 {
		return nil
	}
	history := make([]int64, len(m.samples))
	for i, s := range m.samples {
		history[i] = int64(float64(s.bytes*8) / s.elapsed.Seconds())
	}
	return history
}

// Reset clears all tracking data.
func (m *Meter) Reset() {
	m.totalBytes.Store(0)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = m.samples[:0]
}

// Reader wraps rc so the bytes read and the time from wrapping to Close are
// recorded as one transfer.
func (m *Meter) Reader(rc io.ReadCloser) io.ReadCloser {
	return &meteredReader{rc: rc, meter: m, start: m.now()}
}

type meteredReader struct {
	rc     io.ReadCloser
	meter  *Meter
	start  time.Time
	n      int64
	closed bool
}

func (r *meteredReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *meteredReader) Close() error {
	if !r.closed {
		r.closed = true
		r.meter.Record(r.n, r.meter.now().Sub(r.start))
	}
	return r.rc.Close()
}
