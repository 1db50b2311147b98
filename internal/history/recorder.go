// Package history persists completed segment fetches.
package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jmylchreest/hlsabr/internal/fetch"
	"github.com/jmylchreest/hlsabr/internal/models"
	"github.com/jmylchreest/hlsabr/internal/repository"
	"github.com/jmylchreest/hlsabr/internal/transport"
)

const (
	DefaultBufferSize    = 256
	DefaultBatchSize     = 32
	DefaultFlushInterval = 2 * time.Second
	maxErrorLength       = 1024
)

// Options configures a Recorder.
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Recorder writes fetch results to a repository from a background worker.
// FetchCompleted never blocks playback: results that do not fit in the
// buffer are dropped and counted.
type Recorder struct {
	repo    repository.FetchRecordRepository
	logger  *slog.Logger
	opts    Options
	records chan *models.FetchRecord

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder starts a Recorder writing to repo.
func NewRecorder(repo repository.FetchRecordRepository, opts Options) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		repo:    repo,
		logger:  logger.With(slog.String("component", "history")),
		opts:    opts,
		records: make(chan *models.FetchRecord, opts.BufferSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// FetchCompleted queues res for persistence.
func (r *Recorder) FetchCompleted(_ context.Context, sessionID string, res fetch.Result) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.records <- Record(sessionID, res):
	default:
		r.dropped.Add(1)
	}
}

// Close stops accepting results, writes what is queued and waits for the
// worker, or for ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.records)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports how many records were written, dropped, or failed to write.
func (r *Recorder) Stats() (written, dropped, failed int64) {
	return r.written.Load(), r.dropped.Load(), r.failed.Load()
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*models.FetchRecord, 0, r.opts.BatchSize)
	for {
		select {
		case rec, ok := <-r.records:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.opts.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			r.flush(batch)
			batch = batch[:0]
		}
	}
}

func (r *Recorder) flush(batch []*models.FetchRecord) {
	if len(batch) == 0 {
		return
	}
	// Writes outlive the playback context so queued records survive shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.repo.CreateBatch(ctx, batch); err != nil {
		r.failed.Add(int64(len(batch)))
		r.logger.Warn("writing fetch history",
			slog.Int("records", len(batch)),
			slog.String("error", err.Error()),
		)
		return
	}
	r.written.Add(int64(len(batch)))
	r.logger.Debug("fetch history written", slog.Int("records", len(batch)))
}

// Record converts a fetch result into its persisted form.
func Record(sessionID string, res fetch.Result) *models.FetchRecord {
	rec := &models.FetchRecord{
		SessionID:  sessionID,
		RequestID:  res.Request.ID,
		Sequence:   res.Request.Sequence,
		URL:        transport.RedactURL(res.Locator.DataURL),
		Encrypted:  res.Locator.Encrypted,
		Bytes:      res.Bytes,
		Samples:    res.Samples,
		DurationMs: res.Duration.Milliseconds(),
		Outcome:    res.Outcome.String(),
		Advance:    res.Advance,
	}
	if res.Request.Variant != nil {
		rec.VariantBitrate = res.Request.Variant.Bitrate
	}
	if rec.URL == "" {
		rec.URL = transport.RedactURL(res.Request.Segment.URI)
	}
	if res.Err != nil {
		msg := res.Err.Error()
		rec.Error = truncate(msg, maxErrorLength)
	}
	return rec
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
