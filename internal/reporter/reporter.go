// Package reporter logs a session summary on a cron schedule.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/hlsabr/internal/session"
	"github.com/jmylchreest/hlsabr/pkg/format"
)

// ErrAlreadyStarted is returned by Start on a running Reporter.
var ErrAlreadyStarted = errors.New("reporter already started")

// SnapshotProvider exposes the state of a playback session.
type SnapshotProvider interface {
	Snapshot() session.Snapshot
}

// scheduleParser accepts five or six field expressions and descriptors
// such as "@every 10s".
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a report schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing report schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Reporter periodically logs a snapshot of one session.
type Reporter struct {
	source   SnapshotProvider
	schedule string
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	last session.Snapshot
	runs int
}

// New creates a Reporter for source. It does not run until Start.
func New(source SnapshotProvider, schedule string, logger *slog.Logger) (*Reporter, error) {
	if source == nil {
		return nil, errors.New("reporter: snapshot source is required")
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		source:   source,
		schedule: schedule,
		logger:   logger.With(slog.String("component", "reporter")),
	}, nil
}

// Start schedules the report. Reports stop when ctx is cancelled or Stop
// is called.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return ErrAlreadyStarted
	}

	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(r.schedule, func() { r.Report(ctx) }); err != nil {
		return fmt.Errorf("scheduling report: %w", err)
	}
	c.Start()
	r.cron = c

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	r.logger.Debug("reporter started", slog.String("schedule", r.schedule))
	return nil
}

// Stop halts scheduling and waits for a running report to finish.
func (r *Reporter) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Report logs the current snapshot along with what changed since the
// previous report.
func (r *Reporter) Report(ctx context.Context) {
	snap := r.source.Snapshot()

	r.mu.Lock()
	prev := r.last
	first := r.runs == 0
	r.last = snap
	r.runs++
	r.mu.Unlock()

	attrs := []slog.Attr{
		slog.String("session_id", snap.ID),
		slog.String("state", snap.State),
		slog.String("bitrate", format.Bitrate(int64(snap.Bitrate))),
		slog.Int("sequence", snap.Sequence),
		slog.String("buffered", format.Bytes(snap.BufferedBytes)),
		slog.String("buffered_to", format.Micros(snap.BufferedPositionUs)),
		slog.String("estimate", format.Bitrate(snap.EstimateBps)),
		slog.Int("fetches", snap.Fetches),
		slog.Int("switches", snap.Switches),
		slog.Bool("live_edge", snap.AtLiveEdge),
	}
	if !first {
		attrs = append(attrs,
			slog.Int("new_fetches", snap.Fetches-prev.Fetches),
			slog.Int("new_switches", snap.Switches-prev.Switches),
		)
	}
	if snap.LastOutcome != "" {
		attrs = append(attrs, slog.String("last_outcome", snap.LastOutcome))
	}
	if snap.LastError != "" {
		attrs = append(attrs, slog.String("last_error", snap.LastError))
	}

	r.logger.LogAttrs(ctx, slog.LevelInfo, "session report", attrs...)
}

// Runs returns how many reports have been logged.
func (r *Reporter) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}
