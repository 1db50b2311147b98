package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/hlsabr/internal/codec"
	"github.com/jmylchreest/hlsabr/internal/session"
	"github.com/jmylchreest/hlsabr/internal/store"
)

const readBufferSize = 256 * 1024

// playbackSession is the part of a session the player drives.
type playbackSession interface {
	ContinueBuffering(ctx context.Context, positionUs int64) error
	Read(index int, dst []byte) (store.ReadResult, error)
	BufferedPositionUs() (int64, error)
	Snapshot() session.Snapshot
}

// trackState is a consumed track and the sample held until the clock reaches it.
type trackState struct {
	index int
	typ   codec.TrackType
	held  *store.ReadResult
}

// playStats summarises a playback run.
type playStats struct {
	PositionUs int64
	Samples    int
	Bytes      int64
	Formats    int
	Stalls     int
	Switches   int
}

// player consumes a prepared session on a simulated clock. The clock only
// advances over buffered media; a tick with nothing buffered ahead is a stall.
type player struct {
	s      playbackSession
	tracks []*trackState
	tick   time.Duration
	logger *slog.Logger

	buf       []byte
	position  int64
	stats     playStats
	lastRate  int
	stalled   bool
	formatted map[int]codec.Format
}

func newPlayer(s playbackSession, tracks []session.TrackInfo, tick time.Duration, logger *slog.Logger) *player {
	p := &player{
		s:         s,
		tick:      tick,
		logger:    logger,
		buf:       make([]byte, 0, readBufferSize),
		formatted: make(map[int]codec.Format),
	}
	for i, t := range tracks {
		if t.Enabled {
			p.tracks = append(p.tracks, &trackState{index: i, typ: t.Type})
		}
	}
	return p
}

// Run steps the player every tick until ctx is done or playback reaches the
// end of the segment list.
func (p *player) Run(ctx context.Context) (playStats, error) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	p.lastRate = p.s.Snapshot().Bitrate
	for {
		done, err := p.step(ctx)
		if err != nil || done {
			return p.stats, err
		}
		select {
		case <-ctx.Done():
			return p.stats, nil
		case <-ticker.C:
		}
	}
}

// step buffers, advances the clock and drains every sample the clock has
// reached. It reports true once everything has been played.
func (p *player) step(ctx context.Context) (bool, error) {
	if err := p.s.ContinueBuffering(ctx, p.position); err != nil {
		return false, err
	}

	buffered, err := p.s.BufferedPositionUs()
	if err != nil {
		return false, err
	}
	snap := p.s.Snapshot()
	exhausted := snap.AtLiveEdge && !snap.Fetching

	switch ahead := buffered - p.position; {
	case ahead > 0:
		p.position += min(ahead, p.tick.Microseconds())
		if p.stalled {
			p.stalled = false
			p.logger.InfoContext(ctx, "playback resumed", slog.Int64("position_us", p.position))
		}
	case !exhausted && !p.stalled && p.stats.Samples > 0:
		p.stalled = true
		p.stats.Stalls++
		p.logger.WarnContext(ctx, "playback stalled", slog.Int64("position_us", p.position))
	}

	for _, t := range p.tracks {
		if err := p.drain(ctx, t); err != nil {
			return false, err
		}
	}
	p.stats.PositionUs = p.position

	if snap.Bitrate != p.lastRate {
		p.stats.Switches++
		p.lastRate = snap.Bitrate
	}
	return exhausted && p.position >= buffered && p.empty(), nil
}

func (p *player) drain(ctx context.Context, t *trackState) error {
	for {
		if t.held != nil {
			if t.held.TimeUs > p.position {
				return nil
			}
			p.stats.Samples++
			p.stats.Bytes += int64(t.held.Size)
			t.held = nil
		}

		res, err := p.s.Read(t.index, p.buf)
		if err != nil {
			return err
		}
		switch res.Kind {
		case store.NothingAvailable:
			return nil
		case store.FormatReady:
			p.stats.Formats++
			if prev, ok := p.formatted[t.index]; !ok || prev != res.Format {
				p.formatted[t.index] = res.Format
				p.logger.InfoContext(ctx, "track format",
					slog.Int("track", t.index),
					slog.String("type", t.typ.String()),
					slog.String("mime", res.Format.MIME),
					slog.String("codec", res.Format.Codec),
				)
			}
		case store.SampleReady:
			p.buf = res.Data[:0]
			res.Data = nil
			t.held = &res
		}
	}
}

func (p *player) empty() bool {
	for _, t := range p.tracks {
		if t.held != nil {
			return false
		}
	}
	return true
}
