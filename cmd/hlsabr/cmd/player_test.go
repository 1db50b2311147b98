package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsabr/internal/codec"
	"github.com/jmylchreest/hlsabr/internal/session"
	"github.com/jmylchreest/hlsabr/internal/store"
)

// scriptedSession buffers one segment per ContinueBuffering call from a
// script of segments. A nil entry buffers nothing on that call.
type scriptedSession struct {
	segments [][]store.ReadResult
	bitrates []int
	queue    []store.ReadResult
	highest  int64
	calls    int
	err      error
	bitrate  int
}

func (s *scriptedSession) ContinueBuffering(context.Context, int64) error {
	if s.err != nil {
		return s.err
	}
	if s.calls < len(s.segments) {
		for _, r := range s.segments[s.calls] {
			s.queue = append(s.queue, r)
			if r.Kind == store.SampleReady {
				s.highest = max(s.highest, r.TimeUs)
			}
		}
		if s.calls < len(s.bitrates) {
			s.bitrate = s.bitrates[s.calls]
		}
	}
	s.calls++
	return nil
}

func (s *scriptedSession) Read(_ int, dst []byte) (store.ReadResult, error) {
	if len(s.queue) == 0 {
		return store.ReadResult{Kind: store.NothingAvailable}, nil
	}
	r := s.queue[0]
	s.queue = s.queue[1:]
	r.Data = dst[:0]
	return r, nil
}

func (s *scriptedSession) BufferedPositionUs() (int64, error) { return s.highest, nil }

func (s *scriptedSession) Snapshot() session.Snapshot {
	return session.Snapshot{
		Bitrate:    s.bitrate,
		AtLiveEdge: s.calls >= len(s.segments),
	}
}

func sample(us int64, size int) store.ReadResult {
	return store.ReadResult{Kind: store.SampleReady, TimeUs: us, Size: size}
}

func videoTracks() []session.TrackInfo {
	return []session.TrackInfo{{Type: codec.TrackVideo, MIME: codec.MIMEVideoH264, Enabled: true}}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPlayer_PlaysToEnd(t *testing.T) {
	s := &scriptedSession{segments: [][]store.ReadResult{
		{{Kind: store.FormatReady, Format: codec.VideoFormat("avc1", 640, 360)}, sample(0, 10), sample(500_000, 10)},
		{sample(1_000_000, 10), sample(1_500_000, 10)},
		{sample(2_000_000, 10), sample(2_500_000, 10)},
	}}
	p := newPlayer(s, videoTracks(), time.Second, discard())

	for i := 0; i < 2; i++ {
		done, err := p.step(context.Background())
		require.NoError(t, err)
		assert.False(t, done, "step %d", i)
	}
	assert.Equal(t, int64(1_500_000), p.position)
	assert.Equal(t, 4, p.stats.Samples)

	done, err := p.step(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int64(2_500_000), p.stats.PositionUs)
	assert.Equal(t, 6, p.stats.Samples)
	assert.Equal(t, int64(60), p.stats.Bytes)
	assert.Equal(t, 1, p.stats.Formats)
	assert.Zero(t, p.stats.Stalls)
}

func TestPlayer_ClockAdvancesOneTickAtMost(t *testing.T) {
	s := &scriptedSession{segments: [][]store.ReadResult{
		{sample(0, 1), sample(4_000_000, 1)},
		nil,
	}}
	p := newPlayer(s, videoTracks(), time.Second, discard())

	_, err := p.step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), p.position)
	assert.Equal(t, 1, p.stats.Samples)
	require.NotNil(t, p.tracks[0].held)
	assert.Equal(t, int64(4_000_000), p.tracks[0].held.TimeUs)
}

func TestPlayer_Stall(t *testing.T) {
	s := &scriptedSession{segments: [][]store.ReadResult{
		{sample(0, 1), sample(500_000, 1)},
		nil,
		nil,
		{sample(1_000_000, 1)},
		nil,
	}}
	p := newPlayer(s, videoTracks(), time.Second, discard())

	for i := 0; i < 4; i++ {
		_, err := p.step(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, p.stats.Stalls, "consecutive empty steps are one stall")
	assert.False(t, p.stalled)
	assert.Equal(t, int64(1_000_000), p.position)
}

func TestPlayer_CountsSwitches(t *testing.T) {
	s := &scriptedSession{
		segments: [][]store.ReadResult{{sample(0, 1)}, {sample(1_000_000, 1)}, {sample(2_000_000, 1)}},
		bitrates: []int{400_000, 800_000, 800_000},
	}
	p := newPlayer(s, videoTracks(), time.Second, discard())
	p.lastRate = 400_000

	for i := 0; i < 3; i++ {
		_, err := p.step(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, p.stats.Switches)
}

func TestPlayer_SkipsDisabledTracks(t *testing.T) {
	tracks := []session.TrackInfo{
		{Type: codec.TrackAudio, Enabled: false},
		{Type: codec.TrackVideo, Enabled: true},
	}
	p := newPlayer(&scriptedSession{}, tracks, time.Second, discard())
	require.Len(t, p.tracks, 1)
	assert.Equal(t, 1, p.tracks[0].index)
}

func TestPlayer_RunStopsOnError(t *testing.T) {
	boom := errors.New("session closed")
	p := newPlayer(&scriptedSession{err: boom}, videoTracks(), time.Hour, discard())

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPlayer_RunStopsOnCancel(t *testing.T) {
	s := &scriptedSession{segments: [][]store.ReadResult{{sample(0, 1)}, {sample(1_000_000, 1)}}}
	p := newPlayer(s, videoTracks(), time.Hour, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Samples)
}
