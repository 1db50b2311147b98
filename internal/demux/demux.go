// Package demux turns MPEG-TS segment bytes into per-track elementary samples.
package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmylchreest/hlsabr/internal/codec"
)

// ErrParse wraps every failure caused by malformed container data.
var ErrParse = errors.New("malformed container data")

// Sample is one elementary stream access unit.
type Sample struct {
	Type codec.TrackType
	// TimeUs is the presentation timestamp in microseconds.
	TimeUs int64
	// Data is Annex B for video and an ADTS frame for audio.
	Data []byte
	// Sync marks a random access point.
	Sync bool
}

// Demuxer yields samples from one segment. NextSample returns io.EOF at the
// end of the stream and an error wrapping ErrParse on malformed data.
// Release frees resources; it does not close the underlying reader.
type Demuxer interface {
	NextSample() (*Sample, error)
	Release()
}

// Factory builds a Demuxer over a segment byte stream.
type Factory func(r io.Reader) Demuxer

// Engine names accepted by NewFactory.
const (
	EngineMediacommon = "mediacommon"
	EngineAstits      = "astits"
)

// NewFactory returns the demuxer factory registered under engine.
func NewFactory(engine string, logger *slog.Logger) (Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "demux"))

	switch engine {
	case "", EngineMediacommon:
		return func(r io.Reader) Demuxer { return NewTSReader(r, logger) }, nil
	case EngineAstits:
		return func(r io.Reader) Demuxer { return NewAstitsReader(r, logger) }, nil
	default:
		return nil, fmt.Errorf("unknown demux engine %q", engine)
	}
}

// ticksToMicros converts 90kHz clock ticks to microseconds.
func ticksToMicros(ticks int64) int64 {
	return ticks * 100 / 9
}

// aacFrameTicks is the duration of one 1024-sample AAC frame in 90kHz ticks.
func aacFrameTicks(sampleRate int) int64 {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return int64(1024 * 90000 / sampleRate)
}

// parseError marks err as malformed data. End-of-stream causes are kept
// only as text so the result never matches io.EOF.
func parseError(err error) error {
	if errors.Is(err, ErrParse) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return fmt.Errorf("%w: %w", ErrParse, err)
}

// queue is a FIFO of decoded samples awaiting NextSample.
type queue struct {
	items []*Sample
}

func (q *queue) push(s *Sample) { q.items = append(q.items, s) }

func (q *queue) pop() (*Sample, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	s := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return s, true
}

func (q *queue) reset() { q.items = nil }

// countingReader records whether any bytes were read.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
