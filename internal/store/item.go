package store

import "github.com/jmylchreest/hlsabr/internal/codec"

// QueueItem is an entry of a track queue: a FormatMarker or a MediaSample.
type QueueItem interface {
	queueItem()
}

// FormatMarker announces the format of the samples that follow it.
type FormatMarker struct {
	Format codec.Format
}

// MediaSample is one buffered access unit.
type MediaSample struct {
	TimeUs int64
	Data   []byte
	Sync   bool
}

// Size is the payload length counted against the buffer.
func (s MediaSample) Size() int64 { return int64(len(s.Data)) }

func (FormatMarker) queueItem() {}
func (MediaSample) queueItem()  {}

// ReadKind classifies a ReadResult.
type ReadKind int

const (
	NothingAvailable ReadKind = iota
	FormatReady
	SampleReady
)

func (k ReadKind) String() string {
	switch k {
	case NothingAvailable:
		return "nothing_available"
	case FormatReady:
		return "format_ready"
	case SampleReady:
		return "sample_ready"
	default:
		return "unknown"
	}
}

// ReadResult is the outcome of popping a track queue.
type ReadResult struct {
	Kind ReadKind

	// Set for FormatReady.
	Format codec.Format

	// Set for SampleReady. Data aliases the caller's buffer when it had
	// enough capacity.
	TimeUs int64
	Size   int
	Sync   bool
	Data   []byte
}
