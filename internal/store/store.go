// Package store holds the per-track sample queues shared between the segment
// fetch and the playback read path.
//
// One mutex guards every queue, the buffered byte and timestamp accounting,
// and the cancellation flags of fetch tokens. The buffered byte count always
// equals the payload bytes of the samples still queued.
package store

import (
	"sync"

	"github.com/jmylchreest/hlsabr/internal/codec"
)

// Store is a set of FIFO queues keyed by track type.
type Store struct {
	mu        sync.Mutex
	queues    map[codec.TrackType][]QueueItem
	buffered  int64
	highestUs int64
}

// New creates a store accepting the given track types. Items for any other
// type are dropped.
func New(types ...codec.TrackType) *Store {
	queues := make(map[codec.TrackType][]QueueItem, len(types))
	for _, t := range types {
		queues[t] = nil
	}
	return &Store{queues: queues}
}

// Token is the cancellation flag of one fetch. Its state is guarded by the
// store lock so a cancelled fetch can never push after Cancel returns.
type Token struct {
	store     *Store
	cancelled bool
}

// NewToken returns a fresh, uncancelled token bound to this store.
func (s *Store) NewToken() *Token {
	return &Token{store: s}
}

// Cancel raises the flag. Subsequent pushes with this token are refused.
func (t *Token) Cancel() {
	t.store.mu.Lock()
	t.cancelled = true
	t.store.mu.Unlock()
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.cancelled
}

// Accepts reports whether items of type t are queued.
func (s *Store) Accepts(t codec.TrackType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queues[t]
	return ok
}

// PushFormat queues a format marker. It returns false if tok is cancelled.
// tok may be nil.
func (s *Store) PushFormat(tok *Token, t codec.TrackType, f codec.Format) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok != nil && tok.cancelled {
		return false
	}
	if q, ok := s.queues[t]; ok {
		s.queues[t] = append(q, FormatMarker{Format: f})
	}
	return true
}

// PushSample queues a sample and adds its size to the buffered bytes. It
// returns false if tok is cancelled. tok may be nil.
func (s *Store) PushSample(tok *Token, t codec.TrackType, smp MediaSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok != nil && tok.cancelled {
		return false
	}
	q, ok := s.queues[t]
	if !ok {
		return true
	}
	s.queues[t] = append(q, smp)
	s.buffered += smp.Size()
	if smp.TimeUs > s.highestUs {
		s.highestUs = smp.TimeUs
	}
	return true
}

// Read pops the head of the queue for t without blocking. Sample payloads
// are copied into dst, which is grown if too small.
func (s *Store) Read(t codec.TrackType, dst []byte) ReadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[t]
	if len(q) == 0 {
		return ReadResult{Kind: NothingAvailable}
	}
	head := q[0]
	q[0] = nil
	s.queues[t] = q[1:]

	switch item := head.(type) {
	case FormatMarker:
		return ReadResult{Kind: FormatReady, Format: item.Format}
	case MediaSample:
		s.buffered -= item.Size()
		return ReadResult{
			Kind:   SampleReady,
			TimeUs: item.TimeUs,
			Size:   len(item.Data),
			Sync:   item.Sync,
			Data:   append(dst[:0], item.Data...),
		}
	default:
		return ReadResult{Kind: NothingAvailable}
	}
}

// BufferedBytes returns the payload bytes of all queued samples.
func (s *Store) BufferedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

// HighestTimeUs returns the largest sample timestamp pushed since the last
// Clear.
func (s *Store) HighestTimeUs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highestUs
}

// Len returns the number of items queued for t.
func (s *Store) Len(t codec.TrackType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[t])
}

// PendingBytes sums the payload sizes of queued samples by walking the
// queues.
func (s *Store) PendingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, q := range s.queues {
		for _, item := range q {
			if smp, ok := item.(MediaSample); ok {
				total += smp.Size()
			}
		}
	}
	return total
}

// Clear drops every queued item and resets the accounting.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for t := range s.queues {
		s.queues[t] = nil
	}
	s.buffered = 0
	s.highestUs = 0
}
