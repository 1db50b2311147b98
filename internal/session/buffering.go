package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/hlsabr/internal/abr"
	"github.com/jmylchreest/hlsabr/internal/fetch"
	"github.com/jmylchreest/hlsabr/internal/hls"
)

// ContinueBuffering applies a finished fetch, then starts the next one
// unless a fetch is outstanding, the buffer ceiling is reached or the live
// edge of the segment list has been reached.
func (s *Session) ContinueBuffering(ctx context.Context, positionUs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPrepared(); err != nil {
		return err
	}

	s.collect()
	if s.unit != nil {
		return nil
	}
	if s.store.BufferedBytes() >= s.cfg.MaxBufferBytes {
		return nil
	}

	estimate := s.estimate()
	buffered := bufferedDuration(s.store.HighestTimeUs(), positionUs)
	next := abr.Select(s.manifest.Variants, s.cfg.ABR, abr.Input{
		EstimatedBps: estimate,
		Buffered:     buffered,
		Current:      s.variant,
		ManualBps:    s.manualBps,
	})
	if next != s.variant {
		s.switchTo(ctx, next, estimate, buffered)
	}

	seg, ok := s.list.At(s.sequence)
	if !ok {
		return nil
	}
	s.unit = s.pipeline.Start(s.ctx, fetch.NewRequest(s.variant, s.sequence, seg))
	return nil
}

// WaitIdle blocks until the outstanding fetch, if any, has finished and its
// result has been applied.
func (s *Session) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReleased {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	u := s.unit
	s.mu.Unlock()

	if u == nil {
		return nil
	}
	select {
	case res, ok := <-u.Done():
		if ok {
			s.mu.Lock()
			s.apply(u, res)
			s.mu.Unlock()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// collect applies the outstanding fetch's result if it has arrived.
// A closed channel means a WaitIdle caller holds the result and will apply
// it, so the unit stays outstanding until then.
func (s *Session) collect() {
	u := s.unit
	if u == nil {
		return
	}
	select {
	case res, ok := <-u.Done():
		if ok {
			s.apply(u, res)
		}
	default:
	}
}

// apply performs the state transition for a finished fetch. Callers hold s.mu.
func (s *Session) apply(u *fetch.Unit, res fetch.Result) {
	if s.unit != u {
		return
	}
	s.unit = nil
	s.sequence += res.Advance
	s.fetches++
	s.lastOutcome = &res

	if s.cfg.Observer != nil {
		s.cfg.Observer.FetchCompleted(s.ctx, s.id, res)
	}
}

func (s *Session) switchTo(ctx context.Context, next *hls.Variant, estimate int64, buffered time.Duration) {
	list, err := s.cfg.Manifest.ResolveSegmentList(ctx, next)
	if err != nil {
		s.logger.WarnContext(ctx, "staying on current variant",
			slog.Int("bitrate", s.variant.Bitrate),
			slog.Int("candidate", next.Bitrate),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.InfoContext(ctx, "variant switched",
		slog.Int("from", s.variant.Bitrate),
		slog.Int("to", next.Bitrate),
		slog.Int64("estimate_bps", estimate),
		slog.Duration("buffered", buffered),
		slog.Int("sequence", s.sequence),
	)
	s.variant = next
	s.list = list
	s.switches++
	if s.sequence < list.MediaSequence {
		s.sequence = list.MediaSequence
	}
}

func (s *Session) estimate() int64 {
	if s.cfg.Estimator == nil {
		return 0
	}
	return s.cfg.Estimator.EstimateBps()
}

func bufferedDuration(highestUs, positionUs int64) time.Duration {
	if highestUs <= positionUs {
		return 0
	}
	return time.Duration(highestUs-positionUs) * time.Microsecond
}
