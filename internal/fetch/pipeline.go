// Package fetch downloads one segment at a time and streams its samples into
// the sample store.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/hlsabr/internal/codec"
	"github.com/jmylchreest/hlsabr/internal/demux"
	"github.com/jmylchreest/hlsabr/internal/hls"
	"github.com/jmylchreest/hlsabr/internal/store"
)

// Opener opens a byte range of a URI. A zero length reads to the end.
type Opener interface {
	Open(ctx context.Context, uri string, offset, length int64) (io.ReadCloser, error)
}

// Request identifies the segment a fetch targets.
type Request struct {
	ID       string
	Variant  *hls.Variant
	Sequence int
	Segment  hls.Segment
}

// NewRequest creates a request with a fresh ID.
func NewRequest(variant *hls.Variant, sequence int, seg hls.Segment) Request {
	return Request{
		ID:       ulid.Make().String(),
		Variant:  variant,
		Sequence: sequence,
		Segment:  seg,
	}
}

// Result is sent once when a fetch finishes.
type Result struct {
	Request Request
	Locator Locator
	Outcome Outcome
	Err     error
	// Bytes and Samples count what was pushed into the store.
	Bytes   int64
	Samples int
	// Duration covers opening the transport through releasing the demuxer.
	Duration time.Duration
	// Advance is how far the sequence number moves.
	Advance int
}

// Config configures a Pipeline.
type Config struct {
	Opener       Opener
	Demuxers     demux.Factory
	Store        *store.Store
	Headers      codec.HeaderParser
	IVRule       IVRule
	OnParseError ParseErrorPolicy
	Logger       *slog.Logger
}

// Pipeline starts segment fetches.
type Pipeline struct {
	opener   Opener
	demuxers demux.Factory
	store    *store.Store
	headers  codec.HeaderParser
	ivRule   IVRule
	policy   ParseErrorPolicy
	logger   *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Opener == nil {
		return nil, errors.New("fetch: opener is required")
	}
	if cfg.Demuxers == nil {
		return nil, errors.New("fetch: demuxer factory is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("fetch: store is required")
	}
	headers := cfg.Headers
	if headers == nil {
		headers = codec.ADTSParser{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		opener:   cfg.Opener,
		demuxers: cfg.Demuxers,
		store:    cfg.Store,
		headers:  headers,
		ivRule:   cfg.IVRule,
		policy:   cfg.OnParseError,
		logger:   logger.With(slog.String("component", "fetch")),
	}, nil
}

// Unit is one outstanding fetch.
type Unit struct {
	req    Request
	tok    *store.Token
	cancel context.CancelFunc
	done   chan Result
}

// Request returns the request the unit serves.
func (u *Unit) Request() Request { return u.req }

// Done delivers the result once, then is closed.
func (u *Unit) Done() <-chan Result { return u.done }

// Cancel stops the fetch. No sample is pushed after Cancel returns.
func (u *Unit) Cancel() {
	u.tok.Cancel()
	u.cancel()
}

// Start queues the variant's video format marker and launches the fetch in
// the background.
func (p *Pipeline) Start(ctx context.Context, req Request) *Unit {
	ctx, cancel := context.WithCancel(ctx)
	u := &Unit{
		req:    req,
		tok:    p.store.NewToken(),
		cancel: cancel,
		done:   make(chan Result, 1),
	}

	loc := BuildLocator(req.Segment, req.Sequence, p.ivRule)
	p.store.PushFormat(u.tok, codec.TrackVideo, videoFormat(req.Variant))

	go func() {
		defer cancel()
		defer close(u.done)
		u.done <- p.run(ctx, u, loc)
	}()
	return u
}

func videoFormat(v *hls.Variant) codec.Format {
	if v == nil {
		return codec.VideoFormat("", -1, -1)
	}
	return codec.VideoFormat(v.CodecWith(codec.VideoPrefixes()...), v.Width(), v.Height())
}

func (p *Pipeline) run(ctx context.Context, u *Unit, loc Locator) Result {
	logger := p.logger.With(
		slog.String("request_id", u.req.ID),
		slog.Int("sequence", u.req.Sequence),
		slog.Int("bitrate", bitrate(u.req.Variant)),
	)
	res := Result{Request: u.req, Locator: loc}
	start := time.Now()

	logger.DebugContext(ctx, "fetch started",
		slog.String("url", loc.DataURL),
		slog.Bool("encrypted", loc.Encrypted),
	)

	err := p.stream(ctx, u, loc, &res)
	res.Duration = time.Since(start)

	switch {
	case u.tok.Cancelled():
		res.Outcome = OutcomeCancelled
	case err == nil:
		res.Outcome = OutcomeSuccess
	case errors.Is(err, demux.ErrParse):
		res.Outcome = OutcomeParseError
		res.Err = err
	default:
		res.Outcome = OutcomeTransportError
		res.Err = err
	}
	res.Advance = p.policy.advance(res.Outcome)

	attrs := []any{
		slog.String("outcome", res.Outcome.String()),
		slog.Int64("bytes", res.Bytes),
		slog.Int("samples", res.Samples),
		slog.Duration("duration", res.Duration),
	}
	switch res.Outcome {
	case OutcomeTransportError, OutcomeParseError:
		logger.WarnContext(ctx, "fetch failed", append(attrs, slog.String("error", res.Err.Error()))...)
	default:
		logger.DebugContext(ctx, "fetch finished", attrs...)
	}
	return res
}

func (p *Pipeline) stream(ctx context.Context, u *Unit, loc Locator, res *Result) error {
	rc, err := p.opener.Open(ctx, loc.URI(), loc.Offset, loc.Length)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer rc.Close()

	body := &errReader{r: rc}
	d := p.demuxers(body)
	defer d.Release()

	audioAnnounced := false
	for !u.tok.Cancelled() {
		smp, err := d.NextSample()
		if err != nil {
			// A short body surfaces from the demuxers as a clean end or a
			// parse error; the transport failure takes precedence.
			if body.err != nil {
				return fmt.Errorf("reading segment: %w", body.err)
			}
			if errors.Is(err, io.EOF) && !errors.Is(err, demux.ErrParse) {
				return nil
			}
			return err
		}

		if smp.Type == codec.TrackAudio && !audioAnnounced && p.store.Accepts(codec.TrackAudio) {
			format, err := p.headers.ParseFormat(smp.Data)
			if err != nil {
				return fmt.Errorf("%w: audio header: %w", demux.ErrParse, err)
			}
			if !p.store.PushFormat(u.tok, codec.TrackAudio, format) {
				return nil
			}
			audioAnnounced = true
		}

		if !p.store.PushSample(u.tok, smp.Type, store.MediaSample{TimeUs: smp.TimeUs, Data: smp.Data, Sync: smp.Sync}) {
			return nil
		}
		if p.store.Accepts(smp.Type) {
			res.Bytes += int64(len(smp.Data))
			res.Samples++
		}
	}
	return nil
}

func bitrate(v *hls.Variant) int {
	if v == nil {
		return 0
	}
	return v.Bitrate
}

// errReader records the first read error other than io.EOF so transport
// failures can be told apart from malformed data.
type errReader struct {
	r   io.Reader
	err error
}

func (e *errReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && e.err == nil {
		e.err = err
	}
	return n, err
}
