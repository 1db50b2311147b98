// Package session drives an adaptive segment-streaming playback session.
//
// A Session resolves the presentation, maps its tracks, and then on every
// ContinueBuffering call picks a variant and starts at most one background
// segment fetch. Fetch completion arrives as a message on the fetch unit's
// channel; only the session applies the resulting state transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/hlsabr/internal/abr"
	"github.com/jmylchreest/hlsabr/internal/codec"
	"github.com/jmylchreest/hlsabr/internal/demux"
	"github.com/jmylchreest/hlsabr/internal/fetch"
	"github.com/jmylchreest/hlsabr/internal/hls"
	"github.com/jmylchreest/hlsabr/internal/store"
)

// Errors returned by session operations.
var (
	ErrSessionClosed = errors.New("session closed")
	ErrNotPrepared   = errors.New("session not prepared")
	ErrNoVariants    = errors.New("presentation has no usable variant")
	ErrTrackIndex    = errors.New("track index out of range")
)

// DefaultMaxBufferBytes is the buffered payload ceiling when none is configured.
const DefaultMaxBufferBytes = 30 * 1024 * 1024

// DefaultReleaseTimeout bounds the wait for a cancelled fetch in Release.
const DefaultReleaseTimeout = 5 * time.Second

// State is the lifecycle state of a session.
type State int

const (
	StateUnprepared State = iota
	StatePrepared
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUnprepared:
		return "unprepared"
	case StatePrepared:
		return "prepared"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// ManifestSource resolves the presentation and per-variant segment lists.
type ManifestSource interface {
	URL() string
	FallbackCodecs() []string
	ResolveManifest(ctx context.Context) (*hls.Manifest, error)
	ResolveSegmentList(ctx context.Context, v *hls.Variant) (*hls.SegmentList, error)
}

// Estimator reports the current bandwidth estimate in bits per second.
type Estimator interface {
	EstimateBps() int64
}

// Observer is notified of every completed fetch.
type Observer interface {
	FetchCompleted(ctx context.Context, sessionID string, res fetch.Result)
}

// TrackInfo describes one public track.
type TrackInfo struct {
	Type       codec.TrackType `json:"type"`
	MIME       string          `json:"mime"`
	DurationUs int64           `json:"duration_us"`
	Enabled    bool            `json:"enabled"`
}

// Config configures a Session.
type Config struct {
	Manifest  ManifestSource
	Opener    fetch.Opener
	Demuxers  demux.Factory
	Headers   codec.HeaderParser
	Estimator Estimator
	Observer  Observer

	ABR abr.Config
	// ManualBitrate pins selection below this bitrate when > 0.
	ManualBitrate int
	// MaxBufferBytes stops new fetches once this many payload bytes are queued.
	MaxBufferBytes int64
	// ReleaseTimeout bounds how long Release waits for a cancelled fetch.
	ReleaseTimeout time.Duration

	IVRule       fetch.IVRule
	OnParseError fetch.ParseErrorPolicy

	Logger *slog.Logger
}

// Session is one playback session. Its methods are safe for concurrent use,
// though a single playback loop is the intended caller.
type Session struct {
	id        string
	cfg       Config
	logger    *slog.Logger
	ctx       context.Context
	cancelCtx context.CancelFunc

	mu        sync.Mutex
	state     State
	manifest  *hls.Manifest
	variant   *hls.Variant
	list      *hls.SegmentList
	sequence  int
	unit      *fetch.Unit
	tracks    []TrackInfo
	store     *store.Store
	pipeline  *fetch.Pipeline
	manualBps int

	durationUs  int64
	switches    int
	fetches     int
	lastOutcome *fetch.Result
}

// New creates an unprepared session.
func New(cfg Config) (*Session, error) {
	if cfg.Manifest == nil {
		return nil, errors.New("session: manifest source is required")
	}
	if cfg.Opener == nil {
		return nil, errors.New("session: opener is required")
	}
	if cfg.Demuxers == nil {
		return nil, errors.New("session: demuxer factory is required")
	}
	if cfg.ABR.SafetyFraction <= 0 {
		cfg.ABR.SafetyFraction = abr.DefaultSafetyFraction
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = DefaultReleaseTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		cfg:       cfg,
		logger:    cfg.Logger.With(slog.String("component", "session"), slog.String("session_id", id)),
		ctx:       ctx,
		cancelCtx: cancel,
		manualBps: cfg.ManualBitrate,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Prepare resolves the presentation, selects the initial variant and builds
// the track map. It is idempotent. A presentation that cannot be resolved is
// replaced by a synthetic single-variant manifest.
func (s *Session) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReleased:
		return ErrSessionClosed
	case StatePrepared:
		return nil
	}

	src := s.cfg.Manifest
	manifest, err := src.ResolveManifest(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "manifest resolution failed, using fallback",
			slog.String("url", src.URL()),
			slog.String("error", err.Error()),
		)
		manifest = hls.SyntheticManifest(src.URL(), src.FallbackCodecs())
	}
	if len(manifest.Variants) == 0 {
		return ErrNoVariants
	}

	variant := abr.Select(manifest.Variants, s.cfg.ABR, abr.Input{ManualBps: s.manualBps})
	list, err := src.ResolveSegmentList(ctx, variant)
	if err != nil {
		return fmt.Errorf("resolving segment list for %d bps variant: %w", variant.Bitrate, err)
	}

	s.durationUs = list.Duration().Microseconds()
	s.tracks = buildTracks(manifest.Variants, src.FallbackCodecs(), s.durationUs)
	types := make([]codec.TrackType, len(s.tracks))
	for i, t := range s.tracks {
		types[i] = t.Type
	}
	s.store = store.New(types...)

	s.pipeline, err = fetch.New(fetch.Config{
		Opener:       s.cfg.Opener,
		Demuxers:     s.cfg.Demuxers,
		Store:        s.store,
		Headers:      s.cfg.Headers,
		IVRule:       s.cfg.IVRule,
		OnParseError: s.cfg.OnParseError,
		Logger:       s.cfg.Logger,
	})
	if err != nil {
		return err
	}

	s.manifest = manifest
	s.variant = variant
	s.list = list
	s.sequence = list.MediaSequence
	s.state = StatePrepared

	s.logger.InfoContext(ctx, "session prepared",
		slog.Int("variants", len(manifest.Variants)),
		slog.Bool("synthetic", manifest.Synthetic),
		slog.Int("bitrate", variant.Bitrate),
		slog.Int("sequence", s.sequence),
		slog.Int("tracks", len(s.tracks)),
		slog.Int64("duration_us", s.durationUs),
	)
	return nil
}

// buildTracks maps public indices to track types: audio first when any
// variant declares an audio codec, then video. Presentations declaring no
// recognised codec are mapped from fallback.
func buildTracks(variants []*hls.Variant, fallback []string, durationUs int64) []TrackInfo {
	hasAudio, hasVideo := false, false
	for _, v := range variants {
		hasAudio = hasAudio || v.HasCodec(codec.AudioPrefixes()...)
		hasVideo = hasVideo || v.HasCodec(codec.VideoPrefixes()...)
	}
	if !hasAudio && !hasVideo {
		for _, c := range fallback {
			hasAudio = hasAudio || codec.IsAudio(c)
			hasVideo = hasVideo || codec.IsVideo(c)
		}
	}

	var tracks []TrackInfo
	if hasAudio {
		tracks = append(tracks, TrackInfo{Type: codec.TrackAudio, MIME: codec.MIMEAudioAAC, DurationUs: durationUs})
	}
	if hasVideo {
		tracks = append(tracks, TrackInfo{Type: codec.TrackVideo, MIME: codec.MIMEVideoH264, DurationUs: durationUs})
	}
	return tracks
}

// checkPrepared returns the error for operations needing a prepared session.
// Callers hold s.mu.
func (s *Session) checkPrepared() error {
	switch s.state {
	case StateReleased:
		return ErrSessionClosed
	case StateUnprepared:
		return ErrNotPrepared
	}
	return nil
}

func (s *Session) checkTrack(index int) error {
	if err := s.checkPrepared(); err != nil {
		return err
	}
	if index < 0 || index >= len(s.tracks) {
		return fmt.Errorf("%w: %d", ErrTrackIndex, index)
	}
	return nil
}

// TrackCount returns the number of public tracks.
func (s *Session) TrackCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPrepared(); err != nil {
		return 0, err
	}
	return len(s.tracks), nil
}

// TrackInfo describes the track at index.
func (s *Session) TrackInfo(index int) (TrackInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTrack(index); err != nil {
		return TrackInfo{}, err
	}
	return s.tracks[index], nil
}

// Enable marks a track as consumed from fromTimeUs. Repositioning is not
// performed.
func (s *Session) Enable(index int, fromTimeUs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTrack(index); err != nil {
		return err
	}
	s.tracks[index].Enabled = true
	s.logger.Debug("track enabled",
		slog.Int("track", index),
		slog.String("type", s.tracks[index].Type.String()),
		slog.Int64("from_us", fromTimeUs),
	)
	return nil
}

// Disable marks a track as no longer consumed.
func (s *Session) Disable(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTrack(index); err != nil {
		return err
	}
	s.tracks[index].Enabled = false
	s.logger.Debug("track disabled", slog.Int("track", index))
	return nil
}

// Read pops the next item of the track at index without blocking. Sample
// payloads are copied into dst, which is grown when too small.
func (s *Session) Read(index int, dst []byte) (store.ReadResult, error) {
	s.mu.Lock()
	if err := s.checkTrack(index); err != nil {
		s.mu.Unlock()
		return store.ReadResult{}, err
	}
	st, typ := s.store, s.tracks[index].Type
	s.mu.Unlock()

	return st.Read(typ, dst), nil
}

// BufferedPositionUs returns the highest buffered timestamp.
func (s *Session) BufferedPositionUs() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPrepared(); err != nil {
		return 0, err
	}
	return s.store.HighestTimeUs(), nil
}

// SetManualBitrate pins selection below bps; 0 restores adaptation.
func (s *Session) SetManualBitrate(bps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReleased {
		return ErrSessionClosed
	}
	s.manualBps = bps
	return nil
}

// SetInitialBitrate sets the target used until a bandwidth estimate exists.
func (s *Session) SetInitialBitrate(bps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReleased {
		return ErrSessionClosed
	}
	s.cfg.ABR.InitialBitrate = bps
	return nil
}

// Release cancels any outstanding fetch, waits up to ReleaseTimeout for it
// to finish and drops all queued samples. The wait happens without holding
// the session lock. Later calls return nil; every other operation returns
// ErrSessionClosed.
func (s *Session) Release() error {
	s.mu.Lock()
	if s.state == StateReleased {
		s.mu.Unlock()
		return nil
	}
	s.state = StateReleased
	u := s.unit
	if u != nil {
		u.Cancel()
	}
	s.cancelCtx()
	s.mu.Unlock()

	if u != nil {
		timer := time.NewTimer(s.cfg.ReleaseTimeout)
		defer timer.Stop()
		select {
		case res, ok := <-u.Done():
			s.mu.Lock()
			if ok {
				s.apply(u, res)
			}
			s.mu.Unlock()
		case <-timer.C:
			s.logger.Warn("abandoning fetch that ignored cancellation",
				slog.String("request_id", u.Request().ID),
				slog.Duration("waited", s.cfg.ReleaseTimeout),
			)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unit = nil
	if s.store != nil {
		s.store.Clear()
	}
	s.logger.Info("session released",
		slog.Int("fetches", s.fetches),
		slog.Int("switches", s.switches),
	)
	return nil
}
