package session

import "github.com/jmylchreest/hlsabr/internal/fetch"

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID                 string      `json:"id"`
	State              string      `json:"state"`
	URL                string      `json:"url"`
	Synthetic          bool        `json:"synthetic"`
	Variants           []int       `json:"variants,omitempty"`
	Bitrate            int         `json:"bitrate"`
	Resolution         string      `json:"resolution,omitempty"`
	Sequence           int         `json:"sequence"`
	AtLiveEdge         bool        `json:"at_live_edge"`
	Fetching           bool        `json:"fetching"`
	BufferedBytes      int64       `json:"buffered_bytes"`
	BufferedPositionUs int64       `json:"buffered_position_us"`
	DurationUs         int64       `json:"duration_us"`
	EstimateBps        int64       `json:"estimate_bps"`
	ManualBitrate      int         `json:"manual_bitrate,omitempty"`
	Fetches            int         `json:"fetches"`
	Switches           int         `json:"switches"`
	LastOutcome        string      `json:"last_outcome,omitempty"`
	LastError          string      `json:"last_error,omitempty"`
	Tracks             []TrackInfo `json:"tracks,omitempty"`
}

// Snapshot returns the current session state. It also applies a fetch
// result that has arrived.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePrepared {
		s.collect()
	}

	snap := Snapshot{
		ID:            s.id,
		State:         s.state.String(),
		URL:           s.cfg.Manifest.URL(),
		Sequence:      s.sequence,
		Fetching:      s.unit != nil,
		DurationUs:    s.durationUs,
		EstimateBps:   s.estimate(),
		ManualBitrate: s.manualBps,
		Fetches:       s.fetches,
		Switches:      s.switches,
		Tracks:        append([]TrackInfo(nil), s.tracks...),
	}
	if s.manifest != nil {
		snap.Synthetic = s.manifest.Synthetic
		for _, v := range s.manifest.Variants {
			snap.Variants = append(snap.Variants, v.Bitrate)
		}
	}
	if s.variant != nil {
		snap.Bitrate = s.variant.Bitrate
		snap.Resolution = s.variant.Resolution
	}
	if s.list != nil {
		snap.AtLiveEdge = s.sequence >= s.list.End()
	}
	if s.store != nil {
		snap.BufferedBytes = s.store.BufferedBytes()
		snap.BufferedPositionUs = s.store.HighestTimeUs()
	}
	if res := s.lastOutcome; res != nil {
		snap.LastOutcome = res.Outcome.String()
		if res.Err != nil {
			snap.LastError = res.Err.Error()
		}
	}
	return snap
}

// LastResult returns the most recently applied fetch result.
func (s *Session) LastResult() (fetch.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastOutcome == nil {
		return fetch.Result{}, false
	}
	return *s.lastOutcome, true
}
