// Package abr picks the variant to fetch from bandwidth and buffer health.
package abr

import (
	"time"

	"github.com/jmylchreest/hlsabr/internal/hls"
)

// Defaults applied by DefaultConfig.
const (
	DefaultSafetyFraction     = 0.75
	DefaultUpgradeThreshold   = 5 * time.Second
	DefaultDowngradeThreshold = 10 * time.Second
)

// Config holds the selection policy.
type Config struct {
	// SafetyFraction scales the bandwidth estimate into a target bitrate.
	SafetyFraction float64
	// InitialBitrate is the target used while no estimate exists.
	InitialBitrate int
	// UpgradeThreshold is the buffered duration required to switch up.
	UpgradeThreshold time.Duration
	// DowngradeThreshold is the buffered duration at or below which a
	// switch down is taken.
	DowngradeThreshold time.Duration
}

// DefaultConfig returns the standard selection policy.
func DefaultConfig() Config {
	return Config{
		SafetyFraction:     DefaultSafetyFraction,
		UpgradeThreshold:   DefaultUpgradeThreshold,
		DowngradeThreshold: DefaultDowngradeThreshold,
	}
}

// Input is the state a selection is made from.
type Input struct {
	// EstimatedBps is the bandwidth estimate; <= 0 means none yet.
	EstimatedBps int64
	Buffered     time.Duration
	// Current is the variant in use; nil selects without hysteresis.
	Current *hls.Variant
	// ManualBps pins selection below this bitrate when > 0.
	ManualBps int
}

// Select returns the variant to fetch next. variants must be sorted
// ascending by bitrate. Select never mutates its arguments and returns nil
// only for an empty list.
func Select(variants []*hls.Variant, cfg Config, in Input) *hls.Variant {
	if len(variants) == 0 {
		return nil
	}

	if in.ManualBps > 0 {
		return Below(variants, in.ManualBps)
	}

	var ideal *hls.Variant
	if in.EstimatedBps <= 0 {
		ideal = Below(variants, cfg.InitialBitrate)
	} else {
		ideal = Below(variants, int(float64(in.EstimatedBps)*cfg.SafetyFraction))
	}

	cur := in.Current
	if cur == nil {
		return ideal
	}
	switch {
	case ideal.Bitrate > cur.Bitrate && in.Buffered < cfg.UpgradeThreshold:
		return cur
	case ideal.Bitrate < cur.Bitrate && in.Buffered > cfg.DowngradeThreshold:
		return cur
	case ideal.Bitrate == cur.Bitrate:
		return cur
	}
	return ideal
}

// Below returns the highest-bitrate variant strictly below target, or the
// lowest-bitrate variant when none qualifies.
func Below(variants []*hls.Variant, target int) *hls.Variant {
	if len(variants) == 0 {
		return nil
	}
	for i := len(variants) - 1; i >= 0; i-- {
		if variants[i].Bitrate < target {
			return variants[i]
		}
	}
	return variants[0]
}
