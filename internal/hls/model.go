// Package hls holds the variant and segment model of an HLS presentation and
// resolves it from multivariant and media playlists.
package hls

import (
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Playlist errors.
var (
	// ErrNoVariants indicates a multivariant playlist listed no usable variants.
	ErrNoVariants = errors.New("playlist has no variants")
	// ErrNotMediaPlaylist indicates a media playlist was expected but not found.
	ErrNotMediaPlaylist = errors.New("not a media playlist")
)

// Variant is one encoded rendition of the presentation.
type Variant struct {
	// Bitrate is the declared peak bandwidth in bits per second.
	Bitrate int `json:"bitrate"`
	// Resolution is the declared WIDTHxHEIGHT, empty when absent.
	Resolution string `json:"resolution,omitempty"`
	// Codecs are the RFC 6381 codec identifiers, e.g. "avc1.4d401f".
	Codecs []string `json:"codecs"`
	// URL is the absolute URL of the variant's media playlist.
	URL string `json:"url"`
}

// Width returns the declared width, or -1 when unknown.
func (v *Variant) Width() int {
	w, _ := v.dimensions()
	return w
}

// Height returns the declared height, or -1 when unknown.
func (v *Variant) Height() int {
	_, h := v.dimensions()
	return h
}

func (v *Variant) dimensions() (int, int) {
	ws, hs, ok := strings.Cut(v.Resolution, "x")
	if !ok {
		return -1, -1
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil {
		return -1, -1
	}
	return w, h
}

// HasCodec reports whether any codec identifier starts with one of prefixes.
func (v *Variant) HasCodec(prefixes ...string) bool {
	for _, c := range v.Codecs {
		for _, p := range prefixes {
			if strings.HasPrefix(c, p) {
				return true
			}
		}
	}
	return false
}

// CodecWith returns the first codec identifier starting with one of prefixes.
func (v *Variant) CodecWith(prefixes ...string) string {
	for _, c := range v.Codecs {
		for _, p := range prefixes {
			if strings.HasPrefix(c, p) {
				return c
			}
		}
	}
	return ""
}

// Manifest is a resolved multivariant presentation.
// Variants are sorted ascending by bitrate.
type Manifest struct {
	URL      string     `json:"url"`
	Variants []*Variant `json:"variants"`
	// Synthetic is set when the manifest was substituted after a resolution failure.
	Synthetic bool `json:"synthetic"`
}

// SortVariants orders variants ascending by bitrate, keeping declaration order for ties.
func SortVariants(variants []*Variant) {
	slices.SortStableFunc(variants, func(a, b *Variant) int {
		return a.Bitrate - b.Bitrate
	})
}

// SyntheticManifest builds a single-variant manifest that treats url as a
// media playlist. It is substituted when the multivariant playlist cannot be
// resolved.
func SyntheticManifest(url string, codecs []string) *Manifest {
	return &Manifest{
		URL: url,
		Variants: []*Variant{{
			Codecs: slices.Clone(codecs),
			URL:    url,
		}},
		Synthetic: true,
	}
}

// EncryptionInfo describes how a segment is encrypted.
type EncryptionInfo struct {
	Method string `json:"method"`
	KeyURL string `json:"key_url" masq:"secret"`
	// IV is the declared initialization vector, empty when absent.
	IV string `json:"iv,omitempty"`
}

// Segment is one independently fetchable chunk of a variant.
type Segment struct {
	// URI is absolute.
	URI      string        `json:"uri"`
	Duration time.Duration `json:"duration"`
	// Offset and Length select a byte range; Length 0 means to the end.
	Offset     int64           `json:"offset,omitempty"`
	Length     int64           `json:"length,omitempty"`
	Encryption *EncryptionInfo `json:"encryption,omitempty"`
}

// SegmentList is a media playlist snapshot for one variant.
type SegmentList struct {
	URL            string        `json:"url"`
	MediaSequence  int           `json:"media_sequence"`
	TargetDuration time.Duration `json:"target_duration"`
	Segments       []Segment     `json:"segments"`
	// Ended is set when the playlist carries EXT-X-ENDLIST.
	Ended bool `json:"ended"`
}

// Duration is the sum of all segment durations.
func (l *SegmentList) Duration() time.Duration {
	var total time.Duration
	for _, s := range l.Segments {
		total += s.Duration
	}
	return total
}

// End returns the sequence number one past the last segment.
func (l *SegmentList) End() int {
	return l.MediaSequence + len(l.Segments)
}

// At returns the segment with the given sequence number.
func (l *SegmentList) At(sequence int) (Segment, bool) {
	idx := sequence - l.MediaSequence
	if idx < 0 || idx >= len(l.Segments) {
		return Segment{}, false
	}
	return l.Segments[idx], true
}
