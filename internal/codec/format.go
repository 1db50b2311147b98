// Package codec describes track formats and parses elementary stream headers.
package codec

import (
	"strconv"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// TrackType is the kind of elementary stream a track carries.
type TrackType int

// Track types.
const (
	TrackAudio TrackType = iota
	TrackVideo
)

func (t TrackType) String() string {
	switch t {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	default:
		return "unknown"
	}
}

// MIME types of the supported elementary streams.
const (
	MIMEAudioAAC  = "audio/mp4a-latm"
	MIMEVideoH264 = "video/avc"
	MIMEVideoH265 = "video/hevc"
)

var (
	audioPrefixes = []string{"mp4a"}
	videoPrefixes = []string{"avc1", "avc3", "hvc1", "hev1"}
)

// AudioPrefixes returns the codec identifier prefixes recognised as audio.
func AudioPrefixes() []string { return audioPrefixes }

// VideoPrefixes returns the codec identifier prefixes recognised as video.
func VideoPrefixes() []string { return videoPrefixes }

// IsAudio reports whether an RFC 6381 codec identifier is a supported audio codec.
func IsAudio(codec string) bool { return hasPrefix(codec, audioPrefixes) }

// IsVideo reports whether an RFC 6381 codec identifier is a supported video codec.
func IsVideo(codec string) bool { return hasPrefix(codec, videoPrefixes) }

func hasPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Format is the negotiated format of a track.
type Format struct {
	Type  TrackType `json:"type"`
	MIME  string    `json:"mime"`
	Codec string    `json:"codec,omitempty"`

	// Video. -1 when unknown.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// Audio.
	SampleRate   int `json:"sample_rate,omitempty"`
	ChannelCount int `json:"channel_count,omitempty"`
	ObjectType   int `json:"object_type,omitempty"`
}

// VideoFormat builds the nominal video format declared by a variant.
func VideoFormat(codec string, width, height int) Format {
	mime := MIMEVideoH264
	if strings.HasPrefix(codec, "hvc1") || strings.HasPrefix(codec, "hev1") {
		mime = MIMEVideoH265
	}
	return Format{
		Type:   TrackVideo,
		MIME:   mime,
		Codec:  codec,
		Width:  width,
		Height: height,
	}
}

// AudioFormat builds an AAC track format from an audio configuration.
func AudioFormat(cfg *mpeg4audio.AudioSpecificConfig) Format {
	return Format{
		Type:         TrackAudio,
		MIME:         MIMEAudioAAC,
		Codec:        "mp4a.40." + strconv.Itoa(int(cfg.Type)),
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.ChannelCount,
		ObjectType:   int(cfg.Type),
	}
}
