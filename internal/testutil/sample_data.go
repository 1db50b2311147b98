// Package testutil generates sample HLS presentations for tests.
package testutil

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// Elementary stream PIDs used by generated segments.
const (
	VideoPID = 256
	AudioPID = 257
)

// Fixed parameter sets for generated H.264 streams.
var (
	sampleSPS = []byte{0x67, 0x42, 0xc0, 0x1f, 0xd9, 0x00, 0x78, 0x02, 0x27, 0xe5, 0x84}
	samplePPS = []byte{0x68, 0xcb, 0x83, 0xcb, 0x20}
)

// SegmentSpec describes a generated MPEG-TS segment.
type SegmentSpec struct {
	// VideoFrames is the number of H.264 access units; 0 omits the video track.
	VideoFrames int
	// GOP is the distance between IDR frames; <= 0 makes only the first frame an IDR.
	GOP int
	// AudioFrames is the number of AAC frames; 0 omits the audio track.
	AudioFrames int
	// StartPTS is the first timestamp in 90kHz ticks.
	StartPTS int64
	// FrameBytes is the payload size of each generated frame.
	FrameBytes int
}

// SampleVariant describes a variant line of a generated multivariant playlist.
type SampleVariant struct {
	Bandwidth  int
	Codecs     []string
	Resolution string
	URI        string
}

// SampleSegment describes an entry of a generated media playlist.
type SampleSegment struct {
	URI      string
	Duration float64
	// KeyURI adds an AES-128 key tag before the segment when set.
	KeyURI string
	IV     string
}

// SampleDataGenerator produces deterministic sample media.
type SampleDataGenerator struct {
	rng *rand.Rand
}

// NewSampleDataGenerator creates a generator with a fixed seed.
func NewSampleDataGenerator() *SampleDataGenerator {
	return NewSampleDataGeneratorWithSeed(1)
}

// NewSampleDataGeneratorWithSeed creates a generator with the given seed.
func NewSampleDataGeneratorWithSeed(seed int64) *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(seed)), //nolint:gosec // test data only
	}
}

// Payload returns n pseudo-random bytes free of Annex B start codes.
func (g *SampleDataGenerator) Payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(0x10 + g.rng.Intn(0xE0))
	}
	return b
}

// TSSegment muxes a segment described by spec with mediacommon.
func (g *SampleDataGenerator) TSSegment(spec SegmentSpec) ([]byte, error) {
	frameBytes := spec.FrameBytes
	if frameBytes <= 0 {
		frameBytes = 64
	}

	var video, audio *mpegts.Track
	var tracks []*mpegts.Track
	if spec.VideoFrames > 0 {
		video = &mpegts.Track{PID: VideoPID, Codec: &mpegts.CodecH264{}}
		tracks = append(tracks, video)
	}
	if spec.AudioFrames > 0 {
		audio = &mpegts.Track{
			PID: AudioPID,
			Codec: &mpegts.CodecMPEG4Audio{
				Config: mpeg4audio.Config{
					Type:         mpeg4audio.ObjectTypeAACLC,
					SampleRate:   48000,
					ChannelCount: 2,
				},
			},
		}
		tracks = append(tracks, audio)
	}

	var buf bytes.Buffer
	w := &mpegts.Writer{W: &buf, Tracks: tracks}
	if err := w.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts writer: %w", err)
	}

	const videoTicks = 3000 // 30 fps
	const audioTicks = 1920 // 1024 samples at 48kHz

	for i := 0; i < spec.VideoFrames; i++ {
		pts := spec.StartPTS + int64(i)*videoTicks
		idr := i == 0 || (spec.GOP > 0 && i%spec.GOP == 0)

		var au [][]byte
		if idr {
			au = [][]byte{sampleSPS, samplePPS, append([]byte{0x65}, g.Payload(frameBytes)...)}
		} else {
			au = [][]byte{append([]byte{0x41}, g.Payload(frameBytes)...)}
		}
		if err := w.WriteH264(video, pts, pts, au); err != nil {
			return nil, fmt.Errorf("writing video frame %d: %w", i, err)
		}
	}

	for i := 0; i < spec.AudioFrames; i++ {
		pts := spec.StartPTS + int64(i)*audioTicks
		if err := w.WriteMPEG4Audio(audio, pts, [][]byte{g.Payload(frameBytes)}); err != nil {
			return nil, fmt.Errorf("writing audio frame %d: %w", i, err)
		}
	}

	return buf.Bytes(), nil
}

// MultivariantPlaylist renders a multivariant playlist.
func MultivariantPlaylist(variants []SampleVariant) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, v := range variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", v.Bandwidth)
		if len(v.Codecs) > 0 {
			fmt.Fprintf(&b, ",CODECS=\"%s\"", strings.Join(v.Codecs, ","))
		}
		if v.Resolution != "" {
			fmt.Fprintf(&b, ",RESOLUTION=%s", v.Resolution)
		}
		b.WriteString("\n" + v.URI + "\n")
	}
	return b.String()
}

// MediaPlaylist renders a media playlist starting at sequence.
func MediaPlaylist(sequence int, segments []SampleSegment, ended bool) string {
	target := 1
	for _, s := range segments {
		if d := int(s.Duration + 0.5); d > target {
			target = d
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:%d\n", target, sequence)
	for _, s := range segments {
		if s.KeyURI != "" {
			fmt.Fprintf(&b, "#EXT-X-KEY:METHOD=AES-128,URI=\"%s\"", s.KeyURI)
			if s.IV != "" {
				fmt.Fprintf(&b, ",IV=%s", s.IV)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n%s\n", s.Duration, s.URI)
	}
	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
