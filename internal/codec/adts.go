package codec

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// ADTSHeaderSize is the size of an ADTS header without CRC.
const ADTSHeaderSize = 7

// ErrNotADTS is returned when data does not start with an ADTS header.
var ErrNotADTS = errors.New("not an ADTS frame")

var adtsSampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// ParseADTSHeader extracts the MPEG-4 audio configuration from the first
// bytes of an ADTS frame.
func ParseADTSHeader(data []byte) (*mpeg4audio.AudioSpecificConfig, error) {
	if len(data) < ADTSHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotADTS, len(data))
	}
	if data[0] != 0xFF || data[1]&0xF0 != 0xF0 {
		return nil, ErrNotADTS
	}

	// Profile is stored as object type - 1.
	profile := ((data[2] >> 6) & 0x03) + 1
	sampleRateIndex := (data[2] >> 2) & 0x0F
	channelConfig := ((data[2] & 0x01) << 2) | ((data[3] >> 6) & 0x03)

	rate := adtsSampleRates[sampleRateIndex]
	if rate == 0 {
		return nil, fmt.Errorf("%w: reserved sample rate index %d", ErrNotADTS, sampleRateIndex)
	}

	return &mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectType(profile),
		SampleRate:   rate,
		ChannelCount: int(channelConfig),
	}, nil
}

// WrapADTS prefixes a raw AAC access unit with an ADTS header.
func WrapADTS(cfg *mpeg4audio.AudioSpecificConfig, au []byte) ([]byte, error) {
	index := -1
	for i, rate := range adtsSampleRates {
		if rate != 0 && rate == cfg.SampleRate {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("sample rate %d cannot be expressed in ADTS", cfg.SampleRate)
	}
	if cfg.Type < 1 || cfg.Type > 4 {
		return nil, fmt.Errorf("object type %d cannot be expressed in ADTS", cfg.Type)
	}
	if cfg.ChannelCount < 0 || cfg.ChannelCount > 7 {
		return nil, fmt.Errorf("channel count %d cannot be expressed in ADTS", cfg.ChannelCount)
	}

	frameLen := ADTSHeaderSize + len(au)
	if frameLen > 0x1FFF {
		return nil, fmt.Errorf("access unit of %d bytes too large for ADTS", len(au))
	}

	profile := byte(cfg.Type-1) & 0x03
	channels := byte(cfg.ChannelCount)

	out := make([]byte, frameLen)
	out[0] = 0xFF
	out[1] = 0xF1 // MPEG-4, layer 0, no CRC
	out[2] = profile<<6 | byte(index)<<2 | (channels>>2)&0x01
	out[3] = (channels&0x03)<<6 | byte(frameLen>>11)&0x03
	out[4] = byte(frameLen >> 3)
	out[5] = byte(frameLen&0x07)<<5 | 0x1F
	out[6] = 0xFC
	copy(out[ADTSHeaderSize:], au)
	return out, nil
}

// SplitADTS splits concatenated ADTS frames, headers included. Bytes before
// the first sync word are skipped and a truncated trailing frame is dropped.
func SplitADTS(data []byte) [][]byte {
	var frames [][]byte
	offset := 0

	for offset+ADTSHeaderSize <= len(data) {
		if data[offset] != 0xFF || data[offset+1]&0xF0 != 0xF0 {
			offset++
			continue
		}

		headerSize := ADTSHeaderSize
		if data[offset+1]&0x01 == 0 {
			headerSize += 2 // CRC
		}

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)

		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}

		frames = append(frames, data[offset:offset+frameLen])
		offset += frameLen
	}

	return frames
}

// HeaderParser derives a track format from the first bytes of a sample.
type HeaderParser interface {
	ParseFormat(sample []byte) (Format, error)
}

// ADTSParser derives AAC formats from ADTS headers.
type ADTSParser struct{}

// ParseFormat implements HeaderParser.
func (ADTSParser) ParseFormat(sample []byte) (Format, error) {
	cfg, err := ParseADTSHeader(sample)
	if err != nil {
		return Format{}, err
	}
	return AudioFormat(cfg), nil
}
