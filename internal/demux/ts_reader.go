package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/hlsabr/internal/codec"
	"github.com/jmylchreest/hlsabr/internal/observability"
)

// TSReader demuxes MPEG-TS with mediacommon. Tracks are discovered lazily
// on the first NextSample call.
type TSReader struct {
	src    *countingReader
	reader *mpegts.Reader
	logger *slog.Logger

	initialized  bool
	pending      queue
	err          error
	decodeErrors int
}

// NewTSReader creates a mediacommon-backed demuxer over r.
func NewTSReader(r io.Reader, logger *slog.Logger) *TSReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &TSReader{
		src:    &countingReader{r: r},
		logger: logger,
	}
}

// NextSample implements Demuxer.
func (d *TSReader) NextSample() (*Sample, error) {
	if !d.initialized {
		d.initialized = true
		if err := d.initialize(); err != nil {
			d.err = err
		}
	}

	for {
		if s, ok := d.pending.pop(); ok {
			return s, nil
		}
		if d.err != nil {
			return nil, d.err
		}
		if err := d.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				d.err = io.EOF
			} else {
				d.err = parseError(err)
			}
		}
	}
}

// Release implements Demuxer.
func (d *TSReader) Release() {
	d.pending.reset()
	if d.err == nil {
		d.err = io.EOF
	}
	if d.decodeErrors > 0 {
		d.logger.Debug("segment had recoverable decode errors", slog.Int("count", d.decodeErrors))
	}
}

func (d *TSReader) initialize() error {
	d.reader = &mpegts.Reader{R: d.src}

	// Reads until PAT/PMT are found.
	if err := d.reader.Initialize(); err != nil {
		if d.src.n == 0 && errors.Is(err, io.EOF) {
			return io.EOF
		}
		return parseError(fmt.Errorf("initializing mpegts reader: %w", err))
	}

	for _, track := range d.reader.Tracks() {
		d.setupTrack(track)
	}

	d.reader.OnDecodeError(func(err error) {
		d.decodeErrors++
		d.logger.Log(context.Background(), observability.LevelTrace, "MPEG-TS decode error", slog.String("error", err.Error()))
	})
	return nil
}

func (d *TSReader) setupTrack(track *mpegts.Track) {
	switch c := track.Codec.(type) {
	case *mpegts.CodecH264:
		d.reader.OnDataH264(track, func(pts, _ int64, au [][]byte) error {
			return d.pushVideo(pts, au, h264.IsRandomAccess(au))
		})

	case *mpegts.CodecH265:
		d.reader.OnDataH265(track, func(pts, _ int64, au [][]byte) error {
			return d.pushVideo(pts, au, h265.IsRandomAccess(au))
		})

	case *mpegts.CodecMPEG4Audio:
		cfg := mpeg4audio.AudioSpecificConfig(c.Config)
		frameTicks := aacFrameTicks(cfg.SampleRate)
		d.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			for _, au := range aus {
				if len(au) == 0 {
					continue
				}
				frame, err := codec.WrapADTS(&cfg, au)
				if err != nil {
					return err
				}
				d.pending.push(&Sample{
					Type:   codec.TrackAudio,
					TimeUs: ticksToMicros(pts),
					Data:   frame,
					Sync:   true,
				})
				pts += frameTicks
			}
			return nil
		})

	default:
		d.logger.Debug("ignoring unsupported track",
			slog.Uint64("pid", uint64(track.PID)),
			slog.String("codec", fmt.Sprintf("%T", c)),
		)
	}
}

func (d *TSReader) pushVideo(pts int64, au [][]byte, sync bool) error {
	if len(au) == 0 {
		return nil
	}
	data, err := h264.AnnexB(au).Marshal()
	if err != nil {
		return err
	}
	d.pending.push(&Sample{
		Type:   codec.TrackVideo,
		TimeUs: ticksToMicros(pts),
		Data:   data,
		Sync:   sync,
	})
	return nil
}
