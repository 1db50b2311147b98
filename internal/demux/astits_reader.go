package demux

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/hlsabr/internal/codec"
)

type esKind int

const (
	esH264 esKind = iota
	esH265
	esAAC
)

// AstitsReader demuxes MPEG-TS with go-astits, mapping elementary streams
// from the PMT.
type AstitsReader struct {
	dmx     *astits.Demuxer
	cancel  context.CancelFunc
	logger  *slog.Logger
	streams map[uint16]esKind
	pending queue
	err     error
}

// NewAstitsReader creates a go-astits-backed demuxer over r. The packet
// size is fixed at 188 bytes; size detection drops data on readers that
// cannot seek.
func NewAstitsReader(r io.Reader, logger *slog.Logger) *AstitsReader {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AstitsReader{
		dmx:     astits.NewDemuxer(ctx, bufio.NewReader(r), astits.DemuxerOptPacketSize(astits.MpegTsPacketSize)),
		cancel:  cancel,
		logger:  logger,
		streams: make(map[uint16]esKind),
	}
}

// NextSample implements Demuxer.
func (d *AstitsReader) NextSample() (*Sample, error) {
	for {
		if s, ok := d.pending.pop(); ok {
			return s, nil
		}
		if d.err != nil {
			return nil, d.err
		}

		data, err := d.dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				d.err = io.EOF
			} else {
				d.err = parseError(err)
			}
			continue
		}
		d.handle(data)
	}
}

// Release implements Demuxer.
func (d *AstitsReader) Release() {
	d.cancel()
	d.pending.reset()
	if d.err == nil {
		d.err = io.EOF
	}
}

func (d *AstitsReader) handle(data *astits.DemuxerData) {
	if data.PMT != nil {
		for _, es := range data.PMT.ElementaryStreams {
			switch es.StreamType {
			case astits.StreamTypeH264Video:
				d.streams[es.ElementaryPID] = esH264
			case astits.StreamTypeH265Video:
				d.streams[es.ElementaryPID] = esH265
			case astits.StreamTypeAACAudio:
				d.streams[es.ElementaryPID] = esAAC
			default:
				d.logger.Debug("ignoring unsupported elementary stream",
					slog.Uint64("pid", uint64(es.ElementaryPID)),
					slog.Int("stream_type", int(es.StreamType)),
				)
			}
		}
		return
	}

	if data.PES == nil || len(data.PES.Data) == 0 {
		return
	}
	kind, ok := d.streams[data.PID]
	if !ok {
		return
	}

	var pts int64
	if h := data.PES.Header; h != nil && h.OptionalHeader != nil && h.OptionalHeader.PTS != nil {
		pts = h.OptionalHeader.PTS.Base
	}

	switch kind {
	case esH264, esH265:
		var au h264.AnnexB
		if err := au.Unmarshal(data.PES.Data); err != nil {
			d.err = parseError(err)
			return
		}
		sync := h264.IsRandomAccess(au)
		if kind == esH265 {
			sync = h265.IsRandomAccess(au)
		}
		d.pending.push(&Sample{
			Type:   codec.TrackVideo,
			TimeUs: ticksToMicros(pts),
			Data:   data.PES.Data,
			Sync:   sync,
		})

	case esAAC:
		for _, frame := range codec.SplitADTS(data.PES.Data) {
			var rate int
			if cfg, err := codec.ParseADTSHeader(frame); err == nil {
				rate = cfg.SampleRate
			}
			d.pending.push(&Sample{
				Type:   codec.TrackAudio,
				TimeUs: ticksToMicros(pts),
				Data:   frame,
				Sync:   true,
			})
			pts += aacFrameTicks(rate)
		}
	}
}
