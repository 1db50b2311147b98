package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsabr/internal/codec"
	"github.com/jmylchreest/hlsabr/internal/demux"
	"github.com/jmylchreest/hlsabr/internal/fetch"
	"github.com/jmylchreest/hlsabr/internal/hls"
)

const (
	segmentDuration = 4 * time.Second
	videoSampleSize = 100
)

// fakeManifest serves a fixed presentation.
type fakeManifest struct {
	url      string
	fallback []string
	manifest *hls.Manifest
	err      error
	lists    map[string]*hls.SegmentList
	listErr  map[string]error

	mu       sync.Mutex
	resolves int
}

func (f *fakeManifest) URL() string              { return f.url }
func (f *fakeManifest) FallbackCodecs() []string { return f.fallback }

func (f *fakeManifest) ResolveManifest(context.Context) (*hls.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.err != nil {
		return nil, f.err
	}
	return f.manifest, nil
}

func (f *fakeManifest) ResolveSegmentList(_ context.Context, v *hls.Variant) (*hls.SegmentList, error) {
	if err := f.listErr[v.URL]; err != nil {
		return nil, err
	}
	list, ok := f.lists[v.URL]
	if !ok {
		return nil, hls.ErrNotMediaPlaylist
	}
	return list, nil
}

// segmentList builds a list whose segment URIs end in their sequence number.
func segmentList(base string, mediaSequence, count int) *hls.SegmentList {
	list := &hls.SegmentList{URL: base + "/index.m3u8", MediaSequence: mediaSequence, TargetDuration: segmentDuration}
	for i := 0; i < count; i++ {
		list.Segments = append(list.Segments, hls.Segment{
			URI:      fmt.Sprintf("%s/%d.ts", base, mediaSequence+i),
			Duration: segmentDuration,
		})
	}
	return list
}

// ladder builds a presentation with one variant per bitrate.
func ladder(codecs []string, bitrates ...int) *fakeManifest {
	f := &fakeManifest{
		url:      "http://cdn.test/master.m3u8",
		fallback: []string{"avc1", "mp4a"},
		manifest: &hls.Manifest{URL: "http://cdn.test/master.m3u8"},
		lists:    make(map[string]*hls.SegmentList),
		listErr:  make(map[string]error),
	}
	for _, bps := range bitrates {
		base := fmt.Sprintf("http://cdn.test/%dk", bps/1000)
		v := &hls.Variant{Bitrate: bps, Resolution: "640x360", Codecs: codecs, URL: base + "/index.m3u8"}
		f.manifest.Variants = append(f.manifest.Variants, v)
		f.lists[v.URL] = segmentList(base, 10, 5)
	}
	return f
}

// fakeEstimator returns a settable estimate.
type fakeEstimator struct{ bps atomic.Int64 }

func (e *fakeEstimator) EstimateBps() int64 { return e.bps.Load() }

// fakeOpener returns the segment's base name as its body. Failures can be
// scheduled per URI; blocking URIs stall until the fetch is cancelled and
// stuck URIs stall until their channel is closed, ignoring cancellation.
type fakeOpener struct {
	mu       sync.Mutex
	uris     []string
	failures map[string]int
	block    map[string]bool
	stuck    map[string]chan struct{}
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		failures: make(map[string]int),
		block:    make(map[string]bool),
		stuck:    make(map[string]chan struct{}),
	}
}

func (o *fakeOpener) Open(ctx context.Context, uri string, _, _ int64) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uris = append(o.uris, uri)
	if o.failures[uri] > 0 {
		o.failures[uri]--
		return nil, errors.New("connection reset")
	}
	if o.block[uri] {
		return io.NopCloser(ctxReader{ctx}), nil
	}
	if ch, ok := o.stuck[uri]; ok {
		return io.NopCloser(chanReader{ch}), nil
	}
	return io.NopCloser(strings.NewReader(strings.TrimSuffix(path.Base(uri), ".ts"))), nil
}

func (o *fakeOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.uris...)
}

type ctxReader struct{ ctx context.Context }

func (r ctxReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

type chanReader struct{ ch <-chan struct{} }

func (r chanReader) Read([]byte) (int, error) {
	<-r.ch
	return 0, io.EOF
}

// sequenceDemuxer reads a sequence number and yields a video sample at the
// start and three seconds into that segment, plus one audio frame. A body
// that is not a number is a parse error.
type sequenceDemuxer struct {
	r       io.Reader
	audio   []byte
	samples []*demux.Sample
	loaded  bool
}

func sequenceDemuxers(t *testing.T) demux.Factory {
	t.Helper()
	frame, err := codec.WrapADTS(&mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   48000,
		ChannelCount: 2,
	}, make([]byte, 16))
	require.NoError(t, err)

	return func(r io.Reader) demux.Demuxer {
		return &sequenceDemuxer{r: r, audio: frame}
	}
}

func (d *sequenceDemuxer) load() error {
	body, err := io.ReadAll(d.r)
	if err != nil {
		return err
	}
	seq, err := strconv.Atoi(string(body))
	if err != nil {
		return fmt.Errorf("%w: %q is not a segment", demux.ErrParse, body)
	}
	start := int64(seq-10) * segmentDuration.Microseconds()
	d.samples = []*demux.Sample{
		{Type: codec.TrackVideo, TimeUs: start, Data: make([]byte, videoSampleSize), Sync: true},
		{Type: codec.TrackAudio, TimeUs: start, Data: d.audio, Sync: true},
		{Type: codec.TrackVideo, TimeUs: start + 3_000_000, Data: make([]byte, videoSampleSize)},
	}
	return nil
}

func (d *sequenceDemuxer) NextSample() (*demux.Sample, error) {
	if !d.loaded {
		d.loaded = true
		if err := d.load(); err != nil {
			return nil, err
		}
	}
	if len(d.samples) == 0 {
		return nil, io.EOF
	}
	s := d.samples[0]
	d.samples = d.samples[1:]
	return s, nil
}

func (d *sequenceDemuxer) Release() {}

// recordingObserver keeps every fetch result.
type recordingObserver struct {
	mu      sync.Mutex
	results []fetch.Result
}

func (o *recordingObserver) FetchCompleted(_ context.Context, _ string, res fetch.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
}

func (o *recordingObserver) outcomes() []fetch.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []fetch.Outcome
	for _, r := range o.results {
		out = append(out, r.Outcome)
	}
	return out
}
