package hls

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const multivariantPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=1200000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720
hi/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=200000,CODECS="avc1.42e00a,mp4a.40.2",RESOLUTION=416x234
lo/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=500000,CODECS="avc1.4d401e,mp4a.40.2",RESOLUTION=640x360
https://other.example.com/mid/index.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:4
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:7
#EXTINF:4.000,
seg7.ts
#EXT-X-KEY:METHOD=AES-128,URI="keys/k1.bin",IV=0x000102030405060708090a0b0c0d0e0f
#EXTINF:4.000,
seg8.ts
#EXTINF:2.000,
seg9.ts
#EXT-X-ENDLIST
`

const byteRangePlaylist = `#EXTM3U
#EXT-X-VERSION:4
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.000,
#EXT-X-BYTERANGE:1000@0
media.ts
#EXTINF:4.000,
#EXT-X-BYTERANGE:2000@1000
media.ts
#EXT-X-ENDLIST
`

type memOpener map[string][]byte

func (m memOpener) Open(_ context.Context, uri string, _, _ int64) (io.ReadCloser, error) {
	data, ok := m[uri]
	if !ok {
		return nil, errors.New("not found: " + uri)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func parsers() map[string]Parser {
	return map[string]Parser{"gohlslib": GohlslibParser{}, "m3u8": M3U8Parser{}}
}

func TestParse_Multivariant(t *testing.T) {
	for name, p := range parsers() {
		t.Run(name, func(t *testing.T) {
			pl, err := p.Parse([]byte(multivariantPlaylist), "https://cdn.example.com/live/master.m3u8")
			require.NoError(t, err)
			require.NotNil(t, pl.Manifest)
			assert.Nil(t, pl.Media)

			vs := pl.Manifest.Variants
			require.Len(t, vs, 3)
			assert.Equal(t, []int{200000, 500000, 1200000}, []int{vs[0].Bitrate, vs[1].Bitrate, vs[2].Bitrate})
			assert.Equal(t, "https://cdn.example.com/live/lo/index.m3u8", vs[0].URL)
			assert.Equal(t, "https://other.example.com/mid/index.m3u8", vs[1].URL)
			assert.Equal(t, []string{"avc1.42e00a", "mp4a.40.2"}, vs[0].Codecs)
			assert.Equal(t, 416, vs[0].Width())
			assert.Equal(t, 234, vs[0].Height())
			assert.False(t, pl.Manifest.Synthetic)
		})
	}
}

func TestParse_Media(t *testing.T) {
	for name, p := range parsers() {
		t.Run(name, func(t *testing.T) {
			pl, err := p.Parse([]byte(mediaPlaylist), "https://cdn.example.com/live/lo/index.m3u8")
			require.NoError(t, err)
			require.NotNil(t, pl.Media)

			list := pl.Media
			assert.Equal(t, 7, list.MediaSequence)
			assert.Equal(t, 4*time.Second, list.TargetDuration)
			assert.True(t, list.Ended)
			require.Len(t, list.Segments, 3)
			assert.Equal(t, 10*time.Second, list.Duration())
			assert.Equal(t, 10, list.End())

			assert.Equal(t, "https://cdn.example.com/live/lo/seg7.ts", list.Segments[0].URI)
			assert.Nil(t, list.Segments[0].Encryption)

			for _, seg := range list.Segments[1:] {
				require.NotNil(t, seg.Encryption, seg.URI)
				assert.Equal(t, "AES-128", seg.Encryption.Method)
				assert.Equal(t, "https://cdn.example.com/live/lo/keys/k1.bin", seg.Encryption.KeyURL)
				assert.Equal(t, "0x000102030405060708090a0b0c0d0e0f", seg.Encryption.IV)
			}

			seg, ok := list.At(8)
			require.True(t, ok)
			assert.Equal(t, "https://cdn.example.com/live/lo/seg8.ts", seg.URI)
			_, ok = list.At(6)
			assert.False(t, ok)
			_, ok = list.At(10)
			assert.False(t, ok)
		})
	}
}

func TestParse_ByteRange(t *testing.T) {
	for name, p := range parsers() {
		t.Run(name, func(t *testing.T) {
			pl, err := p.Parse([]byte(byteRangePlaylist), "https://cdn.example.com/vod/index.m3u8")
			require.NoError(t, err)
			require.Len(t, pl.Media.Segments, 2)

			assert.Equal(t, int64(0), pl.Media.Segments[0].Offset)
			assert.Equal(t, int64(1000), pl.Media.Segments[0].Length)
			assert.Equal(t, int64(1000), pl.Media.Segments[1].Offset)
			assert.Equal(t, int64(2000), pl.Media.Segments[1].Length)
		})
	}
}

func TestParse_Garbage(t *testing.T) {
	for name, p := range parsers() {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse([]byte("<html>not a playlist</html>"), "https://cdn.example.com/x.m3u8")
			assert.Error(t, err)
		})
	}
}

func TestNewParser(t *testing.T) {
	p, err := NewParser("gohlslib")
	require.NoError(t, err)
	assert.IsType(t, GohlslibParser{}, p)

	p, err = NewParser("m3u8")
	require.NoError(t, err)
	assert.IsType(t, M3U8Parser{}, p)

	_, err = NewParser("regex")
	assert.Error(t, err)
}

func TestVariant_Helpers(t *testing.T) {
	v := &Variant{Codecs: []string{"avc1.64001f", "mp4a.40.2"}}
	assert.Equal(t, -1, v.Width())
	assert.Equal(t, -1, v.Height())
	assert.True(t, v.HasCodec("mp4a"))
	assert.False(t, v.HasCodec("hvc1", "hev1"))
	assert.Equal(t, "avc1.64001f", v.CodecWith("avc1", "avc3"))
	assert.Empty(t, v.CodecWith("ac-3"))

	v.Resolution = "widexhigh"
	assert.Equal(t, -1, v.Width())
}

func TestSyntheticManifest(t *testing.T) {
	codecs := []string{"avc1", "mp4a"}
	m := SyntheticManifest("https://cdn.example.com/x.m3u8", codecs)
	require.Len(t, m.Variants, 1)
	assert.True(t, m.Synthetic)
	assert.Zero(t, m.Variants[0].Bitrate)
	assert.Equal(t, "https://cdn.example.com/x.m3u8", m.Variants[0].URL)

	codecs[0] = "changed"
	assert.Equal(t, "avc1", m.Variants[0].Codecs[0])
}

func TestLoader_Decompression(t *testing.T) {
	plain := []byte(mediaPlaylist)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var bz bytes.Buffer
	bw, err := bzip2.NewWriter(&bz, nil)
	require.NoError(t, err)
	_, err = bw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, err = xw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	loader := NewLoader(memOpener{
		"plain": plain,
		"gz":    gz.Bytes(),
		"bz":    bz.Bytes(),
		"xz":    xzBuf.Bytes(),
	}, 0)

	for _, uri := range []string{"plain", "gz", "bz", "xz"} {
		t.Run(uri, func(t *testing.T) {
			data, err := loader.Load(context.Background(), uri)
			require.NoError(t, err)
			assert.Equal(t, plain, data)
		})
	}
}

func TestLoader_SizeLimit(t *testing.T) {
	loader := NewLoader(memOpener{"big": bytes.Repeat([]byte("#"), 128)}, 64)
	_, err := loader.Load(context.Background(), "big")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestLoader_OpenError(t *testing.T) {
	loader := NewLoader(memOpener{}, 0)
	_, err := loader.Load(context.Background(), "missing")
	assert.Error(t, err)
}

func TestResolver_Multivariant(t *testing.T) {
	opener := memOpener{
		"https://cdn.example.com/live/master.m3u8":   []byte(multivariantPlaylist),
		"https://cdn.example.com/live/lo/index.m3u8": []byte(mediaPlaylist),
	}
	r := NewResolver(ResolverConfig{
		URL:    "https://cdn.example.com/live/master.m3u8",
		Loader: NewLoader(opener, 0),
	})

	m, err := r.ResolveManifest(context.Background())
	require.NoError(t, err)
	require.Len(t, m.Variants, 3)

	list, err := r.ResolveSegmentList(context.Background(), m.Variants[0])
	require.NoError(t, err)
	assert.Equal(t, 7, list.MediaSequence)

	// Cached lists survive the source going away.
	delete(opener, "https://cdn.example.com/live/lo/index.m3u8")
	again, err := r.ResolveSegmentList(context.Background(), m.Variants[0])
	require.NoError(t, err)
	assert.Same(t, list, again)

	_, err = r.ResolveSegmentList(context.Background(), m.Variants[2])
	assert.Error(t, err)
}

func TestResolver_MediaPlaylistAtTopLevel(t *testing.T) {
	url := "https://cdn.example.com/live/lo/index.m3u8"
	r := NewResolver(ResolverConfig{
		URL:            url,
		Loader:         NewLoader(memOpener{url: []byte(mediaPlaylist)}, 0),
		Parser:         M3U8Parser{},
		FallbackCodecs: []string{"avc1", "mp4a"},
	})

	m, err := r.ResolveManifest(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Synthetic)
	require.Len(t, m.Variants, 1)
	assert.Equal(t, []string{"avc1", "mp4a"}, m.Variants[0].Codecs)

	list, err := r.ResolveSegmentList(context.Background(), m.Variants[0])
	require.NoError(t, err)
	assert.Len(t, list.Segments, 3)
}

func TestResolver_VariantIsNotMedia(t *testing.T) {
	opener := memOpener{
		"https://cdn.example.com/live/master.m3u8":   []byte(multivariantPlaylist),
		"https://cdn.example.com/live/lo/index.m3u8": []byte(multivariantPlaylist),
	}
	r := NewResolver(ResolverConfig{URL: "https://cdn.example.com/live/master.m3u8", Loader: NewLoader(opener, 0)})

	m, err := r.ResolveManifest(context.Background())
	require.NoError(t, err)
	_, err = r.ResolveSegmentList(context.Background(), m.Variants[0])
	assert.ErrorIs(t, err, ErrNotMediaPlaylist)
}

func TestResolveReference_LocalPath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "index.m3u8")
	require.NoError(t, os.WriteFile(base, []byte(mediaPlaylist), 0o600))

	got, err := resolveReference(base, "seg7.ts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "seg7.ts"), got)
}
