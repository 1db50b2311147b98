package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/hlsabr/internal/codec"
	"github.com/jmylchreest/hlsabr/internal/config"
	"github.com/jmylchreest/hlsabr/internal/session"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestToMap(t *testing.T) {
	m := toMap(defaultConfig(t))

	buffer, ok := m["buffer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "30.0 MB", buffer["max_bytes"])

	abr, ok := m["abr"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "10s", abr["downgrade_threshold"])
	assert.Equal(t, 0.75, abr["safety_fraction"])

	manifest, ok := m["manifest"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"avc1", "mp4a"}, manifest["fallback_codecs"])
}

func TestDumpConfig_RoundTrips(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, dumpConfig(&out, defaultConfig(t)))
	assert.Contains(t, out.String(), "# hlsabr Configuration File")

	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(&out))

	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, int64(30*1024*1024), cfg.Buffer.MaxBytes.Bytes())
	assert.Equal(t, 500*time.Millisecond, cfg.Transport.RetryDelay)
	assert.Equal(t, "HLS Player", cfg.Fetch.UserAgent)
}

func TestDumpConfig_IsYAML(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, dumpConfig(&out, defaultConfig(t)))

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Contains(t, doc, "transport")
	assert.Contains(t, doc, "history")
}

func TestTransportConfig(t *testing.T) {
	cfg := defaultConfig(t)
	tc := transportConfig(cfg, discard())
	assert.Equal(t, "HLS Player", tc.UserAgent)
	assert.Equal(t, 30*time.Second, tc.Timeout)
	assert.Equal(t, 5, tc.CircuitThreshold)

	cfg.Fetch.UserAgent = ""
	assert.Contains(t, transportConfig(cfg, discard()).UserAgent, "hlsabr/")
}

func TestNewStack_Session(t *testing.T) {
	st, err := newStack(defaultConfig(t), "http://cdn.test/master.m3u8", discard())
	require.NoError(t, err)

	s, err := st.newSession(nil)
	require.NoError(t, err)
	defer s.Release()
	assert.Equal(t, "unprepared", s.Snapshot().State)
	assert.Equal(t, "http://cdn.test/master.m3u8", s.Snapshot().URL)
}

func TestNewStack_RejectsUnknownParser(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Manifest.Parser = "nope"
	_, err := newStack(cfg, "http://cdn.test/master.m3u8", discard())
	assert.Error(t, err)
}

func TestPrintProbe(t *testing.T) {
	var out bytes.Buffer
	err := printProbe(&out, session.Snapshot{
		URL:        "http://cdn.test/master.m3u8",
		Variants:   []int{400_000, 1_200_000},
		Bitrate:    400_000,
		Sequence:   10,
		DurationUs: 20_000_000,
		Tracks: []session.TrackInfo{
			{Type: codec.TrackAudio, MIME: codec.MIMEAudioAAC},
			{Type: codec.TrackVideo, MIME: codec.MIMEVideoH264},
		},
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Duration:  20s")
	assert.Contains(t, text, "Selected:  400 kbps at sequence 10")
	assert.Contains(t, text, "1.2 Mbps")
	assert.Contains(t, text, "audio")
	assert.Contains(t, text, codec.MIMEVideoH264)
	assert.NotContains(t, text, "synthetic")
}
