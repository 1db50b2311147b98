package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, v, commit, date string) {
	t.Helper()
	oldV, oldC, oldD := Version, Commit, Date
	Version, Commit, Date = v, commit, date
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })
}

func TestGetInfo(t *testing.T) {
	withBuild(t, "1.2.3", "abcdef1234567890", "2026-01-01T00:00:00Z")

	info := GetInfo()
	assert.Equal(t, "hlsabr", info.Application)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestShort(t *testing.T) {
	withBuild(t, "1.2.3", "abcdef1234567890", "unknown")
	assert.Equal(t, "hlsabr 1.2.3 (abcdef12)", Short())

	withBuild(t, "dev", "unknown", "unknown")
	assert.Equal(t, "hlsabr dev", Short())
}

func TestString(t *testing.T) {
	withBuild(t, "1.2.3", "abcdef1234567890", "2026-01-01T00:00:00Z")
	s := String()
	assert.True(t, strings.HasPrefix(s, "hlsabr version 1.2.3"))
	assert.Contains(t, s, "commit: abcdef12")

	withBuild(t, "dev", "short", "unknown")
	assert.NotContains(t, String(), "commit:")
}

func TestUserAgent(t *testing.T) {
	withBuild(t, "1.2.3", "unknown", "unknown")
	assert.Equal(t, "HLS Player hlsabr/1.2.3", UserAgent("HLS Player"))
	assert.Equal(t, "hlsabr/1.2.3", UserAgent(""))
}
