package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	return cfg
}

func TestClient_Get(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "HLS Player", r.Header.Get(HeaderUserAgent))
			w.Write([]byte("#EXTM3U"))
		}))
		defer server.Close()

		resp, err := New(testConfig()).Get(context.Background(), server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "#EXTM3U", string(body))
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := New(testConfig()).Get(context.Background(), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBadStatus)

		var terr *Error
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, http.StatusNotFound, terr.StatusCode)
	})
}

func TestClient_Retries(t *testing.T) {
	t.Run("recovers after retryable status", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok"))
		}))
		defer server.Close()

		resp, err := New(testConfig()).Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		cfg := testConfig()
		cfg.RetryAttempts = 1
		_, err := New(cfg).Get(context.Background(), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMaxRetries)

		var terr *Error
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		_, err := New(testConfig()).Get(context.Background(), server.URL)
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		cfg := testConfig()
		cfg.RetryDelay = time.Hour
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := New(cfg).Get(ctx, server.URL)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestClient_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RetryAttempts = 0
	cfg.CircuitThreshold = 2
	cfg.CircuitTimeout = time.Hour
	client := New(cfg)

	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), server.URL)
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, client.CircuitState())

	_, err := client.Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())

	client.ResetCircuit()
	assert.Equal(t, CircuitClosed, client.CircuitState())
}

func TestClient_Decompression(t *testing.T) {
	payload := bytes.Repeat([]byte("#EXTINF:4.0,\nseg.ts\n"), 50)

	encoders := map[string]func(io.Writer) io.WriteCloser{
		EncodingGzip: func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		EncodingBrotli: func(w io.Writer) io.WriteCloser {
			return brotli.NewWriter(w)
		},
	}

	for encoding, newWriter := range encoders {
		t.Run(encoding, func(t *testing.T) {
			var buf bytes.Buffer
			zw := newWriter(&buf)
			_, err := zw.Write(payload)
			require.NoError(t, err)
			require.NoError(t, zw.Close())

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.Header.Get(HeaderAcceptEncoding), encoding)
				w.Header().Set(HeaderContentEncoding, encoding)
				w.Write(buf.Bytes())
			}))
			defer server.Close()

			resp, err := New(testConfig()).Get(context.Background(), server.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestObfuscateURL(t *testing.T) {
	u, err := url.Parse("https://user:pw@cdn.example.com/live.m3u8?token=abc&quality=hd")
	require.NoError(t, err)

	got := obfuscateURL(u)
	assert.NotContains(t, got, "abc")
	assert.NotContains(t, got, "pw")
	assert.Contains(t, got, "quality=hd")

	assert.Equal(t, "", obfuscateURL(nil))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "http://cdn.test/seg.ts?sig=%2A%2A%2A", RedactURL("http://cdn.test/seg.ts?sig=abc"))
	assert.Equal(t, "/local/seg.ts", RedactURL("/local/seg.ts"))
	assert.Equal(t, "%zz", RedactURL("%zz"))
}

func TestError(t *testing.T) {
	err := &Error{URL: "http://x/seg.ts", StatusCode: 500, Err: ErrBadStatus}
	assert.Contains(t, err.Error(), "status 500")
	assert.ErrorIs(t, err, ErrBadStatus)

	err = &Error{URL: "seg.ts", Err: io.ErrUnexpectedEOF}
	assert.Equal(t, "request seg.ts: unexpected EOF", err.Error())
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		assert.True(t, isRetryableStatus(code), code)
	}
	for _, code := range []int{200, 206, 400, 404, 500} {
		assert.False(t, isRetryableStatus(code), code)
	}
}
