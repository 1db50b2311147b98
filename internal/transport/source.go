package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/jmylchreest/hlsabr/internal/bandwidth"
)

// ErrUnsupportedScheme is returned for URIs no handler can open.
var ErrUnsupportedScheme = errors.New("unsupported URI scheme")

// Opener opens a byte range of a URI. A zero length reads to the end.
type Opener interface {
	Open(ctx context.Context, uri string, offset, length int64) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, uri string, offset, length int64) (io.ReadCloser, error)

func (f OpenerFunc) Open(ctx context.Context, uri string, offset, length int64) (io.ReadCloser, error) {
	return f(ctx, uri, offset, length)
}

// Source opens segment and playlist URIs. HTTP bodies are recorded on the
// bandwidth meter when one is configured.
type Source struct {
	client *Client
	meter  *bandwidth.Meter
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Opener
}

// NewSource creates a source. meter may be nil.
func NewSource(client *Client, meter *bandwidth.Meter) *Source {
	return &Source{
		client:   client,
		meter:    meter,
		logger:   client.logger,
		handlers: make(map[string]Opener),
	}
}

// Handle registers an opener for a URI scheme such as "aes".
func (s *Source) Handle(scheme string, opener Opener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToLower(scheme)] = opener
}

// Meter returns the bandwidth meter, which may be nil.
func (s *Source) Meter() *bandwidth.Meter {
	return s.meter
}

// Open returns a reader over length bytes of uri starting at offset.
func (s *Source) Open(ctx context.Context, uri string, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid byte range %d+%d", offset, length)
	}

	u, err := url.Parse(uri)
	if err != nil || isLocalPath(u) {
		return openFile(uri, offset, length)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "file":
		return openFile(u.Path, offset, length)
	case "http", "https":
		rc, err := s.openHTTP(ctx, uri, offset, length)
		if err != nil {
			return nil, err
		}
		if s.meter != nil {
			rc = s.meter.Reader(rc)
		}
		return rc, nil
	}

	s.mu.RLock()
	handler, ok := s.handlers[scheme]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return handler.Open(ctx, uri, offset, length)
}

func (s *Source) openHTTP(ctx context.Context, uri string, offset, length int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	ranged := offset > 0 || length > 0
	if ranged {
		req.Header.Set(HeaderRange, rangeHeader(offset, length))
		// Byte offsets address the stored representation.
		req.Header.Set(HeaderAcceptEncoding, EncodingIdentity)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		return limit(resp.Body, length), nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if ranged && offset > 0 {
			// Origin ignored the range.
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				resp.Body.Close()
				return nil, &Error{URL: obfuscateURL(req.URL), StatusCode: resp.StatusCode, Err: fmt.Errorf("skipping to offset %d: %w", offset, err)}
			}
		}
		return limit(resp.Body, length), nil
	default:
		resp.Body.Close()
		return nil, &Error{URL: obfuscateURL(req.URL), StatusCode: resp.StatusCode, Err: ErrBadStatus}
	}
}

func openFile(path string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{URL: path, Err: err}
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, &Error{URL: path, Err: err}
		}
	}
	return limit(f, length), nil
}

// isLocalPath reports whether u is a filesystem path rather than a URL.
// Single-letter schemes are Windows drive letters.
func isLocalPath(u *url.URL) bool {
	return u.Scheme == "" || len(u.Scheme) == 1
}

func rangeHeader(offset, length int64) string {
	if length > 0 {
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	return fmt.Sprintf("bytes=%d-", offset)
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

func limit(rc io.ReadCloser, length int64) io.ReadCloser {
	if length <= 0 {
		return rc
	}
	return limitedReadCloser{Reader: io.LimitReader(rc, length), Closer: rc}
}
