package hls

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// DefaultMaxPlaylistBytes caps playlist documents when no limit is configured.
const DefaultMaxPlaylistBytes = 4 * 1024 * 1024

// Opener opens a byte range of a URI. A zero length reads to the end.
type Opener interface {
	Open(ctx context.Context, uri string, offset, length int64) (io.ReadCloser, error)
}

// Loader reads playlist documents, transparently inflating gzip, bzip2
// and xz payloads.
type Loader struct {
	opener   Opener
	maxBytes int64
}

// NewLoader creates a loader. maxBytes <= 0 selects DefaultMaxPlaylistBytes.
func NewLoader(opener Opener, maxBytes int64) *Loader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPlaylistBytes
	}
	return &Loader{opener: opener, maxBytes: maxBytes}
}

// Load returns the decoded playlist document at uri.
func (l *Loader) Load(ctx context.Context, uri string) ([]byte, error) {
	rc, err := l.opener.Open(ctx, uri, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("opening playlist: %w", err)
	}
	defer rc.Close()

	r, err := decompress(rc)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("playlist exceeds %d bytes", l.maxBytes)
	}
	return data, nil
}

// decompress detects compression from magic bytes.
func decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	}

	return br, nil
}
