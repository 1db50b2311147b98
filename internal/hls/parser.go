package hls

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/grafov/m3u8"
)

// Playlist is the result of parsing one playlist document.
// Exactly one of Manifest and Media is set.
type Playlist struct {
	Manifest *Manifest
	Media    *SegmentList
}

// Parser turns playlist bytes fetched from baseURL into a Playlist.
// Relative URIs are resolved against baseURL.
type Parser interface {
	Parse(data []byte, baseURL string) (*Playlist, error)
}

// NewParser returns the parser registered under name.
func NewParser(name string) (Parser, error) {
	switch name {
	case "", "gohlslib":
		return GohlslibParser{}, nil
	case "m3u8":
		return M3U8Parser{}, nil
	default:
		return nil, fmt.Errorf("unknown playlist parser %q", name)
	}
}

// GohlslibParser parses playlists with gohlslib's strict playlist package.
type GohlslibParser struct{}

// Parse implements Parser.
func (GohlslibParser) Parse(data []byte, baseURL string) (*Playlist, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling playlist: %w", err)
	}

	switch pl := pl.(type) {
	case *playlist.Multivariant:
		m := &Manifest{URL: baseURL}
		for _, v := range pl.Variants {
			if v == nil {
				continue
			}
			u, err := resolveReference(baseURL, v.URI)
			if err != nil {
				return nil, err
			}
			m.Variants = append(m.Variants, &Variant{
				Bitrate:    v.Bandwidth,
				Resolution: v.Resolution,
				Codecs:     v.Codecs,
				URL:        u,
			})
		}
		return finishManifest(m)

	case *playlist.Media:
		list := &SegmentList{
			URL:            baseURL,
			MediaSequence:  pl.MediaSequence,
			TargetDuration: time.Duration(pl.TargetDuration) * time.Second,
			Ended:          pl.Endlist,
		}
		var key *EncryptionInfo
		var prev *Segment
		for _, s := range pl.Segments {
			if s == nil {
				continue
			}
			if s.Key != nil {
				key = encryptionFrom(string(s.Key.Method), s.Key.URI, s.Key.IV, baseURL)
			}
			u, err := resolveReference(baseURL, s.URI)
			if err != nil {
				return nil, err
			}
			seg := Segment{URI: u, Duration: s.Duration, Encryption: key}
			if s.ByteRangeLength != nil {
				seg.Length = int64(*s.ByteRangeLength)
				switch {
				case s.ByteRangeStart != nil:
					seg.Offset = int64(*s.ByteRangeStart)
				case prev != nil && prev.URI == u:
					seg.Offset = prev.Offset + prev.Length
				}
			}
			list.Segments = append(list.Segments, seg)
			prev = &list.Segments[len(list.Segments)-1]
		}
		return &Playlist{Media: list}, nil

	default:
		return nil, fmt.Errorf("unsupported playlist type %T", pl)
	}
}

// M3U8Parser parses playlists with grafov/m3u8, which tolerates more
// malformed input than the strict parser.
type M3U8Parser struct{}

// Parse implements Parser.
func (M3U8Parser) Parse(data []byte, baseURL string) (*Playlist, error) {
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, fmt.Errorf("decoding playlist: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		master, ok := pl.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, fmt.Errorf("unexpected playlist type %T", pl)
		}
		m := &Manifest{URL: baseURL}
		for _, v := range master.Variants {
			if v == nil {
				continue
			}
			u, err := resolveReference(baseURL, v.URI)
			if err != nil {
				return nil, err
			}
			m.Variants = append(m.Variants, &Variant{
				Bitrate:    int(v.Bandwidth),
				Resolution: v.Resolution,
				Codecs:     splitCodecs(v.Codecs),
				URL:        u,
			})
		}
		return finishManifest(m)

	case m3u8.MEDIA:
		media, ok := pl.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, fmt.Errorf("unexpected playlist type %T", pl)
		}
		list := &SegmentList{
			URL:            baseURL,
			MediaSequence:  int(media.SeqNo),
			TargetDuration: time.Duration(media.TargetDuration * float64(time.Second)),
			Ended:          media.Closed,
		}
		var key *EncryptionInfo
		if media.Key != nil {
			key = encryptionFrom(media.Key.Method, media.Key.URI, media.Key.IV, baseURL)
		}
		for _, s := range media.Segments {
			if s == nil {
				break
			}
			if s.Key != nil {
				key = encryptionFrom(s.Key.Method, s.Key.URI, s.Key.IV, baseURL)
			}
			u, err := resolveReference(baseURL, s.URI)
			if err != nil {
				return nil, err
			}
			list.Segments = append(list.Segments, Segment{
				URI:        u,
				Duration:   time.Duration(s.Duration * float64(time.Second)),
				Offset:     s.Offset,
				Length:     s.Limit,
				Encryption: key,
			})
		}
		return &Playlist{Media: list}, nil

	default:
		return nil, fmt.Errorf("unsupported playlist type %v", listType)
	}
}

func finishManifest(m *Manifest) (*Playlist, error) {
	if len(m.Variants) == 0 {
		return nil, ErrNoVariants
	}
	SortVariants(m.Variants)
	return &Playlist{Manifest: m}, nil
}

// encryptionFrom returns nil for unencrypted segments.
func encryptionFrom(method, keyURI, iv, baseURL string) *EncryptionInfo {
	if method == "" || strings.EqualFold(method, "NONE") {
		return nil
	}
	keyURL, err := resolveReference(baseURL, keyURI)
	if err != nil {
		keyURL = keyURI
	}
	return &EncryptionInfo{Method: method, KeyURL: keyURL, IV: normalizeIV(iv)}
}

// normalizeIV returns iv as lowercase hex with a 0x prefix, or empty.
func normalizeIV(iv string) string {
	iv = strings.TrimSpace(iv)
	if iv == "" {
		return ""
	}
	if strings.HasPrefix(iv, "0x") || strings.HasPrefix(iv, "0X") {
		iv = iv[2:]
	}
	return "0x" + strings.ToLower(iv)
}

func splitCodecs(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// resolveReference resolves ref against base. Local file paths are accepted
// as base and resolved by directory.
func resolveReference(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid uri %q: %w", ref, err)
	}
	if r.IsAbs() {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}
