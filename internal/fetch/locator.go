package fetch

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/jmylchreest/hlsabr/internal/hls"
)

// EncryptedScheme is the URI scheme of locators addressing encrypted
// segments. The decrypting opener registered for it reads the data, key and
// IV from the query.
const EncryptedScheme = "aes"

// IVRule selects the IV used for an encrypted segment that declares none.
type IVRule int

const (
	// IVFromSequence uses the segment's own media sequence number.
	IVFromSequence IVRule = iota
	// IVFromNextSequence uses the media sequence number plus one.
	IVFromNextSequence
)

func (r IVRule) String() string {
	switch r {
	case IVFromSequence:
		return "sequence"
	case IVFromNextSequence:
		return "next_sequence"
	default:
		return "unknown"
	}
}

// ParseIVRule parses a configured IV rule name. Empty selects IVFromSequence.
func ParseIVRule(s string) (IVRule, error) {
	switch s {
	case "", "sequence":
		return IVFromSequence, nil
	case "next_sequence":
		return IVFromNextSequence, nil
	default:
		return 0, fmt.Errorf("unknown iv rule %q", s)
	}
}

// DeriveIV returns the IV for the segment at sequence as lowercase hex
// without a prefix.
func (r IVRule) DeriveIV(sequence int) string {
	if r == IVFromNextSequence {
		sequence++
	}
	return strconv.FormatInt(int64(sequence), 16)
}

// Locator describes where a segment's bytes are and how to decrypt them.
type Locator struct {
	DataURL   string `json:"data_url"`
	KeyURL    string `json:"key_url,omitempty" masq:"secret"`
	IV        string `json:"iv,omitempty"`
	Encrypted bool   `json:"encrypted"`
	Offset    int64  `json:"offset,omitempty"`
	Length    int64  `json:"length,omitempty"`
}

// BuildLocator builds the locator of seg at sequence. A declared IV is used
// as-is; otherwise rule derives one.
func BuildLocator(seg hls.Segment, sequence int, rule IVRule) Locator {
	loc := Locator{
		DataURL: seg.URI,
		Offset:  seg.Offset,
		Length:  seg.Length,
	}
	if seg.Encryption == nil {
		return loc
	}

	loc.Encrypted = true
	loc.KeyURL = seg.Encryption.KeyURL
	loc.IV = seg.Encryption.IV
	if loc.IV == "" {
		loc.IV = rule.DeriveIV(sequence)
	}
	return loc
}

// URI returns the URI handed to the transport. Encrypted locators use the
// form aes://dummy?dataUrl=<data>&keyUrl=<key>&iv=<iv>.
func (l Locator) URI() string {
	if !l.Encrypted {
		return l.DataURL
	}
	return EncryptedScheme + "://dummy?dataUrl=" + url.QueryEscape(l.DataURL) +
		"&keyUrl=" + url.QueryEscape(l.KeyURL) +
		"&iv=" + l.IV
}

// ParseLocatorURI decodes an encrypted locator URI.
func ParseLocatorURI(uri string) (Locator, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Locator{}, fmt.Errorf("parsing locator: %w", err)
	}
	if u.Scheme != EncryptedScheme {
		return Locator{DataURL: uri}, nil
	}

	q := u.Query()
	loc := Locator{
		DataURL:   q.Get("dataUrl"),
		KeyURL:    q.Get("keyUrl"),
		IV:        q.Get("iv"),
		Encrypted: true,
	}
	if loc.DataURL == "" || loc.KeyURL == "" {
		return Locator{}, fmt.Errorf("locator %q lacks dataUrl or keyUrl", u.Redacted())
	}
	return loc, nil
}
