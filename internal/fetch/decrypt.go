package fetch

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrDecrypt wraps failures to decrypt an encrypted segment.
var ErrDecrypt = errors.New("decrypting segment")

const (
	keySize        = 16
	maxSegmentSize = 64 << 20
)

// DecryptingOpener opens encrypted locators by fetching the key and the
// ciphertext through an inner opener and decrypting AES-128-CBC. Byte
// ranges apply to the ciphertext. Keys are cached by URL.
type DecryptingOpener struct {
	inner Opener

	mu   sync.Mutex
	keys map[string][]byte
}

// NewDecryptingOpener creates an opener for EncryptedScheme URIs.
func NewDecryptingOpener(inner Opener) *DecryptingOpener {
	return &DecryptingOpener{inner: inner, keys: make(map[string][]byte)}
}

// Open decrypts the segment named by an encrypted locator URI.
func (d *DecryptingOpener) Open(ctx context.Context, uri string, offset, length int64) (io.ReadCloser, error) {
	loc, err := ParseLocatorURI(uri)
	if err != nil {
		return nil, err
	}
	if !loc.Encrypted {
		return d.inner.Open(ctx, loc.DataURL, offset, length)
	}

	key, err := d.key(ctx, loc.KeyURL)
	if err != nil {
		return nil, err
	}
	iv, err := ParseIV(loc.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}

	rc, err := d.inner.Open(ctx, loc.DataURL, offset, length)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxSegmentSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxSegmentSize {
		return nil, fmt.Errorf("%w: segment exceeds %d bytes", ErrDecrypt, maxSegmentSize)
	}

	plain, err := decryptCBC(key, iv, data)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(plain)), nil
}

func (d *DecryptingOpener) key(ctx context.Context, keyURL string) ([]byte, error) {
	d.mu.Lock()
	key, ok := d.keys[keyURL]
	d.mu.Unlock()
	if ok {
		return key, nil
	}

	rc, err := d.inner.Open(ctx, keyURL, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("fetching key: %w", err)
	}
	defer rc.Close()

	key, err = io.ReadAll(io.LimitReader(rc, keySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrDecrypt, len(key), keySize)
	}

	d.mu.Lock()
	d.keys[keyURL] = key
	d.mu.Unlock()
	return key, nil
}

// ParseIV decodes a hexadecimal IV, with or without a 0x prefix, into a
// 16 byte block. Short values are right-aligned.
func ParseIV(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, errors.New("empty IV")
	}
	if len(s) > 2*aes.BlockSize {
		return nil, fmt.Errorf("IV %q longer than %d bytes", s, aes.BlockSize)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("IV %q: %w", s, err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv[aes.BlockSize-len(raw):], raw)
	return iv, nil
}

func decryptCBC(key, iv, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrDecrypt, len(data), aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plain) {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecrypt)
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: invalid padding", ErrDecrypt)
		}
	}
	return plain[:len(plain)-pad], nil
}
