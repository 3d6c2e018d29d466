// Package snapshot encodes profiles into the blobs that are pinned to
// storage backends.
package snapshot

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcliao/profile-sync/internal/model"
)

// KeySize is the seal key length in bytes (AES-256).
const KeySize = 32

// sealedMagic prefixes sealed blobs so plain and sealed snapshots can be
// told apart.
var sealedMagic = []byte("PSNAP1\x00")

var (
	// ErrCorruptSnapshot is returned for blobs that cannot be opened or do
	// not hold a valid profile.
	ErrCorruptSnapshot = errors.New("snapshot: corrupt snapshot")
	// ErrSealed is returned when a sealed blob is decoded without a key.
	ErrSealed = errors.New("snapshot: snapshot is sealed and no key is configured")
)

// Codec converts profiles to snapshot blobs and back. The zero value
// encodes plain JSON.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec returns a codec that seals with key. A nil key yields a plain
// codec.
func NewCodec(key []byte) (*Codec, error) {
	if key == nil {
		return &Codec{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("snapshot: seal key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// ParseKey decodes a hex encoded seal key. An empty string means no key.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot: seal key is not hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("snapshot: seal key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Sealed reports whether the codec encrypts.
func (c *Codec) Sealed() bool { return c.aead != nil }

// Encode renders p as compact JSON and seals it when a key is configured.
// The plain encoding of equal profiles is byte identical. Message sync block
// tags are dropped.
func (c *Codec) Encode(p *model.PortableProfile) ([]byte, error) {
	if p == nil {
		return nil, errors.New("snapshot: nil profile")
	}
	p = p.Clone()
	p.ClearSyncBlocks()
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	if c.aead == nil {
		return data, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("snapshot: nonce: %w", err)
	}
	out := make([]byte, 0, len(sealedMagic)+len(nonce)+len(data)+c.aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, data, sealedMagic), nil
}

// Decode opens a blob produced by Encode and validates the profile inside.
// Plain blobs are accepted by sealing codecs so that existing snapshots can
// still be read after a key is configured.
func (c *Codec) Decode(blob []byte) (*model.PortableProfile, error) {
	data := blob
	if IsSealed(blob) {
		if c.aead == nil {
			return nil, ErrSealed
		}
		rest := blob[len(sealedMagic):]
		if len(rest) < c.aead.NonceSize() {
			return nil, fmt.Errorf("%w: truncated", ErrCorruptSnapshot)
		}
		nonce, ct := rest[:c.aead.NonceSize()], rest[c.aead.NonceSize():]
		plain, err := c.aead.Open(nil, nonce, ct, sealedMagic)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		data = plain
	}
	p, err := model.ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return p, nil
}

// IsSealed reports whether blob carries the sealed header.
func IsSealed(blob []byte) bool { return bytes.HasPrefix(blob, sealedMagic) }
