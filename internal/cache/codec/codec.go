// Package codec implements the compress-then-encrypt / decrypt-then-
// decompress pipeline applied on every write and reversed on every read.
// Compression runs through compress/flate at a configurable 0-9 level
// (the same family compress/gzip wraps). Encryption uses AES-256-GCM with
// crypto/rand nonces, keyed by a per-password KDF-derived key.
package codec

import (
	"bytes"
	"compress/flate"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
)

// Algorithm names the AEAD recognized by the codec. Only aes-256-gcm is
// implemented; any other value is rejected at construction.
type Algorithm string

const AlgorithmAES256GCM Algorithm = "aes-256-gcm"

const (
	keySizeBytes  = 32 // 256 bits
	saltSizeBytes = 16
	ivSizeBytes   = 12

	// compressionThresholdBytes: inputs below this size skip compression,
	// since deflate overhead dominates any savings at that scale.
	compressionThresholdBytes = 1024
)

// Config is the frozen configuration a Codec is constructed with.
type Config struct {
	Algorithm           Algorithm
	KeySizeBits         int
	CompressionLevel    int // 0-9, 0 is a no-op
	KDFIterations       int // cost parameter, fixed at construction
	DerivedKeyCacheSize int
}

// New validates cfg and constructs a Codec.
func New(cfg Config) (*Codec, error) {
	if cfg.Algorithm != AlgorithmAES256GCM {
		return nil, fmt.Errorf("%w: %q", cachecore.ErrInvalidAlgorithm, cfg.Algorithm)
	}
	if cfg.KeySizeBits != 256 {
		return nil, fmt.Errorf("%w: %d", cachecore.ErrInvalidKeySize, cfg.KeySizeBits)
	}
	if cfg.CompressionLevel < 0 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf("%w: %d", cachecore.ErrInvalidCompressionLevel, cfg.CompressionLevel)
	}
	if cfg.KDFIterations <= 0 {
		cfg.KDFIterations = 100_000
	}
	if cfg.DerivedKeyCacheSize <= 0 {
		cfg.DerivedKeyCacheSize = 128
	}

	return &Codec{
		config: cfg,
		keys:   newKeyCache(cfg.DerivedKeyCacheSize),
	}, nil
}

// Codec transforms cachecore.Value <-> cachecore.EncryptedPayload under a
// password. It holds no state besides a bounded key-derivation cache.
type Codec struct {
	config Config
	keys   *keyCache
}

// Encode serializes, compresses, and encrypts v under password, producing
// a fresh iv and salt. Two calls with the same (v, password) never produce
// the same ciphertext.
func (c *Codec) Encode(v cachecore.Value, password string) (cachecore.EncryptedPayload, error) {
	plain, err := cachecore.Encode(v)
	if err != nil {
		return cachecore.EncryptedPayload{}, fmt.Errorf("%w: %v", cachecore.ErrEncryptionError, err)
	}

	compressed := c.compress(plain)

	salt := make([]byte, saltSizeBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return cachecore.EncryptedPayload{}, fmt.Errorf("%w: generate salt", cachecore.ErrEncryptionError)
	}

	gcm, err := c.gcmFor(password, salt)
	if err != nil {
		return cachecore.EncryptedPayload{}, fmt.Errorf("%w: %v", cachecore.ErrEncryptionError, err)
	}

	iv := make([]byte, ivSizeBytes)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return cachecore.EncryptedPayload{}, fmt.Errorf("%w: generate iv", cachecore.ErrEncryptionError)
	}

	sealed := gcm.Seal(nil, iv, compressed, nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext := sealed[:tagStart]
	tag := sealed[tagStart:]

	return cachecore.EncryptedPayload{
		Ciphertext: ciphertext,
		IV:         iv,
		Salt:       salt,
		Tag:        tag,
	}, nil
}

// Decode reverses Encode: decrypts (verifying the auth tag), decompresses,
// and deserializes. A wrong password or a tampered payload fails with
// ErrDecryptionError without revealing plaintext or key material.
func (c *Codec) Decode(payload cachecore.EncryptedPayload, password string) (cachecore.Value, error) {
	gcm, err := c.gcmFor(password, payload.Salt)
	if err != nil {
		return cachecore.Value{}, cachecore.ErrDecryptionError
	}

	sealed := append(append([]byte{}, payload.Ciphertext...), payload.Tag...)
	plainCompressed, err := gcm.Open(nil, payload.IV, sealed, nil)
	if err != nil {
		return cachecore.Value{}, cachecore.ErrDecryptionError
	}

	plain, err := c.decompress(plainCompressed)
	if err != nil {
		return cachecore.Value{}, cachecore.ErrDecryptionError
	}

	v, err := cachecore.Decode(plain)
	if err != nil {
		return cachecore.Value{}, cachecore.ErrDecryptionError
	}
	return v, nil
}

// gcmFor derives the AEAD for (password, salt), consulting the bounded
// derivation cache before paying the KDF cost again.
func (c *Codec) gcmFor(password string, salt []byte) (cipher.AEAD, error) {
	key := c.keys.get(password, salt)
	if key == nil {
		key = pbkdf2.Key([]byte(password), salt, c.config.KDFIterations, keySizeBytes, sha3.New256)
		c.keys.put(password, salt, key)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// compress applies DEFLATE at the configured level; level 0 is a no-op
// pass-through, and inputs under the threshold skip compression so the
// decoder must tolerate both compressed and raw plaintext.
func (c *Codec) compress(data []byte) []byte {
	if c.config.CompressionLevel == 0 || len(data) < compressionThresholdBytes {
		return append([]byte{rawMarker}, data...)
	}

	var buf bytes.Buffer
	buf.WriteByte(compressedMarker)
	w, err := flate.NewWriter(&buf, c.config.CompressionLevel)
	if err != nil {
		return append([]byte{rawMarker}, data...)
	}
	if _, err := w.Write(data); err != nil {
		return append([]byte{rawMarker}, data...)
	}
	if err := w.Close(); err != nil {
		return append([]byte{rawMarker}, data...)
	}
	return buf.Bytes()
}

// decompress reverses compress, tolerating both compressed and raw forms
// regardless of the codec's current configured level (a value encoded at
// level 0 or below the threshold must still decode after a config change).
func (c *Codec) decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	marker, body := data[0], data[1:]
	switch marker {
	case rawMarker:
		return body, nil
	case compressedMarker:
		r := flate.NewReader(bytes.NewReader(body))
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unrecognized payload marker %x", marker)
	}
}

const (
	rawMarker        byte = 0x00
	compressedMarker byte = 0x01
)
