package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(Config{
		Algorithm:        AlgorithmAES256GCM,
		KeySizeBits:      256,
		CompressionLevel: 6,
		KDFIterations:    1000, // small for test speed
	})
	require.NoError(t, err)
	return c
}

func TestNew_RejectsUnknownAlgorithm(t *testing.T) {
	_, err := New(Config{Algorithm: "rot13", KeySizeBits: 256})
	assert.ErrorIs(t, err, cachecore.ErrInvalidAlgorithm)
}

func TestNew_RejectsWrongKeySize(t *testing.T) {
	_, err := New(Config{Algorithm: AlgorithmAES256GCM, KeySizeBits: 128})
	assert.ErrorIs(t, err, cachecore.ErrInvalidKeySize)
}

func TestNew_RejectsBadCompressionLevel(t *testing.T) {
	_, err := New(Config{Algorithm: AlgorithmAES256GCM, KeySizeBits: 256, CompressionLevel: 10})
	assert.ErrorIs(t, err, cachecore.ErrInvalidCompressionLevel)
}

func TestCodec_RoundTrip(t *testing.T) {
	c := testCodec(t)
	v := cachecore.String("hello world")

	payload, err := c.Encode(v, "correct horse battery staple")
	require.NoError(t, err)

	got, err := c.Decode(payload, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestCodec_RoundTrip_EmptyValue(t *testing.T) {
	c := testCodec(t)
	v := cachecore.Null()

	payload, err := c.Encode(v, "pw")
	require.NoError(t, err)

	got, err := c.Decode(payload, "pw")
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestCodec_RoundTrip_LargeCompressibleValue(t *testing.T) {
	c := testCodec(t)
	v := cachecore.String(strings.Repeat("a", 2000))

	payload, err := c.Encode(v, "pw")
	require.NoError(t, err)

	got, err := c.Decode(payload, "pw")
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestCodec_WrongPassword_Fails(t *testing.T) {
	c := testCodec(t)
	payload, err := c.Encode(cachecore.String("secret"), "p1")
	require.NoError(t, err)

	_, err = c.Decode(payload, "p2")
	assert.ErrorIs(t, err, cachecore.ErrDecryptionError)
	assert.NotContains(t, err.Error(), "secret", "decryption errors must not reveal plaintext")
}

func TestCodec_Encode_DistinctIVsAndCiphertexts(t *testing.T) {
	c := testCodec(t)
	v := cachecore.String("same value every time")

	p1, err := c.Encode(v, "pw")
	require.NoError(t, err)
	p2, err := c.Encode(v, "pw")
	require.NoError(t, err)

	assert.NotEqual(t, p1.IV, p2.IV)
	assert.NotEqual(t, p1.Salt, p2.Salt)
	assert.NotEqual(t, p1.Ciphertext, p2.Ciphertext)
}

func TestCodec_TamperedCiphertext_FailsIntegrity(t *testing.T) {
	c := testCodec(t)
	payload, err := c.Encode(cachecore.String("secret"), "pw")
	require.NoError(t, err)

	payload.Ciphertext[0] ^= 0xFF

	_, err = c.Decode(payload, "pw")
	assert.ErrorIs(t, err, cachecore.ErrDecryptionError)
}

func TestCodec_CompressionLevelZero_IsNoop(t *testing.T) {
	c, err := New(Config{Algorithm: AlgorithmAES256GCM, KeySizeBits: 256, CompressionLevel: 0, KDFIterations: 1000})
	require.NoError(t, err)

	v := cachecore.String(strings.Repeat("b", 5000))
	payload, err := c.Encode(v, "pw")
	require.NoError(t, err)

	got, err := c.Decode(payload, "pw")
	require.NoError(t, err)
	assert.Equal(t, v, got)
}
