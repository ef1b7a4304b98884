package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyCache_PutGet_RoundTrip(t *testing.T) {
	c := newKeyCache(4)
	salt := []byte("0123456789abcdef")
	key := []byte{1, 2, 3, 4}

	c.put("pw", salt, key)
	got := c.get("pw", salt)
	assert.Equal(t, key, got)
}

func TestKeyCache_Get_MissOnUnknownPair(t *testing.T) {
	c := newKeyCache(4)
	assert.Nil(t, c.get("pw", []byte("nope")))
}

func TestKeyCache_DistinctSalts_AreDistinctEntries(t *testing.T) {
	c := newKeyCache(4)
	c.put("pw", []byte("salt-a"), []byte{1})
	c.put("pw", []byte("salt-b"), []byte{2})

	assert.Equal(t, []byte{1}, c.get("pw", []byte("salt-a")))
	assert.Equal(t, []byte{2}, c.get("pw", []byte("salt-b")))
}

func TestKeyCache_CapacityBound_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newKeyCache(2)
	c.put("pw", []byte("a"), []byte{1})
	c.put("pw", []byte("b"), []byte{2})

	// Touch "a" so "b" becomes the LRU entry.
	require.NotNil(t, c.get("pw", []byte("a")))

	c.put("pw", []byte("c"), []byte{3})

	assert.Nil(t, c.get("pw", []byte("b")), "the least-recently-used derived key is evicted at capacity")
	assert.NotNil(t, c.get("pw", []byte("a")))
	assert.NotNil(t, c.get("pw", []byte("c")))
}

func TestKeyCache_EvictedKey_IsZeroized(t *testing.T) {
	c := newKeyCache(1)
	key := []byte{0xAA, 0xBB, 0xCC}
	c.put("pw", []byte("a"), key)
	c.put("pw", []byte("b"), []byte{1})

	assert.Equal(t, []byte{0, 0, 0}, key, "evicted derived keys are zeroized in place")
}
