package codec

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// keyCache memoizes (password, salt) -> derived AES key so repeated
// encrypt/decrypt calls under the same salt don't repeat the KDF. It is a
// bounded LRU; evicted keys are zeroized before being dropped.
type keyCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type keyCacheEntry struct {
	cacheKey string
	key      []byte
}

func newKeyCache(capacity int) *keyCache {
	return &keyCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func cacheKeyFor(password string, salt []byte) string {
	h := sha256.New()
	h.Write([]byte(password))
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *keyCache) get(password string, salt []byte) []byte {
	ck := cacheKeyFor(password, salt)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[ck]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*keyCacheEntry).key
}

func (c *keyCache) put(password string, salt []byte, key []byte) {
	ck := cacheKeyFor(password, salt)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[ck]; ok {
		el.Value.(*keyCacheEntry).key = key
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&keyCacheEntry{cacheKey: ck, key: key})
	c.items[ck] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.evictLocked(oldest)
	}
}

func (c *keyCache) evictLocked(el *list.Element) {
	ent := el.Value.(*keyCacheEntry)
	zero(ent.key)
	delete(c.items, ent.cacheKey)
	c.order.Remove(el)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
