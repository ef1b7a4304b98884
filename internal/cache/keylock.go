package cache

import (
	"hash/fnv"
	"sync"
)

// keyLock gives the composer per-key total ordering — writes and reads
// against the same (store, id) serialize, while unrelated keys run in
// parallel — without a single global mutex. It is a fixed-size ring of
// mutexes indexed by key hash, the same shape as a sharded cache's shard
// selector.
type keyLock struct {
	shards []sync.Mutex
}

const keyLockShardCount = 64

func newKeyLock() *keyLock {
	return &keyLock{shards: make([]sync.Mutex, keyLockShardCount)}
}

func (kl *keyLock) shardFor(store, id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(store))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id))
	return &kl.shards[h.Sum32()%uint32(len(kl.shards))]
}

// lock acquires the shard guarding (store, id) and returns the unlock
// function. Two different (store, id) pairs may still collide on the same
// shard and serialize unnecessarily; that's an accepted false-sharing cost
// in exchange for O(1) memory instead of one mutex per live key.
func (kl *keyLock) lock(store, id string) func() {
	m := kl.shardFor(store, id)
	m.Lock()
	return m.Unlock
}
