package service

import (
	"hash/fnv"
	"sync"
)

// keyedMutex serializes writers per projection key. Striping keeps the lock
// table bounded; unrelated keys sharing a stripe only cost a little extra
// contention, never correctness.
type keyedMutex struct {
	stripes [64]sync.Mutex
}

func (k *keyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	m.Lock()
	return m.Unlock
}
