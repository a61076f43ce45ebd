package indexer

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// pathLockShards is the fixed number of per-path mutexes
const pathLockShards = 256

// IndexLock provides non-blocking lock semantics using atomic operations.
// The reconciler uses it to skip a tick while the previous scan still runs.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// PathLocks serializes work per path using a fixed set of mutexes sharded by
// the FNV-1a hash of the path. Two paths may share a shard; that only costs
// concurrency, never correctness.
type PathLocks struct {
	shards [pathLockShards]sync.Mutex
}

func (p *PathLocks) shard(path string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return &p.shards[h.Sum32()%pathLockShards]
}

// Lock blocks until path's shard is held and returns its unlock function.
func (p *PathLocks) Lock(path string) func() {
	m := p.shard(path)
	m.Lock()
	return m.Unlock
}
