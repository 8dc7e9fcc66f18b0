// Package lockmap provides a sharded map of sleep locks.
//
// The API behaves as if there were one exclusive lock per uint64 key;
// Acquire(key) may suspend the calling goroutine until the holder calls
// Release(key). Lock state is kept in a fixed number of shards so the
// map stays small: shard i tracks every key with key % NSHARD == i, and
// a shard's mutex is only held for short, non-blocking critical
// sections.
package lockmap

import (
	"sync"
)

const NSHARD uint64 = 43

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[uint64]*lockState
}

func mkLockShard() *lockShard {
	mu := new(sync.Mutex)
	return &lockShard{
		mu:    mu,
		state: make(map[uint64]*lockState),
	}
}

func (shard *lockShard) acquire(key uint64) {
	shard.mu.Lock()
	for {
		st, ok := shard.state[key]
		if !ok {
			st = &lockState{cond: sync.NewCond(shard.mu)}
			shard.state[key] = st
		}
		if !st.held {
			st.held = true
			break
		}
		// release never deletes an entry with waiters, so st stays
		// current across the wait
		st.waiters += 1
		st.cond.Wait()
		st.waiters -= 1
	}
	shard.mu.Unlock()
}

func (shard *lockShard) release(key uint64) {
	shard.mu.Lock()
	st := shard.state[key]
	if st == nil || !st.held {
		panic("lockmap: release of unheld lock")
	}
	st.held = false
	if st.waiters > 0 {
		st.cond.Signal()
	} else {
		delete(shard.state, key)
	}
	shard.mu.Unlock()
}

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	shards := make([]*lockShard, 0, NSHARD)
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkLockShard())
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) Acquire(key uint64) {
	lmap.shards[key%NSHARD].acquire(key)
}

func (lmap *LockMap) Release(key uint64) {
	lmap.shards[key%NSHARD].release(key)
}
