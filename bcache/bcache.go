// Package bcache is an LRU cache of disk blocks.
//
// The cache is the single synchronization point for block access: at
// most one in-memory copy of any block exists at a time, and callers
// hold a per-entry sleep lock while reading or modifying its bytes.
// Entries flagged by the log (pinned) are never evicted, even with no
// references, so an uncommitted transaction's data cannot be lost.
package bcache

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/util"
)

// Buf is one cached block.
//
// refcnt, pins, locked, and the LRU links are guarded by the cache
// mutex; Data, valid, and dirty are guarded by the entry's sleep lock.
type Buf struct {
	Blkno common.Bnum
	Data  disk.Block

	valid bool
	dirty bool

	// inuse distinguishes a fresh entry from one keyed in the map;
	// Blkno alone cannot, since block 0 is a real block
	inuse  bool
	refcnt uint64
	pins   uint64
	locked bool
	cond   *sync.Cond

	prev, next *Buf
}

func (b *Buf) IsDirty() bool {
	return b.dirty
}

// SetDirty marks the entry modified; Bwrite clears it.
func (b *Buf) SetDirty() {
	b.dirty = true
}

// SetValid marks the entry loaded; callers use it after overwriting
// the full block instead of reading through. Requires the sleep lock.
func (b *Buf) SetValid() {
	b.valid = true
}

type Bcache struct {
	mu   *sync.Mutex
	d    disk.Disk
	bufs map[common.Bnum]*Buf

	// LRU list: head is most recently used
	head, tail *Buf
}

func MkBcache(d disk.Disk, nbuf uint64) *Bcache {
	mu := new(sync.Mutex)
	bc := &Bcache{
		mu:   mu,
		d:    d,
		bufs: make(map[common.Bnum]*Buf, nbuf),
	}
	for i := uint64(0); i < nbuf; i++ {
		b := &Buf{
			Data: make(disk.Block, disk.BlockSize),
			cond: sync.NewCond(mu),
		}
		bc.pushFront(b)
	}
	return bc
}

func (bc *Bcache) remove(b *Buf) {
	if bc.head == b {
		bc.head = b.next
	}
	if bc.tail == b {
		bc.tail = b.prev
	}
	if b.prev != nil {
		b.prev.next = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.prev, b.next = nil, nil
}

func (bc *Bcache) pushFront(b *Buf) {
	b.next = bc.head
	if bc.head != nil {
		bc.head.prev = b
	}
	bc.head = b
	if bc.tail == nil {
		bc.tail = b
	}
}

// repurpose takes the least-recently-used entry with no references and
// no log hold, and re-keys it for blkno. Every entry being in use is a
// capacity misconfiguration, not a transient condition.
//
// Assumes the caller holds bc.mu.
func (bc *Bcache) repurpose(blkno common.Bnum) *Buf {
	for b := bc.tail; b != nil; b = b.prev {
		if b.refcnt == 0 && b.pins == 0 {
			if b.inuse {
				delete(bc.bufs, b.Blkno)
			}
			b.Blkno = blkno
			b.inuse = true
			b.valid = false
			b.dirty = false
			bc.bufs[blkno] = b
			return b
		}
	}
	panic("bcache: no buffers")
}

// Bget returns the locked cache entry for blkno, without reading it;
// the caller must check valid and read through on first touch (or use
// Bread).
func (bc *Bcache) Bget(blkno common.Bnum) *Buf {
	bc.mu.Lock()
	b, ok := bc.bufs[blkno]
	if !ok {
		b = bc.repurpose(blkno)
	}
	b.refcnt += 1
	for b.locked {
		b.cond.Wait()
	}
	b.locked = true
	bc.mu.Unlock()
	util.DPrintf(10, "Bget: %d\n", blkno)
	return b
}

// Bread returns the locked entry for blkno with its bytes loaded.
func (bc *Bcache) Bread(blkno common.Bnum) *Buf {
	b := bc.Bget(blkno)
	if !b.valid {
		copy(b.Data, bc.d.Read(blkno))
		b.valid = true
	}
	return b
}

// Brelse unlocks the entry and drops the caller's reference; the last
// reference moves it to the most-recently-used position. Nothing is
// evicted eagerly.
func (bc *Bcache) Brelse(b *Buf) {
	bc.mu.Lock()
	if !b.locked {
		panic("bcache: Brelse of unlocked buf")
	}
	b.locked = false
	b.cond.Broadcast()
	if b.refcnt == 0 {
		panic("bcache: Brelse without ref")
	}
	b.refcnt -= 1
	if b.refcnt == 0 {
		bc.remove(b)
		bc.pushFront(b)
	}
	bc.mu.Unlock()
}

// Bwrite persists the entry's bytes to the device and clears the dirty
// flag. The caller must hold the entry's sleep lock.
func (bc *Bcache) Bwrite(b *Buf) {
	if !b.locked {
		panic("bcache: Bwrite of unlocked buf")
	}
	util.DPrintf(10, "Bwrite: %d\n", b.Blkno)
	bc.d.Write(b.Blkno, b.Data)
	b.dirty = false
}

// Pin holds the entry in the cache until Unpin, independent of its
// reference count.
func (bc *Bcache) Pin(b *Buf) {
	bc.mu.Lock()
	b.pins += 1
	bc.mu.Unlock()
}

func (bc *Bcache) Unpin(b *Buf) {
	bc.mu.Lock()
	if b.pins == 0 {
		panic("bcache: Unpin without pin")
	}
	b.pins -= 1
	bc.mu.Unlock()
}

func (bc *Bcache) Barrier() {
	bc.d.Barrier()
}
