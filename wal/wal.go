// Package wal groups block writes into atomic, group-committed
// transactions.
//
// Callers bracket each file-system operation with Begin and End and
// route every block modification through Write. The caller whose End
// drives the outstanding-operation count to zero commits the whole
// epoch: queued blocks are copied to the on-disk log area, the header
// naming them is written (the commit point), and the blocks are then
// installed at their home locations. A non-empty header found at mount
// can only mean a committed transaction that had not finished
// installing, so recovery replays it unconditionally; replay is
// idempotent.
//
// Admission control in Begin guarantees that no epoch can ever need
// more log slots than the log region provides.
package wal

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fs/bcache"
	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/super"
	"github.com/mit-pdos/go-fs/util"
)

type Walog struct {
	mu   *sync.Mutex
	cond *sync.Cond
	fs   *super.FsSuper
	bc   *bcache.Bcache

	outstanding uint64
	committing  bool
	queued      []common.Bnum
}

// MkLog recovers the log region and returns a log ready for use.
func MkLog(fs *super.FsSuper, bc *bcache.Bcache) *Walog {
	if fs.NLog < common.LOGSIZE {
		panic("wal: log region too small")
	}
	mu := new(sync.Mutex)
	l := &Walog{
		mu:   mu,
		cond: sync.NewCond(mu),
		fs:   fs,
		bc:   bc,
	}
	l.Recover()
	return l
}

// Begin admits the caller into the current transaction epoch. It
// blocks while a commit is in progress or while admitting one more
// operation could overflow the log's block budget.
func (l *Walog) Begin() {
	l.mu.Lock()
	for l.committing ||
		uint64(len(l.queued))+(l.outstanding+1)*common.MAXOPBLOCKS > common.LOGSIZE {
		l.cond.Wait()
	}
	l.outstanding += 1
	util.DPrintf(5, "wal: begin, outstanding %d\n", l.outstanding)
	l.mu.Unlock()
}

// Write records b's block in the current epoch and pins it in the
// cache until installed. A block already recorded costs no new slot
// (absorption). The caller must hold b's sleep lock and be inside a
// Begin/End pair.
func (l *Walog) Write(b *bcache.Buf) {
	b.SetDirty()
	l.mu.Lock()
	if uint64(len(l.queued)) >= common.LOGSIZE {
		panic("wal: transaction too big")
	}
	if l.outstanding < 1 {
		panic("wal: write outside of transaction")
	}
	var absorbed = false
	for _, bn := range l.queued {
		if bn == b.Blkno {
			absorbed = true
			break
		}
	}
	if absorbed {
		util.DPrintf(5, "wal: absorb %d\n", b.Blkno)
	} else {
		l.queued = append(l.queued, b.Blkno)
		l.bc.Pin(b)
		util.DPrintf(5, "wal: queue %d (%d slots)\n", b.Blkno, len(l.queued))
	}
	l.mu.Unlock()
}

// End finishes the caller's operation; the operation that drives the
// outstanding count to zero commits the epoch before returning.
func (l *Walog) End() {
	l.mu.Lock()
	if l.committing {
		panic("wal: End during commit")
	}
	if l.outstanding == 0 {
		panic("wal: End without Begin")
	}
	l.outstanding -= 1
	if l.outstanding == 0 {
		l.committing = true
		l.mu.Unlock()
		l.commit()
		l.mu.Lock()
		l.committing = false
	}
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Flush blocks until every operation admitted before the call has
// committed. The queue can only be non-empty while operations are
// outstanding or a commit is running, so waiting for both to clear is
// enough.
func (l *Walog) Flush() {
	l.mu.Lock()
	for l.committing || l.outstanding > 0 {
		l.cond.Wait()
	}
	if len(l.queued) != 0 {
		panic("wal: idle log with queued blocks")
	}
	l.mu.Unlock()
}

// commit runs with committing set and no outstanding operations, so it
// has exclusive ownership of the queue.
func (l *Walog) commit() {
	if len(l.queued) == 0 {
		return
	}
	util.DPrintf(1, "wal: commit %d blocks\n", len(l.queued))
	l.writeLog()
	l.writeHead(l.queued) // commit point
	l.install(l.queued, false)
	l.clearHead()
	l.queued = nil
}

// writeLog copies each queued block's cache contents into the log
// area.
func (l *Walog) writeLog() {
	for i, bn := range l.queued {
		src := l.bc.Bread(bn)
		dst := l.bc.Bread(l.fs.LogBlock(uint64(i)))
		copy(dst.Data, src.Data)
		l.bc.Bwrite(dst)
		l.bc.Brelse(dst)
		l.bc.Brelse(src)
	}
	l.bc.Barrier()
}

// writeHead persists the header naming the epoch's blocks; this single
// write is the atomicity boundary.
func (l *Walog) writeHead(bnos []common.Bnum) {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(uint64(len(bnos)))
	enc.PutInts(bnos)
	b := l.bc.Bget(l.fs.LogHdr())
	copy(b.Data, enc.Finish())
	b.SetValid()
	l.bc.Bwrite(b)
	l.bc.Brelse(b)
	l.bc.Barrier()
}

func (l *Walog) readHead() []common.Bnum {
	b := l.bc.Bread(l.fs.LogHdr())
	dec := marshal.NewDec(b.Data)
	n := dec.GetInt()
	if n > common.LOGSIZE {
		panic("wal: corrupt log header")
	}
	bnos := dec.GetInts(n)
	l.bc.Brelse(b)
	return bnos
}

// install copies each logged block from the log area to its home
// location and, outside recovery, releases its cache pin.
func (l *Walog) install(bnos []common.Bnum, recovering bool) {
	for i, bn := range bnos {
		src := l.bc.Bread(l.fs.LogBlock(uint64(i)))
		dst := l.bc.Bget(bn)
		copy(dst.Data, src.Data)
		dst.SetValid()
		l.bc.Bwrite(dst)
		if !recovering {
			l.bc.Unpin(dst)
		}
		l.bc.Brelse(dst)
		l.bc.Brelse(src)
	}
	l.bc.Barrier()
}

// clearHead resets the header to an empty transaction.
func (l *Walog) clearHead() {
	l.writeHead(nil)
}

// Recover replays any committed-but-uninstalled transaction named by
// the on-disk header.
func (l *Walog) Recover() {
	bnos := l.readHead()
	if len(bnos) > 0 {
		util.DPrintf(1, "wal: recover %d blocks\n", len(bnos))
		l.install(bnos, true)
	}
	l.clearHead()
}
