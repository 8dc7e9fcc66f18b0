// Package alloc manages the free-block bitmap. Bit bn covers block bn,
// so the metadata blocks marked used at format time are never handed
// out. All bitmap updates go through the log.
package alloc

import (
	"github.com/mit-pdos/go-fs/bcache"
	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/super"
	"github.com/mit-pdos/go-fs/util"
	"github.com/mit-pdos/go-fs/wal"
)

type Alloc struct {
	fs  *super.FsSuper
	log *wal.Walog
	bc  *bcache.Bcache
}

func MkAlloc(fs *super.FsSuper, log *wal.Walog, bc *bcache.Bcache) *Alloc {
	return &Alloc{fs: fs, log: log, bc: bc}
}

// BAlloc finds a free block, marks it used with a logged write, zeroes
// its contents, and returns its number. The caller must be inside a
// log transaction.
func (a *Alloc) BAlloc() (common.Bnum, error) {
	for bn := common.Bnum(0); bn < a.fs.Size; bn += common.NBITBLOCK {
		blkno, _ := a.fs.BitmapBlock(bn)
		b := a.bc.Bread(blkno)
		for bit := uint64(0); bit < common.NBITBLOCK && bn+bit < a.fs.Size; bit++ {
			m := byte(1) << (bit % 8)
			if b.Data[bit/8]&m == 0 {
				b.Data[bit/8] |= m
				a.log.Write(b)
				a.bc.Brelse(b)
				a.bzero(bn + bit)
				util.DPrintf(5, "BAlloc: %d\n", bn+bit)
				return bn + bit, nil
			}
		}
		a.bc.Brelse(b)
	}
	return common.NULLBNUM, common.ErrNoSpace
}

// bzero clears a freshly allocated block through the log, so the
// allocation and the zeroing commit together.
func (a *Alloc) bzero(bn common.Bnum) {
	b := a.bc.Bget(bn)
	for i := range b.Data {
		b.Data[i] = 0
	}
	b.SetValid()
	a.log.Write(b)
	a.bc.Brelse(b)
}

// BFree clears bn's bit with a logged write. Freeing a block that is
// already free means the allocator's own invariants are broken.
func (a *Alloc) BFree(bn common.Bnum) {
	if bn < a.fs.DataStart() || bn >= a.fs.Size {
		panic("BFree: block outside data region")
	}
	blkno, bit := a.fs.BitmapBlock(bn)
	b := a.bc.Bread(blkno)
	m := byte(1) << (bit % 8)
	if b.Data[bit/8]&m == 0 {
		panic("BFree: freeing free block")
	}
	b.Data[bit/8] &^= m
	a.log.Write(b)
	a.bc.Brelse(b)
	util.DPrintf(5, "BFree: %d\n", bn)
}
