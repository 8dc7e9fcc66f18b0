// Package super describes the persisted disk layout.
//
// The disk is divided into six contiguous regions, fixed at format
// time and derived solely from the superblock:
//
//	[ boot | super | log header + log | inode table | free bitmap | data ]
package super

import (
	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/util"
)

const FSMAGIC uint64 = 0x10203040

type FsSuper struct {
	Disk disk.Disk

	Size       uint64 // total blocks on the device
	NBlocks    uint64 // blocks in the data region
	NInodes    uint64
	NLog       uint64 // log data blocks (excluding the header)
	LogStart   common.Bnum
	InodeStart common.Bnum
	BmapStart  common.Bnum
}

// LogHdr is the block holding the transaction log header.
func (fs *FsSuper) LogHdr() common.Bnum {
	return fs.LogStart
}

// LogBlock is the i'th block of the log data area.
func (fs *FsSuper) LogBlock(i uint64) common.Bnum {
	return fs.LogStart + 1 + i
}

func (fs *FsSuper) nInodeBlk() uint64 {
	return util.RoundUp(fs.NInodes, common.INODEBLK)
}

func (fs *FsSuper) nBmapBlk() uint64 {
	return util.RoundUp(fs.Size, common.NBITBLOCK)
}

// InodeBlock returns the block holding inum's on-disk slot.
func (fs *FsSuper) InodeBlock(inum common.Inum) common.Bnum {
	return fs.InodeStart + uint64(inum)/common.INODEBLK
}

// InodeOffset is the byte offset of inum's slot within its block.
func (fs *FsSuper) InodeOffset(inum common.Inum) uint64 {
	return (uint64(inum) % common.INODEBLK) * common.INODESZ
}

// BitmapBlock returns the bitmap block covering bn and bn's bit
// position within it.
func (fs *FsSuper) BitmapBlock(bn common.Bnum) (common.Bnum, uint64) {
	return fs.BmapStart + bn/common.NBITBLOCK, bn % common.NBITBLOCK
}

func (fs *FsSuper) DataStart() common.Bnum {
	return fs.BmapStart + fs.nBmapBlk()
}

func (fs *FsSuper) MaxBnum() common.Bnum {
	return fs.Size
}

func (fs *FsSuper) encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(FSMAGIC)
	enc.PutInt(fs.Size)
	enc.PutInt(fs.NBlocks)
	enc.PutInt(fs.NInodes)
	enc.PutInt(fs.NLog)
	enc.PutInt(fs.LogStart)
	enc.PutInt(uint64(fs.InodeStart))
	enc.PutInt(uint64(fs.BmapStart))
	return enc.Finish()
}

// Load reads and validates the superblock of a formatted disk.
func Load(d disk.Disk) (*FsSuper, error) {
	blk := d.Read(1)
	dec := marshal.NewDec(blk)
	if dec.GetInt() != FSMAGIC {
		return nil, common.ErrInvalid
	}
	fs := &FsSuper{Disk: d}
	fs.Size = dec.GetInt()
	fs.NBlocks = dec.GetInt()
	fs.NInodes = dec.GetInt()
	fs.NLog = dec.GetInt()
	fs.LogStart = dec.GetInt()
	fs.InodeStart = common.Bnum(dec.GetInt())
	fs.BmapStart = common.Bnum(dec.GetInt())
	return fs, nil
}

// Format lays out a fresh file system on d with room for nInodes
// inodes. All metadata blocks are marked used in the bitmap; the log
// header and inode table are zeroed. The root directory is created by
// the caller (fs.Mkfs) through ordinary logged operations.
func Format(d disk.Disk, nInodes uint64) *FsSuper {
	sz := d.Size()
	fs := &FsSuper{
		Disk:     d,
		Size:     sz,
		NInodes:  nInodes,
		NLog:     common.LOGSIZE,
		LogStart: 2,
	}
	fs.InodeStart = fs.LogStart + 1 + fs.NLog
	fs.BmapStart = fs.InodeStart + fs.nInodeBlk()
	dataStart := fs.DataStart()
	if dataStart >= sz {
		panic("Format: disk too small")
	}
	fs.NBlocks = sz - dataStart

	util.DPrintf(1, "Format: %d blocks, %d data, %d inodes\n",
		sz, fs.NBlocks, nInodes)

	zero := make(disk.Block, disk.BlockSize)
	// empty log header
	d.Write(fs.LogHdr(), zero)
	// free inode table
	for i := uint64(0); i < fs.nInodeBlk(); i++ {
		d.Write(fs.InodeStart+i, zero)
	}
	// bitmap: blocks below the data region are permanently used
	fs.markUsed(dataStart)
	d.Write(1, fs.encode())
	d.Barrier()
	return fs
}

func (fs *FsSuper) markUsed(n common.Bnum) {
	for i := uint64(0); i < fs.nBmapBlk(); i++ {
		blk := make(disk.Block, disk.BlockSize)
		first := i * common.NBITBLOCK
		for bn := first; bn < first+common.NBITBLOCK && bn < n; bn++ {
			bit := bn % common.NBITBLOCK
			blk[bit/8] |= 1 << (bit % 8)
		}
		fs.Disk.Write(fs.BmapStart+i, blk)
	}
}
