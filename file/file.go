// Package file implements the open-file objects that descriptor-table
// slots share: a closed variant over inode-backed files, pipes, and
// device nodes, dispatched exhaustively at each call site.
package file

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/inode"
	"github.com/mit-pdos/go-fs/util"
	"github.com/mit-pdos/go-fs/wal"
)

type Kind int

const (
	KindInode Kind = iota
	KindPipe
	KindDevice
)

// maxChunk is the most file bytes one log transaction may carry: each
// data block can cost a bitmap block too, and the inode block, an
// indirect block, and freshly allocated blocks' zeroing share the same
// budget.
const maxChunk = ((common.MAXOPBLOCKS - 4) / 2) * disk.BlockSize

// File is an open-file object. The mutex guards ref and off; the
// remaining fields are fixed at open time.
type File struct {
	mu   *sync.Mutex
	Kind Kind
	ref  uint64

	readable bool
	writable bool

	// KindInode and KindDevice
	c   *inode.Cache
	log *wal.Walog
	ip  *inode.Inode
	off uint64

	// KindPipe
	pipe *Pipe
}

// NewFileInode wraps a referenced inode in a file object with offset
// zero. Device inodes produce KindDevice files; directories may not be
// opened writable.
func NewFileInode(c *inode.Cache, log *wal.Walog, ip *inode.Inode,
	readable bool, writable bool) (*File, error) {
	kind := KindInode
	switch ip.Type {
	case common.TDIR:
		if writable {
			return nil, common.ErrIsDir
		}
	case common.TDEV:
		if _, err := c.Device(ip.Major); err != nil {
			return nil, err
		}
		kind = KindDevice
	}
	return &File{
		mu:       new(sync.Mutex),
		Kind:     kind,
		ref:      1,
		readable: readable,
		writable: writable,
		c:        c,
		log:      log,
		ip:       ip,
	}, nil
}

func newFilePipe(p *Pipe, readable bool) *File {
	return &File{
		mu:       new(sync.Mutex),
		Kind:     KindPipe,
		ref:      1,
		readable: readable,
		writable: !readable,
		pipe:     p,
	}
}

// Dup adds a holder sharing this object (and its offset).
func (f *File) Dup() *File {
	f.mu.Lock()
	if f.ref == 0 {
		panic("file: Dup of closed file")
	}
	f.ref += 1
	f.mu.Unlock()
	return f
}

// Close drops one holder; the last close releases the underlying inode
// or pipe end.
func (f *File) Close() {
	f.mu.Lock()
	if f.ref == 0 {
		panic("file: double close")
	}
	f.ref -= 1
	last := f.ref == 0
	f.mu.Unlock()
	if !last {
		return
	}
	switch f.Kind {
	case KindInode, KindDevice:
		// dropping the last reference may free the inode on disk
		f.log.Begin()
		f.c.Put(f.ip)
		f.log.End()
	case KindPipe:
		f.pipe.close(f.writable)
	}
}

// Read fills p from the file, advancing the stored offset for
// inode-backed files.
func (f *File) Read(p []byte) (uint64, error) {
	if !f.readable {
		return 0, common.ErrBadFd
	}
	switch f.Kind {
	case KindInode:
		f.mu.Lock()
		f.ip.Lock()
		n, err := f.ip.Read(f.off, p)
		f.off += n
		f.ip.Unlock()
		f.mu.Unlock()
		return n, err
	case KindDevice:
		dev, err := f.c.Device(f.ip.Major)
		if err != nil {
			return 0, err
		}
		return dev.Read(p)
	case KindPipe:
		return f.pipe.read(p)
	}
	panic("file: unknown kind")
}

// Write copies p to the file. Inode writes are chunked so a single log
// transaction never exceeds its block budget; a chunk that writes
// nothing fails the whole call.
func (f *File) Write(p []byte) (uint64, error) {
	if !f.writable {
		return 0, common.ErrBadFd
	}
	switch f.Kind {
	case KindInode:
		return f.writeInode(p)
	case KindDevice:
		dev, err := f.c.Device(f.ip.Major)
		if err != nil {
			return 0, err
		}
		return dev.Write(p)
	case KindPipe:
		return f.pipe.write(p)
	}
	panic("file: unknown kind")
}

func (f *File) writeInode(p []byte) (uint64, error) {
	var tot uint64 = 0
	n := uint64(len(p))
	f.mu.Lock()
	defer f.mu.Unlock()
	for tot < n {
		m := util.Min(n-tot, maxChunk)
		f.log.Begin()
		f.ip.Lock()
		cnt, err := f.ip.Write(f.off, p[tot:tot+m])
		f.off += cnt
		f.ip.Unlock()
		f.log.End()
		tot += cnt
		if err != nil {
			return tot, err
		}
		if cnt == 0 {
			util.DPrintf(1, "file: short chunk write\n")
			return tot, common.ErrNoSpace
		}
	}
	return tot, nil
}

// Stat reports the underlying inode's metadata; pipes have none.
func (f *File) Stat() (inode.Stat, error) {
	switch f.Kind {
	case KindInode, KindDevice:
		f.ip.Lock()
		st := f.ip.Stati()
		f.ip.Unlock()
		return st, nil
	case KindPipe:
		return inode.Stat{}, common.ErrInvalid
	}
	panic("file: unknown kind")
}
