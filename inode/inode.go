// Package inode manages file metadata: the on-disk inode table, the
// cache of reference-counted in-memory inodes, the direct/indirect
// block map, and byte-level reads and writes.
//
// Locking: the cache mutex guards the inode map and reference counts
// and is never held across I/O; each inode's exclusive lock comes from
// a sharded lockmap keyed by inode number and is held across device
// operations. Lock loads the on-disk contents on first use.
package inode

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fs/alloc"
	"github.com/mit-pdos/go-fs/bcache"
	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/lockmap"
	"github.com/mit-pdos/go-fs/super"
	"github.com/mit-pdos/go-fs/util"
	"github.com/mit-pdos/go-fs/wal"
)

// Device is the driver entry point a device inode's (major) number
// resolves to.
type Device interface {
	Read(p []byte) (uint64, error)
	Write(p []byte) (uint64, error)
}

// Inode is the in-memory copy of an on-disk inode.
//
// refcnt is guarded by the cache mutex; valid and the on-disk fields
// are guarded by the inode's lock.
type Inode struct {
	c      *Cache
	Inum   common.Inum
	refcnt uint64

	valid bool
	Type  uint64
	Major uint64
	Minor uint64
	Nlink uint64
	Size  uint64
	Addrs []common.Bnum // NDIRECT direct blocks plus one indirect
}

type Cache struct {
	mu     *sync.Mutex
	fs     *super.FsSuper
	log    *wal.Walog
	bc     *bcache.Bcache
	balloc *alloc.Alloc
	locks  *lockmap.LockMap
	inodes map[common.Inum]*Inode
	devs   map[uint64]Device
}

func MkCache(fs *super.FsSuper, log *wal.Walog, bc *bcache.Bcache,
	balloc *alloc.Alloc, devs map[uint64]Device) *Cache {
	return &Cache{
		mu:     new(sync.Mutex),
		fs:     fs,
		log:    log,
		bc:     bc,
		balloc: balloc,
		locks:  lockmap.MkLockMap(),
		inodes: make(map[common.Inum]*Inode),
		devs:   devs,
	}
}

// Device resolves a major number to its registered driver.
func (c *Cache) Device(major uint64) (Device, error) {
	dev, ok := c.devs[major]
	if !ok {
		return nil, common.ErrNoDevice
	}
	return dev, nil
}

// Get returns the shared in-memory inode for inum, not yet loaded from
// disk. Two concurrent Gets of the same inum converge on the same
// object.
func (c *Cache) Get(inum common.Inum) *Inode {
	c.mu.Lock()
	ip, ok := c.inodes[inum]
	if ok {
		ip.refcnt += 1
	} else {
		ip = &Inode{
			c:      c,
			Inum:   inum,
			refcnt: 1,
		}
		c.inodes[inum] = ip
	}
	c.mu.Unlock()
	return ip
}

// Dup adds a reference to an already-held inode.
func (c *Cache) Dup(ip *Inode) *Inode {
	c.mu.Lock()
	if ip.refcnt == 0 {
		panic("inode: Dup without ref")
	}
	ip.refcnt += 1
	c.mu.Unlock()
	return ip
}

// Put drops a reference. If this was the last reference to an inode
// with no links, its data blocks and on-disk slot are released as part
// of the same operation; the caller must therefore be inside a log
// transaction and must not hold the inode's lock.
func (c *Cache) Put(ip *Inode) {
	c.mu.Lock()
	if ip.refcnt == 0 {
		panic("inode: Put without ref")
	}
	last := ip.refcnt == 1
	c.mu.Unlock()

	if last {
		// The link count is guarded by the inode lock, so take it
		// before inspecting. With one reference and no links the
		// inode is unreachable: no directory names it, so no lookup
		// can revive it while the cache mutex is dropped.
		c.locks.Acquire(uint64(ip.Inum))
		if ip.valid && ip.Nlink == 0 {
			ip.trunc()
			ip.Type = common.TFREE
			ip.Major = 0
			ip.Minor = 0
			ip.Update()
			ip.valid = false
		}
		c.locks.Release(uint64(ip.Inum))
	}

	c.mu.Lock()
	ip.refcnt -= 1
	if ip.refcnt == 0 {
		delete(c.inodes, ip.Inum)
	}
	c.mu.Unlock()
}

// Alloc claims a free on-disk inode slot, initializes it with a logged
// write, and returns a referenced (unlocked) handle. The caller must
// be inside a log transaction.
func (c *Cache) Alloc(typ uint64, major uint64, minor uint64) (*Inode, error) {
	if typ == common.TFREE {
		panic("inode: Alloc of free type")
	}
	for inum := common.ROOTINUM; uint64(inum) < c.fs.NInodes; inum++ {
		b := c.bc.Bread(c.fs.InodeBlock(inum))
		off := c.fs.InodeOffset(inum)
		dec := marshal.NewDec(b.Data[off : off+common.INODESZ])
		if dec.GetInt() == common.TFREE {
			fresh := &Inode{
				Type:  typ,
				Major: major,
				Minor: minor,
				Addrs: make([]common.Bnum, common.NDIRECT+1),
			}
			fresh.encode(b.Data[off : off+common.INODESZ])
			c.log.Write(b)
			c.bc.Brelse(b)
			util.DPrintf(5, "inode: alloc %d type %d\n", inum, typ)
			return c.Get(inum), nil
		}
		c.bc.Brelse(b)
	}
	return nil, common.ErrNoInodes
}

func (ip *Inode) encode(dst []byte) {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt(ip.Type)
	enc.PutInt(ip.Major)
	enc.PutInt(ip.Minor)
	enc.PutInt(ip.Nlink)
	enc.PutInt(ip.Size)
	enc.PutInts(ip.Addrs)
	copy(dst, enc.Finish())
}

func (ip *Inode) decode(src []byte) {
	dec := marshal.NewDec(src)
	ip.Type = dec.GetInt()
	ip.Major = dec.GetInt()
	ip.Minor = dec.GetInt()
	ip.Nlink = dec.GetInt()
	ip.Size = dec.GetInt()
	ip.Addrs = dec.GetInts(common.NDIRECT + 1)
}

// Lock acquires the inode's exclusive lock, loading the on-disk
// contents on first use.
func (ip *Inode) Lock() {
	ip.c.locks.Acquire(uint64(ip.Inum))
	if !ip.valid {
		b := ip.c.bc.Bread(ip.c.fs.InodeBlock(ip.Inum))
		off := ip.c.fs.InodeOffset(ip.Inum)
		ip.decode(b.Data[off : off+common.INODESZ])
		ip.c.bc.Brelse(b)
		ip.valid = true
		if ip.Type == common.TFREE {
			panic("inode: Lock of free inode")
		}
	}
}

func (ip *Inode) Unlock() {
	ip.c.locks.Release(uint64(ip.Inum))
}

// Update persists the inode's metadata with a logged write. The caller
// must hold the inode lock and be inside a log transaction.
func (ip *Inode) Update() {
	b := ip.c.bc.Bread(ip.c.fs.InodeBlock(ip.Inum))
	off := ip.c.fs.InodeOffset(ip.Inum)
	ip.encode(b.Data[off : off+common.INODESZ])
	ip.c.log.Write(b)
	ip.c.bc.Brelse(b)
}

// bmap maps a logical block index to a physical block, allocating on
// first use when allocate is set. A NULLBNUM result on the read path
// means a hole (all zero bytes).
func (ip *Inode) bmap(bn uint64, allocate bool) (common.Bnum, error) {
	if bn < common.NDIRECT {
		addr := ip.Addrs[bn]
		if addr == common.NULLBNUM && allocate {
			a, err := ip.c.balloc.BAlloc()
			if err != nil {
				return common.NULLBNUM, err
			}
			ip.Addrs[bn] = a
			addr = a
		}
		return addr, nil
	}
	bn -= common.NDIRECT
	if bn >= common.NINDIRECT {
		return common.NULLBNUM, common.ErrFileTooLarge
	}
	indirect := ip.Addrs[common.NDIRECT]
	if indirect == common.NULLBNUM {
		if !allocate {
			return common.NULLBNUM, nil
		}
		a, err := ip.c.balloc.BAlloc()
		if err != nil {
			return common.NULLBNUM, err
		}
		ip.Addrs[common.NDIRECT] = a
		indirect = a
	}
	b := ip.c.bc.Bread(indirect)
	dec := marshal.NewDec(b.Data[bn*8 : bn*8+8])
	addr := dec.GetInt()
	if addr == common.NULLBNUM && allocate {
		a, err := ip.c.balloc.BAlloc()
		if err != nil {
			ip.c.bc.Brelse(b)
			return common.NULLBNUM, err
		}
		enc := marshal.NewEnc(8)
		enc.PutInt(a)
		copy(b.Data[bn*8:bn*8+8], enc.Finish())
		ip.c.log.Write(b)
		addr = a
	}
	ip.c.bc.Brelse(b)
	return addr, nil
}

// Read copies up to len(dst) bytes starting at off into dst, clamped
// at the recorded size. The caller must hold the inode lock.
func (ip *Inode) Read(off uint64, dst []byte) (uint64, error) {
	if ip.Type == common.TDEV {
		panic("inode: Read of device inode")
	}
	if off >= ip.Size {
		return 0, nil
	}
	n := util.Min(uint64(len(dst)), ip.Size-off)
	var tot uint64 = 0
	for tot < n {
		bn, err := ip.bmap(off/disk.BlockSize, false)
		if err != nil {
			return tot, err
		}
		m := util.Min(n-tot, disk.BlockSize-off%disk.BlockSize)
		if bn == common.NULLBNUM {
			for i := uint64(0); i < m; i++ {
				dst[tot+i] = 0
			}
		} else {
			b := ip.c.bc.Bread(bn)
			copy(dst[tot:tot+m], b.Data[off%disk.BlockSize:off%disk.BlockSize+m])
			ip.c.bc.Brelse(b)
		}
		tot += m
		off += m
	}
	return tot, nil
}

// Write copies len(src) bytes from src to the file starting at off,
// growing (and persisting) the size when the write reaches past the
// previous end. A request extending past the maximum representable
// size is rejected outright. The caller must hold the inode lock and
// be inside a log transaction.
func (ip *Inode) Write(off uint64, src []byte) (uint64, error) {
	if ip.Type == common.TDEV {
		panic("inode: Write of device inode")
	}
	n := uint64(len(src))
	if off > ip.Size {
		return 0, common.ErrInvalid
	}
	if off+n > common.MAXFILE*disk.BlockSize {
		return 0, common.ErrFileTooLarge
	}
	var tot uint64 = 0
	var werr error
	for tot < n {
		bn, err := ip.bmap(off/disk.BlockSize, true)
		if err != nil {
			werr = err
			break
		}
		m := util.Min(n-tot, disk.BlockSize-off%disk.BlockSize)
		b := ip.c.bc.Bread(bn)
		copy(b.Data[off%disk.BlockSize:off%disk.BlockSize+m], src[tot:tot+m])
		ip.c.log.Write(b)
		ip.c.bc.Brelse(b)
		tot += m
		off += m
	}
	if off > ip.Size {
		ip.Size = off
	}
	ip.Update()
	return tot, werr
}

// trunc frees every data block reachable from the address table and
// resets the size to zero.
func (ip *Inode) trunc() {
	for i := uint64(0); i < common.NDIRECT; i++ {
		if ip.Addrs[i] != common.NULLBNUM {
			ip.c.balloc.BFree(ip.Addrs[i])
			ip.Addrs[i] = common.NULLBNUM
		}
	}
	indirect := ip.Addrs[common.NDIRECT]
	if indirect != common.NULLBNUM {
		b := ip.c.bc.Bread(indirect)
		dec := marshal.NewDec(b.Data)
		addrs := dec.GetInts(common.NINDIRECT)
		for _, a := range addrs {
			if a != common.NULLBNUM {
				ip.c.balloc.BFree(a)
			}
		}
		ip.c.bc.Brelse(b)
		ip.c.balloc.BFree(indirect)
		ip.Addrs[common.NDIRECT] = common.NULLBNUM
	}
	ip.Size = 0
	ip.Update()
}

// Stat describes an inode to the caller.
type Stat struct {
	Type  uint64
	Dev   uint64
	Inum  common.Inum
	Nlink uint64
	Size  uint64
}

// Stati reports the inode's metadata. The caller must hold the inode
// lock.
func (ip *Inode) Stati() Stat {
	return Stat{
		Type:  ip.Type,
		Dev:   ip.Major,
		Inum:  ip.Inum,
		Nlink: ip.Nlink,
		Size:  ip.Size,
	}
}
