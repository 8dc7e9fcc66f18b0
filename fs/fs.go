// Package fs assembles the storage engine and exposes the upward
// interface: open/close/read/write/dup/stat plus the pathname
// operations. Every call that mutates persisted state runs inside one
// log transaction, so callers never observe a partially-applied
// mutation.
package fs

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-fs/alloc"
	"github.com/mit-pdos/go-fs/bcache"
	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/dir"
	"github.com/mit-pdos/go-fs/file"
	"github.com/mit-pdos/go-fs/inode"
	"github.com/mit-pdos/go-fs/path"
	"github.com/mit-pdos/go-fs/super"
	"github.com/mit-pdos/go-fs/util"
	"github.com/mit-pdos/go-fs/wal"
)

// Open flags.
const (
	O_RDONLY uint64 = 0x0
	O_WRONLY uint64 = 0x1
	O_RDWR   uint64 = 0x2
	O_CREATE uint64 = 0x200
)

// NBUF is the block cache capacity; it must comfortably exceed the
// log's worst-case pinned blocks plus the buffers concurrently held by
// in-flight operations.
const NBUF uint64 = 100

type FileSystem struct {
	Super  *super.FsSuper
	Bcache *bcache.Bcache
	Log    *wal.Walog
	Balloc *alloc.Alloc
	Icache *inode.Cache

	fds *file.FdTable

	mu  sync.Mutex // guards cwd
	cwd *inode.Inode
}

// Mkfs formats d and seeds the root directory with its self and parent
// entries (link count 2: its own ".." plus the root's permanent
// anchor).
func Mkfs(d disk.Disk, nInodes uint64) {
	fsuper := super.Format(d, nInodes)
	bc := bcache.MkBcache(d, NBUF)
	log := wal.MkLog(fsuper, bc)
	balloc := alloc.MkAlloc(fsuper, log, bc)
	ic := inode.MkCache(fsuper, log, bc, balloc, nil)

	log.Begin()
	ip, err := ic.Alloc(common.TDIR, 0, 0)
	if err != nil {
		panic("Mkfs: no inodes")
	}
	if ip.Inum != common.ROOTINUM {
		panic("Mkfs: root inum")
	}
	ip.Lock()
	ip.Nlink = 2
	if err := dir.Link(ip, ".", ip.Inum); err != nil {
		panic("Mkfs: link .")
	}
	if err := dir.Link(ip, "..", ip.Inum); err != nil {
		panic("Mkfs: link ..")
	}
	ip.Update()
	ip.Unlock()
	ic.Put(ip)
	log.End()
	util.DPrintf(1, "Mkfs: done\n")
}

// Mount builds the engine over a formatted disk, replaying the log if
// a crash left a committed transaction uninstalled. devs maps device
// major numbers to their drivers.
func Mount(d disk.Disk, devs map[uint64]inode.Device) (*FileSystem, error) {
	fsuper, err := super.Load(d)
	if err != nil {
		return nil, err
	}
	bc := bcache.MkBcache(d, NBUF)
	log := wal.MkLog(fsuper, bc)
	balloc := alloc.MkAlloc(fsuper, log, bc)
	ic := inode.MkCache(fsuper, log, bc, balloc, devs)
	fs := &FileSystem{
		Super:  fsuper,
		Bcache: bc,
		Log:    log,
		Balloc: balloc,
		Icache: ic,
		fds:    file.MkFdTable(),
		cwd:    ic.Get(common.ROOTINUM),
	}
	return fs, nil
}

func (fs *FileSystem) curDir() *inode.Inode {
	fs.mu.Lock()
	cwd := fs.cwd
	fs.mu.Unlock()
	return cwd
}

// create makes a new inode of the given type linked under the final
// component of pth, returning it locked. Opening an existing file
// through O_CREATE lands here too. Runs inside the caller's log
// transaction.
func (fs *FileSystem) create(pth string, typ uint64, major uint64, minor uint64) (*inode.Inode, error) {
	dp, name, err := path.NameiParent(fs.Icache, fs.curDir(), pth)
	if err != nil {
		return nil, err
	}
	dp.Lock()

	if inum, _, err := dir.Lookup(dp, name); err == nil {
		dp.Unlock()
		fs.Icache.Put(dp)
		ip := fs.Icache.Get(inum)
		ip.Lock()
		if typ == common.TFILE && (ip.Type == common.TFILE || ip.Type == common.TDEV) {
			return ip, nil
		}
		ip.Unlock()
		fs.Icache.Put(ip)
		return nil, common.ErrExists
	}

	ip, err := fs.Icache.Alloc(typ, major, minor)
	if err != nil {
		dp.Unlock()
		fs.Icache.Put(dp)
		return nil, err
	}
	ip.Lock()
	ip.Nlink = 1
	ip.Update()

	if typ == common.TDIR {
		// "." is excluded from ip's own link count on purpose
		if err := dir.Link(ip, ".", ip.Inum); err != nil {
			panic("create: link .")
		}
		if err := dir.Link(ip, "..", dp.Inum); err != nil {
			panic("create: link ..")
		}
	}

	if err := dir.Link(dp, name, ip.Inum); err != nil {
		// undo the partial state before returning
		ip.Nlink = 0
		ip.Update()
		ip.Unlock()
		fs.Icache.Put(ip)
		dp.Unlock()
		fs.Icache.Put(dp)
		return nil, err
	}
	if typ == common.TDIR {
		dp.Nlink += 1 // for ".."
		dp.Update()
	}
	dp.Unlock()
	fs.Icache.Put(dp)
	return ip, nil
}

// Open resolves (or with O_CREATE, creates) pth and returns a
// descriptor. Directories may only be opened read-only.
func (fs *FileSystem) Open(pth string, flags uint64) (int, error) {
	writable := flags&(O_WRONLY|O_RDWR) != 0
	readable := flags&O_WRONLY == 0

	fs.Log.Begin()
	var ip *inode.Inode
	var err error
	if flags&O_CREATE != 0 {
		ip, err = fs.create(pth, common.TFILE, 0, 0)
		if err != nil {
			fs.Log.End()
			return -1, err
		}
	} else {
		ip, err = path.Namei(fs.Icache, fs.curDir(), pth)
		if err != nil {
			fs.Log.End()
			return -1, err
		}
		ip.Lock()
	}

	f, err := file.NewFileInode(fs.Icache, fs.Log, ip, readable, writable)
	if err != nil {
		ip.Unlock()
		fs.Icache.Put(ip)
		fs.Log.End()
		return -1, err
	}
	ip.Unlock()
	fs.Log.End()

	fd, err := fs.fds.Alloc(f)
	if err != nil {
		f.Close()
		return -1, err
	}
	return fd, nil
}

func (fs *FileSystem) Close(fd int) error {
	return fs.fds.Close(fd)
}

func (fs *FileSystem) Read(fd int, p []byte) (uint64, error) {
	f, err := fs.fds.Get(fd)
	if err != nil {
		return 0, err
	}
	return f.Read(p)
}

func (fs *FileSystem) Write(fd int, p []byte) (uint64, error) {
	f, err := fs.fds.Get(fd)
	if err != nil {
		return 0, err
	}
	return f.Write(p)
}

func (fs *FileSystem) Dup(fd int) (int, error) {
	return fs.fds.Dup(fd)
}

func (fs *FileSystem) Stat(fd int) (inode.Stat, error) {
	f, err := fs.fds.Get(fd)
	if err != nil {
		return inode.Stat{}, err
	}
	return f.Stat()
}

// Link makes newpth name the same inode as oldpth. Directories cannot
// be hard-linked.
func (fs *FileSystem) Link(oldpth string, newpth string) error {
	fs.Log.Begin()
	defer fs.Log.End()

	ip, err := path.Namei(fs.Icache, fs.curDir(), oldpth)
	if err != nil {
		return err
	}
	ip.Lock()
	if ip.Type == common.TDIR {
		ip.Unlock()
		fs.Icache.Put(ip)
		return common.ErrIsDir
	}
	ip.Nlink += 1
	ip.Update()
	ip.Unlock()

	dp, name, err := path.NameiParent(fs.Icache, fs.curDir(), newpth)
	if err == nil {
		dp.Lock()
		err = dir.Link(dp, name, ip.Inum)
		dp.Unlock()
		fs.Icache.Put(dp)
	}
	if err != nil {
		// undo the link-count bump
		ip.Lock()
		ip.Nlink -= 1
		ip.Update()
		ip.Unlock()
	}
	fs.Icache.Put(ip)
	return err
}

// Unlink removes pth's directory entry. A directory must be empty and
// removing it decrements its parent's link count (its ".." goes away).
func (fs *FileSystem) Unlink(pth string) error {
	fs.Log.Begin()
	defer fs.Log.End()

	dp, name, err := path.NameiParent(fs.Icache, fs.curDir(), pth)
	if err != nil {
		return err
	}
	dp.Lock()

	if name == "." || name == ".." {
		dp.Unlock()
		fs.Icache.Put(dp)
		return common.ErrInvalid
	}
	inum, off, err := dir.Lookup(dp, name)
	if err != nil {
		dp.Unlock()
		fs.Icache.Put(dp)
		return err
	}
	ip := fs.Icache.Get(inum)
	ip.Lock()
	if ip.Nlink < 1 {
		panic("Unlink: nlink < 1")
	}
	if ip.Type == common.TDIR && !dir.IsEmpty(ip) {
		ip.Unlock()
		fs.Icache.Put(ip)
		dp.Unlock()
		fs.Icache.Put(dp)
		return common.ErrNotEmpty
	}

	dir.Unlink(dp, off)
	if ip.Type == common.TDIR {
		dp.Nlink -= 1 // the removed directory's ".."
		dp.Update()
	}
	dp.Unlock()
	fs.Icache.Put(dp)

	ip.Nlink -= 1
	ip.Update()
	ip.Unlock()
	fs.Icache.Put(ip)
	return nil
}

// MkDir creates an empty directory at pth.
func (fs *FileSystem) MkDir(pth string) error {
	fs.Log.Begin()
	defer fs.Log.End()
	ip, err := fs.create(pth, common.TDIR, 0, 0)
	if err != nil {
		return err
	}
	ip.Unlock()
	fs.Icache.Put(ip)
	return nil
}

// MkNod creates a device node at pth referring to (major, minor).
func (fs *FileSystem) MkNod(pth string, major uint64, minor uint64) error {
	fs.Log.Begin()
	defer fs.Log.End()
	ip, err := fs.create(pth, common.TDEV, major, minor)
	if err != nil {
		return err
	}
	ip.Unlock()
	fs.Icache.Put(ip)
	return nil
}

// ChDir changes the directory relative paths resolve from.
func (fs *FileSystem) ChDir(pth string) error {
	fs.Log.Begin()
	defer fs.Log.End()
	ip, err := path.Namei(fs.Icache, fs.curDir(), pth)
	if err != nil {
		return err
	}
	ip.Lock()
	if ip.Type != common.TDIR {
		ip.Unlock()
		fs.Icache.Put(ip)
		return common.ErrNotDir
	}
	ip.Unlock()
	fs.mu.Lock()
	old := fs.cwd
	fs.cwd = ip
	fs.mu.Unlock()
	fs.Icache.Put(old)
	return nil
}

// Pipe creates a pipe and returns (read fd, write fd).
func (fs *FileSystem) Pipe() (int, int, error) {
	rf, wf := file.MkPipe()
	rfd, err := fs.fds.Alloc(rf)
	if err != nil {
		rf.Close()
		wf.Close()
		return -1, -1, err
	}
	wfd, err := fs.fds.Alloc(wf)
	if err != nil {
		fs.fds.Close(rfd)
		wf.Close()
		return -1, -1, err
	}
	return rfd, wfd, nil
}

// Sync waits until every operation admitted before the call is
// durably committed.
func (fs *FileSystem) Sync() {
	fs.Log.Flush()
}
