package file

import (
	"sync"

	"github.com/mit-pdos/go-fs/common"
)

// FdTable maps small integer handles to shared open-file objects.
type FdTable struct {
	mu    *sync.Mutex
	files []*File
}

func MkFdTable() *FdTable {
	return &FdTable{
		mu:    new(sync.Mutex),
		files: make([]*File, common.NOFILE),
	}
}

// Alloc assigns the lowest free handle to f.
func (ft *FdTable) Alloc(f *File) (int, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for fd, slot := range ft.files {
		if slot == nil {
			ft.files[fd] = f
			return fd, nil
		}
	}
	return -1, common.ErrTooManyFiles
}

// Get returns the file behind fd.
func (ft *FdTable) Get(fd int) (*File, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if fd < 0 || fd >= len(ft.files) || ft.files[fd] == nil {
		return nil, common.ErrBadFd
	}
	return ft.files[fd], nil
}

// Dup hands out a new handle sharing fd's open-file object, including
// its offset.
func (ft *FdTable) Dup(fd int) (int, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if fd < 0 || fd >= len(ft.files) || ft.files[fd] == nil {
		return -1, common.ErrBadFd
	}
	f := ft.files[fd]
	for newfd, slot := range ft.files {
		if slot == nil {
			ft.files[newfd] = f.Dup()
			return newfd, nil
		}
	}
	return -1, common.ErrTooManyFiles
}

// Close releases fd's handle; the last handle on an object closes it.
func (ft *FdTable) Close(fd int) error {
	ft.mu.Lock()
	if fd < 0 || fd >= len(ft.files) || ft.files[fd] == nil {
		ft.mu.Unlock()
		return common.ErrBadFd
	}
	f := ft.files[fd]
	ft.files[fd] = nil
	ft.mu.Unlock()
	f.Close()
	return nil
}
