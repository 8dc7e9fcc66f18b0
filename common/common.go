// Package common holds the on-disk layout constants and the error values
// shared by every layer of the file system.
package common

import (
	"errors"

	"github.com/tchajed/goose/machine/disk"
)

type Bnum = uint64
type Inum uint64

const (
	NULLBNUM Bnum = 0
	NULLINUM Inum = 0
	ROOTINUM Inum = 1
)

// Inode types. A type of zero marks a free on-disk slot.
const (
	TFREE uint64 = 0
	TFILE uint64 = 1
	TDIR  uint64 = 2
	TDEV  uint64 = 3
)

const (
	// INODESZ is the on-disk inode size: 5 scalar fields plus
	// NDIRECT+1 block addresses, 8 bytes each.
	INODESZ  uint64 = 128
	INODEBLK uint64 = disk.BlockSize / INODESZ

	NDIRECT   uint64 = 10
	NINDIRECT uint64 = disk.BlockSize / 8
	MAXFILE   uint64 = NDIRECT + NINDIRECT

	// MAXOPBLOCKS bounds the number of logged writes a single
	// operation may issue; log admission control relies on it.
	MAXOPBLOCKS uint64 = 10
	LOGSIZE     uint64 = 3 * MAXOPBLOCKS

	NBITBLOCK uint64 = disk.BlockSize * 8

	// DIRSIZ is the maximum name length in a directory entry. Names
	// are not guaranteed to be NUL-terminated at that length.
	DIRSIZ    uint64 = 24
	DIRENTSZ  uint64 = 8 + DIRSIZ
	DIRENTBLK uint64 = disk.BlockSize / DIRENTSZ

	NOFILE uint64 = 16
)

var (
	ErrNotFound     = errors.New("no such file or directory")
	ErrExists       = errors.New("file exists")
	ErrNotDir       = errors.New("not a directory")
	ErrIsDir        = errors.New("is a directory")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrNoSpace      = errors.New("no space left on device")
	ErrNoInodes     = errors.New("out of inodes")
	ErrFileTooLarge = errors.New("file too large")
	ErrBadFd        = errors.New("bad file descriptor")
	ErrTooManyFiles = errors.New("file table overflow")
	ErrPipeClosed   = errors.New("pipe closed")
	ErrNoDevice     = errors.New("no such device")
	ErrInvalid      = errors.New("invalid argument")
)
