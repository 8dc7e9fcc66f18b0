// Package dir implements directories as files whose bytes are
// fixed-size (inode number, name) records. An inode number of zero
// marks an empty slot.
//
// A directory's "." entry is deliberately excluded from its own link
// count: counting it would form a reference cycle that keeps an empty
// directory unfreeable forever. The ".." entry does count against the
// parent.
package dir

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/inode"
	"github.com/mit-pdos/go-fs/util"
)

// Dirent is one directory record. Name holds at most DIRSIZ bytes and
// is not guaranteed to be NUL-terminated at that length.
type Dirent struct {
	Inum common.Inum
	Name string
}

func EncodeDirent(de Dirent) []byte {
	enc := marshal.NewEnc(common.DIRENTSZ)
	enc.PutInt(uint64(de.Inum))
	name := make([]byte, common.DIRSIZ)
	copy(name, de.Name)
	enc.PutBytes(name)
	return enc.Finish()
}

func DecodeDirent(d []byte) Dirent {
	dec := marshal.NewDec(d)
	inum := common.Inum(dec.GetInt())
	name := dec.GetBytes(common.DIRSIZ)
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}
	return Dirent{Inum: inum, Name: string(name[:n])}
}

// clamp truncates a name to the DIRSIZ bytes a record can hold, so
// storing and comparing agree.
func clamp(name string) string {
	if uint64(len(name)) > common.DIRSIZ {
		return name[:common.DIRSIZ]
	}
	return name
}

func readDirent(dp *inode.Inode, off uint64) Dirent {
	buf := make([]byte, common.DIRENTSZ)
	n, err := dp.Read(off, buf)
	if n != common.DIRENTSZ || err != nil {
		panic("dir: short dirent read")
	}
	return DecodeDirent(buf)
}

// Lookup scans dp for name and returns the matching inode number and
// the entry's byte offset. The caller must hold dp's lock.
func Lookup(dp *inode.Inode, name string) (common.Inum, uint64, error) {
	if dp.Type != common.TDIR {
		panic("dir: Lookup of non-directory")
	}
	name = clamp(name)
	for off := uint64(0); off < dp.Size; off += common.DIRENTSZ {
		de := readDirent(dp, off)
		if de.Inum == common.NULLINUM {
			continue
		}
		if de.Name == name {
			return de.Inum, off, nil
		}
	}
	return common.NULLINUM, 0, common.ErrNotFound
}

// Link adds a (name, inum) record to dp, reusing the first empty slot
// or growing the directory by one record. It fails if the name is
// already present. The caller must hold dp's lock and be inside a log
// transaction.
func Link(dp *inode.Inode, name string, inum common.Inum) error {
	if _, _, err := Lookup(dp, name); err == nil {
		return common.ErrExists
	}
	name = clamp(name)
	var off = dp.Size
	for o := uint64(0); o < dp.Size; o += common.DIRENTSZ {
		de := readDirent(dp, o)
		if de.Inum == common.NULLINUM {
			off = o
			break
		}
	}
	util.DPrintf(5, "dir: link %q -> %d at %d\n", name, inum, off)
	n, err := dp.Write(off, EncodeDirent(Dirent{Inum: inum, Name: name}))
	if err != nil {
		return err
	}
	if n != common.DIRENTSZ {
		panic("dir: short dirent write")
	}
	return nil
}

// Unlink clears the record at off. The caller must hold dp's lock and
// be inside a log transaction.
func Unlink(dp *inode.Inode, off uint64) {
	n, err := dp.Write(off, EncodeDirent(Dirent{}))
	if n != common.DIRENTSZ || err != nil {
		panic("dir: short dirent clear")
	}
}

// IsEmpty reports whether dp holds no entries besides "." and "..".
// The caller must hold dp's lock.
func IsEmpty(dp *inode.Inode) bool {
	for off := uint64(0); off < dp.Size; off += common.DIRENTSZ {
		de := readDirent(dp, off)
		if de.Inum == common.NULLINUM || de.Name == "." || de.Name == ".." {
			continue
		}
		return false
	}
	return true
}
