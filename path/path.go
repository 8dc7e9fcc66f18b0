// Package path resolves slash-separated pathnames to inodes.
//
// The walk locks each directory before looking up its child and
// unlocks it before locking the child, so two resolutions can never
// deadlock against each other.
package path

import (
	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/dir"
	"github.com/mit-pdos/go-fs/inode"
)

// skipElem splits the next path component from pth, ignoring repeated
// leading separators. An empty name means the path is exhausted.
func skipElem(pth string) (string, string) {
	i := 0
	for i < len(pth) && pth[i] == '/' {
		i++
	}
	j := i
	for j < len(pth) && pth[j] != '/' {
		j++
	}
	return pth[i:j], pth[j:]
}

func walk(c *inode.Cache, cwd *inode.Inode, pth string, parent bool) (*inode.Inode, string, error) {
	var ip *inode.Inode
	if len(pth) > 0 && pth[0] == '/' {
		ip = c.Get(common.ROOTINUM)
	} else {
		ip = c.Dup(cwd)
	}
	name, rest := skipElem(pth)
	for name != "" {
		ip.Lock()
		if ip.Type != common.TDIR {
			ip.Unlock()
			c.Put(ip)
			return nil, "", common.ErrNotDir
		}
		if parent {
			if next, _ := skipElem(rest); next == "" {
				// stop one component early; the final name need not exist
				ip.Unlock()
				return ip, name, nil
			}
		}
		inum, _, err := dir.Lookup(ip, name)
		if err != nil {
			ip.Unlock()
			c.Put(ip)
			return nil, "", common.ErrNotFound
		}
		next := c.Get(inum)
		ip.Unlock()
		c.Put(ip)
		ip = next
		name, rest = skipElem(rest)
	}
	if parent {
		c.Put(ip)
		return nil, "", common.ErrNotFound
	}
	return ip, "", nil
}

// Namei resolves pth to a referenced, unlocked inode. Absolute paths
// start at the root; relative paths start at cwd. Failure returns an
// error, never a partial result.
func Namei(c *inode.Cache, cwd *inode.Inode, pth string) (*inode.Inode, error) {
	ip, _, err := walk(c, cwd, pth, false)
	return ip, err
}

// NameiParent resolves everything but the last component, returning
// the parent directory and the final name without checking that the
// name exists.
func NameiParent(c *inode.Cache, cwd *inode.Inode, pth string) (*inode.Inode, string, error) {
	dp, name, err := walk(c, cwd, pth, true)
	return dp, name, err
}
