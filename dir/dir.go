// Package dir layers directories over inodes.
//
// A directory is an inode with IsDir set whose content is an array of
// fixed-size entries. Every directory carries "." and ".." entries;
// the root's point at itself. Operations lock the inode's dir lock
// and work through *Locked internals, so the internal lookup that Add
// and Remove need never re-takes the lock.
package dir

import (
	"github.com/mit-pdos/go-journal/util"
	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/go-sectorfs/common"
	"github.com/mit-pdos/go-sectorfs/dcache"
	"github.com/mit-pdos/go-sectorfs/inode"
)

// DirEntSize is the on-disk entry size:
// inUse u32 | inum u32 | nameLen u32 | name.
const DirEntSize uint64 = 32

const NameMax uint64 = common.NameMax

type dirEnt struct {
	inUse bool
	inum  common.Inum
	name  string
}

func encodeDirEnt(de *dirEnt) []byte {
	d := make([]byte, DirEntSize)
	if de.inUse {
		machine.UInt32Put(d[0:4], 1)
	}
	machine.UInt32Put(d[4:8], de.inum)
	machine.UInt32Put(d[8:12], uint32(len(de.name)))
	copy(d[12:], de.name)
	return d
}

func decodeDirEnt(d []byte) dirEnt {
	var de dirEnt
	de.inUse = machine.UInt32Get(d[0:4]) != 0
	de.inum = machine.UInt32Get(d[4:8])
	l := machine.UInt32Get(d[8:12])
	de.name = string(d[12 : 12+l])
	return de
}

// IllegalName reports names that no caller-visible operation may
// create or remove.
func IllegalName(name string) bool {
	return name == "." || name == ".."
}

func validName(name string) bool {
	if len(name) == 0 || uint64(len(name)) > NameMax {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return false
		}
	}
	return true
}

// Dir is an open directory handle. The readdir position is per
// handle; the inode underneath is shared.
type Dir struct {
	ip  *inode.Inode
	pos uint64
}

// Open opens the directory at inum. Returns nil if the inumber is
// free or not a directory.
func Open(st *inode.Store, inum common.Inum) *Dir {
	ip := st.Open(inum)
	if ip == nil {
		return nil
	}
	if !ip.IsDir() {
		ip.Put()
		return nil
	}
	return &Dir{ip: ip}
}

func OpenRoot(st *inode.Store) *Dir {
	return Open(st, common.RootInum)
}

// Wrap takes ownership of an already-open directory inode.
func Wrap(ip *inode.Inode) *Dir {
	return &Dir{ip: ip}
}

// Reopen returns a fresh handle (own readdir position) on the same
// inode.
func (d *Dir) Reopen() *Dir {
	d.ip.Reopen()
	return &Dir{ip: d.ip}
}

func (d *Dir) Close() {
	d.ip.Put()
}

func (d *Dir) Inode() *inode.Inode {
	return d.ip
}

func (d *Dir) Inum() common.Inum {
	return d.ip.Inum()
}

// dcacheLocked returns the inode's name cache, building it from disk
// on first use. Caller holds the dir lock, which also guards the
// cache.
func (d *Dir) dcacheLocked() *dcache.Dcache {
	dc := d.ip.Dcache
	if dc != nil {
		return dc
	}
	dc = dcache.MkDcache()
	for off := uint64(0); ; off += DirEntSize {
		var buf [DirEntSize]byte
		n := d.ip.ReadAt(buf[:], off)
		if n != DirEntSize {
			break
		}
		de := decodeDirEnt(buf[:])
		if de.inUse {
			dc.Add(de.name, de.inum, off)
		}
	}
	d.ip.Dcache = dc
	return dc
}

// lookupLocked finds name's entry through the name cache. Caller
// holds the dir lock.
func (d *Dir) lookupLocked(name string) (dcache.Dentry, bool) {
	return d.dcacheLocked().Lookup(name)
}

// Lookup opens the inode that name refers to, or returns nil. Fails
// on a removed directory.
func (d *Dir) Lookup(name string) *inode.Inode {
	d.ip.LockDir()
	if d.ip.Removed() {
		d.ip.UnlockDir()
		return nil
	}
	de, ok := d.lookupLocked(name)
	var ip *inode.Inode
	if ok {
		ip = d.ip.Store().Open(de.Inum)
	}
	d.ip.UnlockDir()
	return ip
}

// Add inserts an entry for name referring to inum, reusing the first
// free slot at or after the name cache's Lastoff hint or extending the
// directory; free slots before the hint are not searched. Fails on a
// bad name, a
// removed directory, a name already in use, or a short entry write.
func (d *Dir) Add(name string, inum common.Inum) bool {
	if !validName(name) {
		return false
	}
	d.ip.LockDir()
	if d.ip.Removed() {
		d.ip.UnlockDir()
		return false
	}
	dc := d.dcacheLocked()
	if _, ok := dc.Lookup(name); ok {
		d.ip.UnlockDir()
		return false
	}
	// find a free slot, starting at the last-freed hint
	off := dc.Lastoff
	for ; ; off += DirEntSize {
		var buf [DirEntSize]byte
		n := d.ip.ReadAt(buf[:], off)
		if n != DirEntSize {
			break
		}
		de := decodeDirEnt(buf[:])
		if !de.inUse {
			break
		}
	}
	ent := encodeDirEnt(&dirEnt{inUse: true, inum: inum, name: name})
	ok := d.ip.WriteAt(ent, off) == DirEntSize
	if ok {
		dc.Add(name, inum, off)
		dc.Lastoff = off
	}
	d.ip.UnlockDir()
	util.DPrintf(5, "dir: # %d add %q -> %d: %v\n", d.Inum(), name, inum, ok)
	return ok
}

// isEmptyLocked reports whether the directory holds no live entries
// besides "." and "..". Caller holds the dir lock.
func (d *Dir) isEmptyLocked() bool {
	for off := uint64(0); ; off += DirEntSize {
		var buf [DirEntSize]byte
		n := d.ip.ReadAt(buf[:], off)
		if n != DirEntSize {
			return true
		}
		de := decodeDirEnt(buf[:])
		if de.inUse && de.name != "." && de.name != ".." {
			return false
		}
	}
}

// Remove deletes name's entry and marks its inode for deletion. A
// sub-directory must be empty. "." and ".." cannot be removed.
func (d *Dir) Remove(name string) bool {
	if IllegalName(name) {
		return false
	}
	d.ip.LockDir()
	dc := d.dcacheLocked()
	de, ok := dc.Lookup(name)
	if !ok {
		d.ip.UnlockDir()
		return false
	}
	off := de.Off
	ip := d.ip.Store().Open(de.Inum)
	if ip == nil {
		d.ip.UnlockDir()
		return false
	}
	if ip.IsDir() {
		// parent-then-child lock order follows the tree, so this
		// cannot deadlock with another remove
		child := Wrap(ip)
		child.ip.LockDir()
		empty := child.isEmptyLocked()
		child.ip.UnlockDir()
		if !empty {
			ip.Put()
			d.ip.UnlockDir()
			return false
		}
	}
	ent := encodeDirEnt(&dirEnt{})
	if d.ip.WriteAt(ent, off) != DirEntSize {
		ip.Put()
		d.ip.UnlockDir()
		return false
	}
	if !dc.Del(name) {
		panic("dir: Remove")
	}
	dc.Lastoff = off
	ip.Remove()
	ip.Put()
	d.ip.UnlockDir()
	util.DPrintf(5, "dir: # %d removed %q\n", d.Inum(), name)
	return true
}

// ReadDir returns the next entry name past "." and "..", in on-disk
// order, advancing this handle's position.
func (d *Dir) ReadDir() (string, bool) {
	d.ip.LockDir()
	for {
		var buf [DirEntSize]byte
		n := d.ip.ReadAt(buf[:], d.pos)
		if n != DirEntSize {
			break
		}
		d.pos += DirEntSize
		de := decodeDirEnt(buf[:])
		if de.inUse && de.name != "." && de.name != ".." {
			d.ip.UnlockDir()
			return de.name, true
		}
	}
	d.ip.UnlockDir()
	return "", false
}

// MkDir creates a directory inode at inum with "." and ".." entries.
func MkDir(st *inode.Store, inum common.Inum, parent common.Inum) bool {
	st.Init(inum, 0, true)
	d := Open(st, inum)
	if d == nil {
		return false
	}
	ok := d.Add(".", inum) && d.Add("..", parent)
	d.Close()
	return ok
}

// MkRoot creates the root directory; its "." and ".." both point at
// itself.
func MkRoot(st *inode.Store) bool {
	return MkDir(st, common.RootInum, common.RootInum)
}
