// Package dcache is an in-memory name cache for one directory,
// mapping entry names to their inumber and byte offset. The owning
// directory's lock serializes all access; the cache is rebuilt from
// disk on first use after an inode is opened.
package dcache

import (
	"github.com/mit-pdos/go-sectorfs/common"
)

type Dentry struct {
	Inum common.Inum
	Off  uint64
}

type Dcache struct {
	cache map[string]Dentry

	// Lastoff is the offset of the most recently freed or appended
	// entry, a hint for where the next add will find a slot.
	Lastoff uint64
}

func MkDcache() *Dcache {
	return &Dcache{
		cache: make(map[string]Dentry),
	}
}

func (dc *Dcache) Add(name string, inum common.Inum, off uint64) {
	dc.cache[name] = Dentry{Inum: inum, Off: off}
}

func (dc *Dcache) Lookup(name string) (Dentry, bool) {
	d, ok := dc.cache[name]
	return d, ok
}

func (dc *Dcache) Del(name string) bool {
	_, ok := dc.cache[name]
	if ok {
		delete(dc.cache, name)
	}
	return ok
}
