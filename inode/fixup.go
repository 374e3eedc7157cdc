package inode

import (
	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/go-sectorfs/cache"
	"github.com/mit-pdos/go-sectorfs/common"
)

// bmap maps a byte offset within the inode to the sector backing it.
// With alloc set, the sector and any intermediate index sectors are
// allocated on the way down; without it, bmap only follows existing
// pointers, so reads of holes see (0, false) and fill zeros. Returns
// false past the double-indirect limit or when the free map runs dry.
func (ip *Inode) bmap(off uint64, alloc bool) (common.Snum, bool) {
	idx := off / common.SectorSize
	if idx < DirectLimit {
		return ip.fixTop(idx, alloc, cache.PriNormal)
	}
	if idx < SidLimit {
		k := sidIndex + (idx-DirectLimit)/Fanout
		top, ok := ip.fixTop(k, alloc, cache.PriMeta)
		if !ok {
			return 0, false
		}
		return ip.st.fixChild(top, (idx-DirectLimit)%Fanout, alloc, cache.PriNormal)
	}
	if idx < DidLimit {
		k := didIndex + (idx-SidLimit)/(Fanout*Fanout)
		top, ok := ip.fixTop(k, alloc, cache.PriMeta)
		if !ok {
			return 0, false
		}
		mid, ok := ip.st.fixChild(top, ((idx-SidLimit)/Fanout)%Fanout, alloc, cache.PriMeta)
		if !ok {
			return 0, false
		}
		return ip.st.fixChild(mid, (idx-SidLimit)%Fanout, alloc, cache.PriNormal)
	}
	return 0, false
}

// fixTop resolves the top-level block pointer at slot k, allocating
// it under the inode's data lock so two writers cannot race a new
// sector into the same slot. A changed inode is written back before
// the lock drops.
func (ip *Inode) fixTop(k uint64, alloc bool, pri uint8) (common.Snum, bool) {
	ip.dataMu.Lock()
	s := ip.dsk.Blks[k]
	if s == common.NullSnum {
		if !alloc {
			ip.dataMu.Unlock()
			return 0, false
		}
		ns, ok := ip.st.fm.Allocate(1)
		if !ok {
			ip.dataMu.Unlock()
			return 0, false
		}
		ip.st.c.Add(ns, pri)
		ip.dsk.Blks[k] = ns
		ip.st.writeDisk(ip.inum, &ip.dsk)
		s = ns
	}
	ip.dataMu.Unlock()
	return s, true
}

// fixChild resolves the pointer at slot k of index sector from. The
// from sector stays write-locked in the cache across the
// read-check-write, which is what keeps two concurrent writers from
// allocating two different sectors for the same slot. Each level
// locks only its own index sector, so one stuck indirection does not
// block unrelated allocations.
func (st *Store) fixChild(from common.Snum, k uint64, alloc bool, pri uint8) (common.Snum, bool) {
	l := st.c.Lock(from, cache.PriMeta)
	var p [4]byte
	l.Read(p[:], k*4)
	s := machine.UInt32Get(p[:])
	if s == common.NullSnum {
		if !alloc {
			l.Unlock()
			return 0, false
		}
		ns, ok := st.fm.Allocate(1)
		if !ok {
			l.Unlock()
			return 0, false
		}
		st.c.Add(ns, pri)
		machine.UInt32Put(p[:], ns)
		l.Write(p[:], k*4)
		s = ns
	}
	l.Unlock()
	return s, true
}
