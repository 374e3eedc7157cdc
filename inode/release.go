package inode

import (
	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/go-sectorfs/cache"
	"github.com/mit-pdos/go-sectorfs/common"
)

// releaseSectors returns every sector reachable from the inode to the
// free map: data sectors first, then index sectors. Runs only from
// the final Put of a removed inode, so no locks are needed on the
// index structure.
func (ip *Inode) releaseSectors() {
	st := ip.st
	for i := uint64(0); i < sidIndex; i++ {
		releaseData(st, ip.dsk.Blks[i])
	}
	for i := sidIndex; i < didIndex; i++ {
		releaseIndirect(st, ip.dsk.Blks[i], 1)
	}
	for i := didIndex; i < maxIndex; i++ {
		releaseIndirect(st, ip.dsk.Blks[i], 2)
	}
}

func releaseData(st *Store, s common.Snum) {
	if s == common.NullSnum {
		return
	}
	st.c.Remove(s)
	st.fm.Release(s, 1)
}

func releaseIndirect(st *Store, s common.Snum, depth uint64) {
	if s == common.NullSnum {
		return
	}
	var p [4]byte
	for k := uint64(0); k < Fanout; k++ {
		st.c.Read(s, p[:], k*4, cache.PriMeta)
		child := machine.UInt32Get(p[:])
		if depth > 1 {
			releaseIndirect(st, child, depth-1)
		} else {
			releaseData(st, child)
		}
	}
	releaseData(st, s)
}
