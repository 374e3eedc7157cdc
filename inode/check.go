package inode

import (
	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/go-sectorfs/cache"
	"github.com/mit-pdos/go-sectorfs/common"
)

// ReadEntry reads inum's raw table entry; the consistency checker
// walks the table with it.
func (st *Store) ReadEntry(inum common.Inum) DiskInode {
	return st.readDisk(inum)
}

// WalkSectors calls visit for every sector reachable from di's index:
// data sectors and the index sectors themselves.
func (st *Store) WalkSectors(di *DiskInode, visit func(common.Snum)) {
	for i := uint64(0); i < sidIndex; i++ {
		if s := di.Blks[i]; s != common.NullSnum {
			visit(s)
		}
	}
	for i := sidIndex; i < didIndex; i++ {
		st.walkIndirect(di.Blks[i], 1, visit)
	}
	for i := didIndex; i < maxIndex; i++ {
		st.walkIndirect(di.Blks[i], 2, visit)
	}
}

func (st *Store) walkIndirect(s common.Snum, depth uint64, visit func(common.Snum)) {
	if s == common.NullSnum {
		return
	}
	visit(s)
	var p [4]byte
	for k := uint64(0); k < Fanout; k++ {
		st.c.Read(s, p[:], k*4, cache.PriMeta)
		child := machine.UInt32Get(p[:])
		if child == common.NullSnum {
			continue
		}
		if depth > 1 {
			st.walkIndirect(child, depth-1, visit)
		} else {
			visit(child)
		}
	}
}
