package inode

import (
	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-sectorfs/common"
)

// AllocInum claims a free inode table entry and returns its inumber.
// The scan is linear; the table is small and stays hot in the cache.
// Each entry's read-modify-write runs under that inumber's lock, so
// two allocators never claim the same entry. Returns false when the
// table is full.
func (st *Store) AllocInum() (common.Inum, bool) {
	for i := uint64(0); i < common.NumInodes; i++ {
		inum := common.Inum(i)
		st.locks.Acquire(i)
		di := st.readDisk(inum)
		if !di.InUse {
			di = DiskInode{InUse: true}
			st.writeDisk(inum, &di)
			st.locks.Release(i)
			util.DPrintf(5, "inode: allocated # %d\n", inum)
			return inum, true
		}
		st.locks.Release(i)
	}
	util.DPrintf(1, "inode: table full\n")
	return 0, false
}

// ReleaseInum zeroes inum's table entry, returning it to the free
// pool.
func (st *Store) ReleaseInum(inum common.Inum) {
	st.locks.Acquire(uint64(inum))
	di := DiskInode{}
	st.writeDisk(inum, &di)
	st.locks.Release(uint64(inum))
	util.DPrintf(5, "inode: released # %d\n", inum)
}
