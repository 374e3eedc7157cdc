package fs

import (
	"fmt"

	"github.com/mit-pdos/go-sectorfs/common"
)

// Check verifies storage accounting across the inode table and the
// free map:
//
//   - every sector reachable from an in-use inode is marked used,
//   - no sector is reachable from two places,
//   - every used sector beyond the reserved region is reachable.
//
// Returns nil on a consistent file system. Run on a quiescent mount.
func (fs *Filesys) Check() error {
	owner := make(map[common.Snum]common.Inum)
	var badInum common.Inum
	var badSector common.Snum
	var dup bool
	var unmarked bool
	for i := uint64(0); i < common.NumInodes; i++ {
		inum := common.Inum(i)
		di := fs.st.ReadEntry(inum)
		if !di.InUse {
			continue
		}
		fs.st.WalkSectors(&di, func(s common.Snum) {
			if prev, ok := owner[s]; ok {
				if !dup && !unmarked {
					badInum, badSector, dup = prev, s, true
				}
				return
			}
			owner[s] = inum
			if !fs.fm.IsUsed(s) {
				if !dup && !unmarked {
					badInum, badSector, unmarked = inum, s, true
				}
			}
		})
	}
	if dup {
		return fmt.Errorf("fs: sector %d reachable twice, first from inode %d",
			badSector, badInum)
	}
	if unmarked {
		return fmt.Errorf("fs: sector %d of inode %d free in the free map",
			badSector, badInum)
	}
	reserved := fs.fm.NumReserved()
	for s := reserved; s < fs.d.Size(); s++ {
		sec := common.Snum(s)
		if fs.fm.IsUsed(sec) {
			if _, ok := owner[sec]; !ok {
				return fmt.Errorf("fs: sector %d used but unreachable", sec)
			}
		}
	}
	return nil
}
