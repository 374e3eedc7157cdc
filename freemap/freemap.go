// Package freemap tracks free sectors with a bitmap, one bit per
// device sector.
//
// The bitmap itself lives in the contiguous extent right after the
// inode table and is pinned in memory through the cache's external-
// extent interface: mutations mark the extent dirty and the cache's
// flush loop writes it back.
package freemap

import (
	"sync"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-sectorfs/cache"
	"github.com/mit-pdos/go-sectorfs/common"
)

type FreeMap struct {
	mu    *sync.Mutex
	c     *cache.Cache
	bits  []byte // backing store for the on-disk extent; bit i covers sector i
	nbits uint64
	start common.Snum
	nres  uint64 // sectors reserved for the inode table and the map itself
}

// NumSectors reports the size of the bitmap extent for a device of
// nsectors sectors.
func NumSectors(nsectors uint64) uint64 {
	return util.RoundUp(util.RoundUp(nsectors, 8), common.SectorSize)
}

func MkFreeMap(c *cache.Cache, nsectors uint64) *FreeMap {
	fsec := NumSectors(nsectors)
	return &FreeMap{
		mu:    new(sync.Mutex),
		c:     c,
		bits:  make([]byte, fsec*common.SectorSize),
		nbits: nsectors,
		start: common.Snum(common.InodeTableSectors),
		nres:  common.InodeTableSectors + fsec,
	}
}

func bitGet(bits []byte, i uint64) bool {
	return bits[i/8]&(1<<(i%8)) != 0
}

func bitSet(bits []byte, i uint64) {
	bits[i/8] = bits[i/8] | (1 << (i % 8))
}

func bitClear(bits []byte, i uint64) {
	bits[i/8] = bits[i/8] & ^byte(1<<(i%8))
}

// Create initializes a fresh map during format: the extent is
// registered zeroed and the reserved region is marked used.
func (fm *FreeMap) Create() {
	fm.c.AddExternal(fm.start, fm.bits)
	fm.mu.Lock()
	for i := uint64(0); i < fm.nres; i++ {
		bitSet(fm.bits, i)
	}
	fm.mu.Unlock()
	fm.c.DirtyExternal(fm.start)
	util.DPrintf(1, "freemap: created, %d sectors reserved\n", fm.nres)
}

// Open loads the map from the device during mount.
func (fm *FreeMap) Open() {
	fm.c.ReadExternal(fm.start, fm.bits)
}

// Close unregisters the extent. The caller flushes the cache first;
// the safe shutdown order is flush cache, close free map, destroy
// cache.
func (fm *FreeMap) Close() {
	fm.c.FreeExternal(fm.start)
}

// Allocate finds cnt consecutive free sectors, marks them used, and
// returns the first. Returns false when no run is free.
func (fm *FreeMap) Allocate(cnt uint64) (common.Snum, bool) {
	if cnt == 0 {
		panic("freemap: Allocate of zero sectors")
	}
	fm.mu.Lock()
	var run uint64 = 0
	for i := uint64(0); i < fm.nbits; i++ {
		if bitGet(fm.bits, i) {
			run = 0
			continue
		}
		run++
		if run == cnt {
			first := i - cnt + 1
			for j := first; j <= i; j++ {
				bitSet(fm.bits, j)
			}
			fm.mu.Unlock()
			fm.c.DirtyExternal(fm.start)
			util.DPrintf(10, "freemap: allocated %d sectors at %d\n", cnt, first)
			return common.Snum(first), true
		}
	}
	fm.mu.Unlock()
	util.DPrintf(1, "freemap: no run of %d free sectors\n", cnt)
	return 0, false
}

// Release returns cnt sectors starting at start to the map. Releasing
// a sector that is not marked used is a corruption bug and panics.
func (fm *FreeMap) Release(start common.Snum, cnt uint64) {
	fm.mu.Lock()
	for i := uint64(start); i < uint64(start)+cnt; i++ {
		if !bitGet(fm.bits, i) {
			panic("freemap: Release of free sector")
		}
		bitClear(fm.bits, i)
	}
	fm.mu.Unlock()
	fm.c.DirtyExternal(fm.start)
}

// IsUsed reports whether sector s is marked used.
func (fm *FreeMap) IsUsed(s common.Snum) bool {
	fm.mu.Lock()
	used := bitGet(fm.bits, uint64(s))
	fm.mu.Unlock()
	return used
}

// NumUsed counts used sectors, reserved region included.
func (fm *FreeMap) NumUsed() uint64 {
	fm.mu.Lock()
	var n uint64 = 0
	for i := uint64(0); i < fm.nbits; i++ {
		if bitGet(fm.bits, i) {
			n++
		}
	}
	fm.mu.Unlock()
	return n
}

// NumReserved reports the sectors set aside for the inode table and
// the map itself.
func (fm *FreeMap) NumReserved() uint64 {
	return fm.nres
}
