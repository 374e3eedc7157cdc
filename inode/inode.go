// Package inode implements the on-disk inode table and the in-memory
// open-inode registry.
//
// An on-disk inode is a fixed 64-byte record with five direct block
// pointers, two single-indirect pointers, and one double-indirect
// pointer; sectors are allocated lazily on first write. The registry
// deduplicates open handles: there is at most one Inode per inumber
// in memory, reference counted by Open/Reopen/Put.
package inode

import (
	"sync"

	"github.com/mit-pdos/go-journal/lockmap"
	"github.com/mit-pdos/go-journal/util"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-sectorfs/cache"
	"github.com/mit-pdos/go-sectorfs/common"
	"github.com/mit-pdos/go-sectorfs/dcache"
	"github.com/mit-pdos/go-sectorfs/freemap"
)

const (
	NumDirect uint64 = 5
	sidIndex  uint64 = 5
	didIndex  uint64 = 7
	maxIndex  uint64 = 8

	// Fanout is the number of sector pointers in one index sector.
	Fanout uint64 = common.SectorSize / 4

	// Block-index limits of the three tiers, in sectors.
	DirectLimit uint64 = NumDirect
	SidLimit    uint64 = DirectLimit + (didIndex-sidIndex)*Fanout
	DidLimit    uint64 = SidLimit + (maxIndex-didIndex)*Fanout*Fanout

	// MaxLen is the largest representable file, 8,522,240 bytes
	// (about 8.1 MiB).
	MaxLen uint64 = DidLimit * common.SectorSize
)

// DiskInode is the on-disk form, encoded into common.InodeSize bytes.
type DiskInode struct {
	InUse  bool
	IsDir  bool
	Length uint64
	Blks   [maxIndex]common.Snum
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (di *DiskInode) encode() []byte {
	enc := marshal.NewEnc(common.InodeSize)
	enc.PutInt32(boolToU32(di.InUse))
	enc.PutInt32(boolToU32(di.IsDir))
	enc.PutInt32(uint32(di.Length))
	for _, b := range di.Blks {
		enc.PutInt32(b)
	}
	return enc.Finish()
}

func decode(d []byte) DiskInode {
	dec := marshal.NewDec(d)
	var di DiskInode
	di.InUse = dec.GetInt32() != 0
	di.IsDir = dec.GetInt32() != 0
	di.Length = uint64(dec.GetInt32())
	for i := range di.Blks {
		di.Blks[i] = dec.GetInt32()
	}
	return di
}

// inumAddr locates inum's record within the inode table.
func inumAddr(inum common.Inum) (common.Snum, uint64) {
	sector := common.Snum(uint64(inum) / common.InodesPerSector)
	ofs := (uint64(inum) % common.InodesPerSector) * common.InodeSize
	return sector, ofs
}

// Store owns the inode table and the open-inode registry.
type Store struct {
	c     *cache.Cache
	fm    *freemap.FreeMap
	locks *lockmap.LockMap // per-inumber table-entry locks
	mu    *sync.Mutex      // guards open and every Inode's openCnt/removed
	open  map[common.Inum]*Inode
}

func MkStore(c *cache.Cache, fm *freemap.FreeMap) *Store {
	return &Store{
		c:     c,
		fm:    fm,
		locks: lockmap.MkLockMap(),
		mu:    new(sync.Mutex),
		open:  make(map[common.Inum]*Inode),
	}
}

func (st *Store) readDisk(inum common.Inum) DiskInode {
	sector, ofs := inumAddr(inum)
	buf := make([]byte, common.InodeSize)
	st.c.Read(sector, buf, ofs, cache.PriInode)
	return decode(buf)
}

func (st *Store) writeDisk(inum common.Inum, di *DiskInode) {
	sector, ofs := inumAddr(inum)
	st.c.Write(sector, di.encode(), ofs, cache.PriInode)
}

// Init writes a fresh on-disk inode for inum: in use, no sectors.
// The length is a promise, not an allocation; sectors appear on first
// write.
func (st *Store) Init(inum common.Inum, length uint64, isDir bool) {
	di := DiskInode{InUse: true, IsDir: isDir, Length: length}
	st.writeDisk(inum, &di)
	util.DPrintf(5, "inode: init # %d len %d dir %v\n", inum, length, isDir)
}

// Inode is an open inode. There is one per inumber system-wide.
type Inode struct {
	st      *Store
	inum    common.Inum
	openCnt uint64
	removed bool

	dirMu *sync.Mutex // serializes directory operations on this inode

	// Dcache is the directory name cache, nil until the first
	// lookup. Guarded by dirMu.
	Dcache *dcache.Dcache

	dataMu       *sync.Mutex // guards dsk and denyWriteCnt
	denyWriteCnt uint64
	dsk          DiskInode
}

// Open returns the handle for inum, reusing the existing one if the
// inode is already open. Returns nil if the table entry is free.
func (st *Store) Open(inum common.Inum) *Inode {
	st.mu.Lock()
	ip := st.open[inum]
	if ip != nil {
		ip.openCnt++
		st.mu.Unlock()
		return ip
	}
	st.mu.Unlock()

	di := st.readDisk(inum)

	st.mu.Lock()
	ip = st.open[inum]
	if ip != nil {
		// lost the race with another opener
		ip.openCnt++
		st.mu.Unlock()
		return ip
	}
	if !di.InUse {
		st.mu.Unlock()
		return nil
	}
	ip = &Inode{
		st:      st,
		inum:    inum,
		openCnt: 1,
		dirMu:   new(sync.Mutex),
		dataMu:  new(sync.Mutex),
		dsk:     di,
	}
	st.open[inum] = ip
	st.mu.Unlock()
	util.DPrintf(5, "inode: open # %d\n", inum)
	return ip
}

// Reopen takes another reference on an already-open inode.
func (ip *Inode) Reopen() *Inode {
	ip.st.mu.Lock()
	ip.openCnt++
	ip.st.mu.Unlock()
	return ip
}

// Put drops one reference. When the last reference to a removed
// inode drops, its data sectors, index sectors, and table entry are
// released, in that order.
func (ip *Inode) Put() {
	st := ip.st
	st.mu.Lock()
	if ip.openCnt == 0 {
		panic("inode: Put without reference")
	}
	ip.openCnt--
	if ip.openCnt > 0 {
		st.mu.Unlock()
		return
	}
	delete(st.open, ip.inum)
	removed := ip.removed
	st.mu.Unlock()
	if removed {
		util.DPrintf(5, "inode: releasing removed # %d\n", ip.inum)
		ip.releaseSectors()
		st.ReleaseInum(ip.inum)
	}
}

// Remove marks the inode for deletion when its last reference drops.
func (ip *Inode) Remove() {
	ip.st.mu.Lock()
	ip.removed = true
	ip.st.mu.Unlock()
}

func (ip *Inode) Removed() bool {
	ip.st.mu.Lock()
	r := ip.removed
	ip.st.mu.Unlock()
	return r
}

func (ip *Inode) Inum() common.Inum {
	return ip.inum
}

// IsDir never changes over an inode's on-disk lifetime, so it needs
// no lock.
func (ip *Inode) IsDir() bool {
	return ip.dsk.IsDir
}

func (ip *Inode) Length() uint64 {
	ip.dataMu.Lock()
	n := ip.dsk.Length
	ip.dataMu.Unlock()
	return n
}

func (ip *Inode) Store() *Store {
	return ip.st
}

// LockDir and UnlockDir bracket directory operations on this inode.
// Exported directory operations take the lock and call their
// *Locked internals, so nested lookups need no reentrancy.
func (ip *Inode) LockDir() {
	ip.dirMu.Lock()
}

func (ip *Inode) UnlockDir() {
	ip.dirMu.Unlock()
}
