// Package cache is a fixed-size write-back buffer cache of disk
// sectors.
//
// The cache has NumSlots slots, each guarded by a reader/writer lock.
// Sectors are looked up through two indexes: active holds sectors in
// use, closed holds sectors whose last user released them; closed
// entries still have valid contents but are the first eviction
// candidates. Eviction otherwise runs a clock over the slot array
// with a multi-level accessed counter, so sectors touched at a high
// priority (inode table, index sectors) survive several sweeps.
//
// Two background tasks run for the life of the cache: a flush loop
// that writes dirty slots and external extents back every FlushPeriod,
// and a prefetch loop that services best-effort read-ahead requests.
//
// The free-map bitmap is larger than a sector and pinned in memory by
// its owner; the external-extent calls let the flush loop write it
// back without it occupying slots.
package cache

import (
	"sync"
	"time"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-sectorfs/common"
	"github.com/mit-pdos/go-sectorfs/disk"
	"github.com/mit-pdos/go-sectorfs/rwlock"
)

const NumSlots uint64 = 64

// Access priorities. A hit stores the priority into the slot's
// accessed counter; the clock sweep decrements it.
const (
	PriInode  uint8 = 3
	PriMeta   uint8 = 2
	PriNormal uint8 = 1
)

const FlushPeriod = 30 * time.Second

// fetchQueueLen bounds the prefetch queue; requests beyond it are
// dropped, prefetch is best-effort.
const fetchQueueLen = 128

type slot struct {
	sector   common.Snum
	dirty    bool
	accessed uint8
	lk       *rwlock.RWLock
	data     []byte
}

type extent struct {
	start common.Snum
	data  []byte
	dirty bool
}

type Cache struct {
	mu     *sync.Mutex
	d      disk.Disk
	slots  []*slot
	active map[common.Snum]*slot
	closed map[common.Snum]*slot
	free   []*slot
	hand   uint64
	exts   map[common.Snum]*extent
	fetch  chan common.Snum
	stop   chan struct{}
	wg     sync.WaitGroup

	hits   uint64 // guarded by mu
	misses uint64
}

// MkCache starts the flush and prefetch loops; Shutdown stops them.
func MkCache(d disk.Disk) *Cache {
	c := &Cache{
		mu:     new(sync.Mutex),
		d:      d,
		active: make(map[common.Snum]*slot, NumSlots),
		closed: make(map[common.Snum]*slot, NumSlots),
		exts:   make(map[common.Snum]*extent),
		fetch:  make(chan common.Snum, fetchQueueLen),
		stop:   make(chan struct{}),
	}
	for i := uint64(0); i < NumSlots; i++ {
		s := &slot{
			lk:   rwlock.MkRWLock(),
			data: make([]byte, common.SectorSize),
		}
		c.slots = append(c.slots, s)
		c.free = append(c.free, s)
	}
	c.wg.Add(2)
	go c.flushLoop()
	go c.fetchLoop()
	return c
}

// lookupLocked finds sector in either index, reactivating a closed
// entry. Caller holds c.mu.
func (c *Cache) lookupLocked(sector common.Snum) *slot {
	s := c.active[sector]
	if s == nil {
		s = c.closed[sector]
		if s != nil {
			delete(c.closed, sector)
			c.active[sector] = s
		}
	}
	if s != nil {
		c.hits++
	} else {
		c.misses++
	}
	return s
}

// Stats reports the hit and miss counts since the cache was created.
func (c *Cache) Stats() (uint64, uint64) {
	c.mu.Lock()
	h, m := c.hits, c.misses
	c.mu.Unlock()
	return h, m
}

// evictLocked picks a victim slot and returns it with its writer lock
// held, removed from its index. Closed entries go first; otherwise
// the clock sweeps, skipping slots whose lock cannot be had without
// blocking and decrementing hot slots' accessed counters. Caller
// holds c.mu and has found the free list empty.
func (c *Cache) evictLocked() *slot {
	for sec, s := range c.closed {
		if s.lk.TryAcquire() {
			delete(c.closed, sec)
			return s
		}
	}
	for {
		c.hand = (c.hand + 1) % NumSlots
		s := c.slots[c.hand]
		if !s.lk.TryAcquire() {
			continue
		}
		if s.accessed > 0 {
			s.accessed--
			s.lk.Release()
			continue
		}
		if c.active[s.sector] == s {
			delete(c.active, s.sector)
		} else {
			delete(c.closed, s.sector)
		}
		return s
	}
}

// missLocked assigns a slot to sector and returns it with the writer
// lock held and the slot inserted into active. Called with c.mu held;
// returns with c.mu released. A dirty victim is written back after
// c.mu is dropped, under only the slot's writer lock. When load is
// set the sector is read from the device; otherwise the slot is
// zeroed and marked dirty (a freshly allocated sector has no disk
// state worth reading).
func (c *Cache) missLocked(sector common.Snum, pri uint8, load bool) *slot {
	var s *slot
	var writeBack bool
	var old common.Snum
	if n := len(c.free); n > 0 {
		s = c.free[n-1]
		c.free = c.free[:n-1]
		s.lk.Acquire()
	} else {
		s = c.evictLocked()
		if s.dirty {
			writeBack = true
			old = s.sector
		}
	}
	s.sector = sector
	s.accessed = pri
	c.active[sector] = s
	c.mu.Unlock()
	if writeBack {
		c.d.Write(uint64(old), s.data)
	}
	if load {
		s.dirty = false
		c.d.ReadTo(uint64(sector), s.data)
	} else {
		s.dirty = true
		for i := range s.data {
			s.data[i] = 0
		}
	}
	return s
}

// acquire returns sector's slot with the writer lock held, filling it
// on a miss. The hit path drops c.mu before blocking on the slot lock
// and revalidates afterwards, since the slot may have been evicted
// and reused in between.
func (c *Cache) acquire(sector common.Snum, pri uint8, load bool) *slot {
	for {
		c.mu.Lock()
		s := c.lookupLocked(sector)
		if s == nil {
			return c.missLocked(sector, pri, load)
		}
		s.accessed = pri
		c.mu.Unlock()
		s.lk.Acquire()
		if s.sector == sector {
			return s
		}
		s.lk.Release()
	}
}

// Read copies len(dst) bytes at ofs within sector into dst, reading
// the sector from the device on a miss.
func (c *Cache) Read(sector common.Snum, dst []byte, ofs uint64, pri uint8) {
	if ofs+uint64(len(dst)) > common.SectorSize {
		panic("cache: Read beyond sector")
	}
	for {
		c.mu.Lock()
		s := c.lookupLocked(sector)
		if s == nil {
			s = c.missLocked(sector, pri, true)
			s.lk.Demote()
			copy(dst, s.data[ofs:ofs+uint64(len(dst))])
			s.lk.RRelease()
			return
		}
		s.accessed = pri
		c.mu.Unlock()
		s.lk.RAcquire()
		if s.sector == sector {
			copy(dst, s.data[ofs:ofs+uint64(len(dst))])
			s.lk.RRelease()
			return
		}
		s.lk.RRelease()
	}
}

// Write copies len(src) bytes from src into sector at ofs and marks
// the slot dirty.
func (c *Cache) Write(sector common.Snum, src []byte, ofs uint64, pri uint8) {
	if ofs+uint64(len(src)) > common.SectorSize {
		panic("cache: Write beyond sector")
	}
	s := c.acquire(sector, pri, true)
	s.dirty = true
	copy(s.data[ofs:], src)
	s.lk.Release()
}

// Add materializes a zeroed, dirty slot for sector without reading
// the device. Used when a new sector is allocated to a file.
func (c *Cache) Add(sector common.Snum, pri uint8) {
	s := c.acquire(sector, pri, false)
	s.dirty = true
	for i := range s.data {
		s.data[i] = 0
	}
	s.lk.Release()
}

// Locked is a pinned, writer-locked sector. While held the sector
// cannot be evicted and the holder's reads and writes are atomic with
// respect to every other cache user.
type Locked struct {
	c *Cache
	s *slot
}

// Lock pins sector and takes its writer lock. The caller must Unlock
// within a bounded time; the flush loop waits on slot locks.
func (c *Cache) Lock(sector common.Snum, pri uint8) *Locked {
	s := c.acquire(sector, pri, true)
	return &Locked{c: c, s: s}
}

func (l *Locked) Read(dst []byte, ofs uint64) {
	if ofs+uint64(len(dst)) > common.SectorSize {
		panic("cache: locked read beyond sector")
	}
	copy(dst, l.s.data[ofs:ofs+uint64(len(dst))])
}

func (l *Locked) Write(src []byte, ofs uint64) {
	if ofs+uint64(len(src)) > common.SectorSize {
		panic("cache: locked write beyond sector")
	}
	l.s.dirty = true
	copy(l.s.data[ofs:], src)
}

func (l *Locked) Unlock() {
	l.s.lk.Release()
	l.s = nil
}

// Close marks sector cold: its contents stay valid but it becomes a
// preferred eviction candidate.
func (c *Cache) Close(sector common.Snum) {
	c.retire(sector, false)
}

// Remove is Close plus dropping the dirty flag, so a freed sector is
// never written back.
func (c *Cache) Remove(sector common.Snum) {
	c.retire(sector, true)
}

func (c *Cache) retire(sector common.Snum, drop bool) {
	c.mu.Lock()
	s := c.active[sector]
	if s != nil {
		delete(c.active, sector)
		c.closed[sector] = s
		if drop {
			s.dirty = false
		}
	} else if drop {
		if s := c.closed[sector]; s != nil {
			s.dirty = false
		}
	}
	c.mu.Unlock()
}

// FetchAsync enqueues a best-effort prefetch of sector. The request
// is silently dropped if the queue is full.
func (c *Cache) FetchAsync(sector common.Snum) {
	select {
	case c.fetch <- sector:
	default:
		util.DPrintf(10, "FetchAsync: dropped prefetch of %d\n", sector)
	}
}

// prefetch runs the normal miss path for sector and immediately
// releases the lock, leaving the sector hot in the cache.
func (c *Cache) prefetch(sector common.Snum) {
	for {
		c.mu.Lock()
		s := c.lookupLocked(sector)
		if s == nil {
			s = c.missLocked(sector, PriNormal, true)
			s.lk.Demote()
			s.lk.RRelease()
			return
		}
		c.mu.Unlock()
		s.lk.RAcquire()
		ok := s.sector == sector
		s.lk.RRelease()
		if ok {
			return
		}
	}
}

func (c *Cache) fetchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case sector := <-c.fetch:
			c.prefetch(sector)
		}
	}
}

func (c *Cache) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case <-time.After(FlushPeriod):
			c.Flush()
		}
	}
}

// Flush writes every dirty slot and external extent to the device and
// issues a barrier. Slots are written under their reader lock, which
// is enough to hold off eviction and writers.
func (c *Cache) Flush() {
	for _, s := range c.slots {
		s.lk.RAcquire()
		if s.dirty {
			c.d.Write(uint64(s.sector), s.data)
			s.dirty = false
		}
		s.lk.RRelease()
	}
	var dirtyExts []*extent
	c.mu.Lock()
	for _, e := range c.exts {
		if e.dirty {
			e.dirty = false
			dirtyExts = append(dirtyExts, e)
		}
	}
	c.mu.Unlock()
	for _, e := range dirtyExts {
		c.writeExtent(e)
	}
	c.d.Barrier()
}

// Shutdown stops the background loops and flushes once more,
// synchronously.
func (c *Cache) Shutdown() {
	close(c.stop)
	c.wg.Wait()
	c.Flush()
}

func (c *Cache) writeExtent(e *extent) {
	nsec := uint64(len(e.data)) / common.SectorSize
	for i := uint64(0); i < nsec; i++ {
		c.d.Write(uint64(e.start)+i, e.data[i*common.SectorSize:(i+1)*common.SectorSize])
	}
}

// ReadExternal registers buf as a pinned extent starting at sector
// start and fills it from the device. The extent is written back by
// the flush loop but never occupies cache slots.
func (c *Cache) ReadExternal(start common.Snum, buf []byte) {
	if uint64(len(buf))%common.SectorSize != 0 {
		panic("cache: external extent not sector-aligned")
	}
	nsec := uint64(len(buf)) / common.SectorSize
	for i := uint64(0); i < nsec; i++ {
		c.d.ReadTo(uint64(start)+i, buf[i*common.SectorSize:(i+1)*common.SectorSize])
	}
	c.mu.Lock()
	c.exts[start] = &extent{start: start, data: buf, dirty: false}
	c.mu.Unlock()
}

// AddExternal registers buf as a pinned extent without reading the
// device, marked dirty; the format path uses it for the brand-new
// free map.
func (c *Cache) AddExternal(start common.Snum, buf []byte) {
	if uint64(len(buf))%common.SectorSize != 0 {
		panic("cache: external extent not sector-aligned")
	}
	c.mu.Lock()
	c.exts[start] = &extent{start: start, data: buf, dirty: true}
	c.mu.Unlock()
}

// DirtyExternal marks the extent at start for write-back on the next
// flush.
func (c *Cache) DirtyExternal(start common.Snum) {
	c.mu.Lock()
	e := c.exts[start]
	if e == nil {
		c.mu.Unlock()
		panic("cache: DirtyExternal on unregistered extent")
	}
	e.dirty = true
	c.mu.Unlock()
}

// FreeExternal unregisters the extent at start. The owner is
// responsible for any final flush before freeing.
func (c *Cache) FreeExternal(start common.Snum) {
	c.mu.Lock()
	delete(c.exts, start)
	c.mu.Unlock()
}
