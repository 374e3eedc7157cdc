package inode

import (
	"github.com/goose-lang/std"
	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-sectorfs/cache"
	"github.com/mit-pdos/go-sectorfs/common"
)

// ReadAt reads up to len(dst) bytes at off, bounded by the inode's
// length, and returns the byte count. The length is re-read for every
// sector: a reader racing a writer at end-of-file either sees the new
// data or a short read, never bytes beyond the length it observed.
func (ip *Inode) ReadAt(dst []byte, off uint64) uint64 {
	n := uint64(len(dst))
	var read uint64 = 0
	for read < n {
		length := ip.Length()
		if off >= length {
			break
		}
		secOfs := off % common.SectorSize
		chunk := util.Min(n-read, common.SectorSize-secOfs)
		chunk = util.Min(chunk, length-off)
		s, ok := ip.bmap(off, false)
		if ok {
			ip.st.c.Read(s, dst[read:read+chunk], secOfs, cache.PriNormal)
		} else {
			// a hole reads as zeros
			for i := uint64(0); i < chunk; i++ {
				dst[read+i] = 0
			}
		}
		read += chunk
		off += chunk
	}
	if read > 0 {
		ip.readAhead(off)
	}
	return read
}

// readAhead hints the cache to prefetch the sector after the last one
// read, if it lies within the file.
func (ip *Inode) readAhead(off uint64) {
	next := off
	if off%common.SectorSize != 0 {
		next = off - off%common.SectorSize + common.SectorSize
	}
	if next >= ip.Length() {
		return
	}
	if s, ok := ip.bmap(next, false); ok {
		ip.st.c.FetchAsync(s)
	}
}

// WriteAt writes len(src) bytes at off, allocating sectors lazily,
// and returns the byte count. Short writes happen when the handle
// denies writes (0), the free map runs dry, or off reaches the
// double-indirect limit. The length is bumped only after each chunk
// lands in the cache, so concurrent readers never observe bytes past
// a length they have not seen covered by a completed write.
func (ip *Inode) WriteAt(src []byte, off uint64) uint64 {
	n := uint64(len(src))
	if !std.SumNoOverflow(off, n) {
		return 0
	}
	ip.dataMu.Lock()
	denied := ip.denyWriteCnt > 0
	ip.dataMu.Unlock()
	if denied {
		util.DPrintf(5, "inode: write denied # %d\n", ip.inum)
		return 0
	}
	var written uint64 = 0
	for written < n {
		if off >= MaxLen {
			util.DPrintf(1, "inode: # %d write past max size\n", ip.inum)
			break
		}
		secOfs := off % common.SectorSize
		chunk := util.Min(n-written, common.SectorSize-secOfs)
		s, ok := ip.bmap(off, true)
		if !ok {
			util.DPrintf(1, "inode: # %d short write at %d\n", ip.inum, off)
			break
		}
		ip.st.c.Write(s, src[written:written+chunk], secOfs, cache.PriNormal)
		ip.dataMu.Lock()
		if off+chunk > ip.dsk.Length {
			ip.dsk.Length = off + chunk
			ip.st.writeDisk(ip.inum, &ip.dsk)
		}
		ip.dataMu.Unlock()
		written += chunk
		off += chunk
	}
	return written
}

// DenyWrite blocks writes through every handle until a matching
// AllowWrite; used while an executable is mapped.
func (ip *Inode) DenyWrite() {
	ip.dataMu.Lock()
	ip.denyWriteCnt++
	ip.dataMu.Unlock()
}

func (ip *Inode) AllowWrite() {
	ip.dataMu.Lock()
	if ip.denyWriteCnt == 0 {
		panic("inode: AllowWrite without DenyWrite")
	}
	ip.denyWriteCnt--
	ip.dataMu.Unlock()
}
