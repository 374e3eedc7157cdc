// Package disk provides sector-granularity access to a block device.
//
// The interface follows goose's machine/disk, but at a 512-byte
// sector size: the file-system's on-disk format (inode packing,
// 128-entry index sectors) is defined in terms of 512-byte sectors,
// while goose fixes its block size at 4096.
package disk

import (
	"sync"

	"github.com/goose-lang/std"

	"github.com/mit-pdos/go-sectorfs/common"
)

const SectorSize uint64 = common.SectorSize

// Block is the contents of one sector.
type Block = []byte

// Disk is a logical sector-addressed device. Addresses must be below
// Size(); out-of-bounds access and short devices are programming
// errors and panic.
type Disk interface {
	// ReadTo reads sector a into b.
	ReadTo(a uint64, b Block)

	// Read reads sector a into a fresh buffer.
	Read(a uint64) Block

	// Write updates sector a.
	Write(a uint64, b Block)

	// Size reports how big the disk is, in sectors.
	Size() uint64

	// Barrier ensures all outstanding writes are durable.
	Barrier()

	// Close releases the disk's resources.
	Close()
}

// MemDisk is an in-memory disk, for tests.
type MemDisk struct {
	mu *sync.Mutex
	d  []byte
	sz uint64
}

var _ Disk = &MemDisk{}

func NewMemDisk(sz uint64) *MemDisk {
	return &MemDisk{
		mu: new(sync.Mutex),
		d:  make([]byte, sz*SectorSize),
		sz: sz,
	}
}

func (d *MemDisk) ReadTo(a uint64, b Block) {
	if a >= d.sz {
		panic("disk: read past end of disk")
	}
	if uint64(len(b)) != SectorSize {
		panic("disk: read into non-sector-sized buffer")
	}
	d.mu.Lock()
	copy(b, d.d[a*SectorSize:(a+1)*SectorSize])
	d.mu.Unlock()
}

func (d *MemDisk) Read(a uint64) Block {
	if a >= d.sz {
		panic("disk: read past end of disk")
	}
	d.mu.Lock()
	b := std.BytesClone(d.d[a*SectorSize : (a+1)*SectorSize])
	d.mu.Unlock()
	return b
}

func (d *MemDisk) Write(a uint64, b Block) {
	if a >= d.sz {
		panic("disk: write past end of disk")
	}
	if uint64(len(b)) != SectorSize {
		panic("disk: write of non-sector-sized buffer")
	}
	d.mu.Lock()
	copy(d.d[a*SectorSize:], b)
	d.mu.Unlock()
}

func (d *MemDisk) Size() uint64 {
	return d.sz
}

func (d *MemDisk) Barrier() {}

func (d *MemDisk) Close() {}
