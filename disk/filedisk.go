package disk

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDisk is a disk backed by a file image, one 512-byte sector per
// file offset range. Barrier issues an fdatasync.
type FileDisk struct {
	f  *os.File
	sz uint64
}

var _ Disk = FileDisk{}

func NewFileDisk(path string, sz uint64) (FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return FileDisk{}, err
	}
	if err := f.Truncate(int64(sz * SectorSize)); err != nil {
		f.Close()
		return FileDisk{}, err
	}
	return FileDisk{f: f, sz: sz}, nil
}

func (d FileDisk) ReadTo(a uint64, b Block) {
	if a >= d.sz {
		panic("disk: read past end of disk")
	}
	if uint64(len(b)) != SectorSize {
		panic("disk: read into non-sector-sized buffer")
	}
	_, err := d.f.ReadAt(b, int64(a*SectorSize))
	if err != nil {
		panic(fmt.Errorf("disk: read sector %d: %v", a, err))
	}
}

func (d FileDisk) Read(a uint64) Block {
	b := make(Block, SectorSize)
	d.ReadTo(a, b)
	return b
}

func (d FileDisk) Write(a uint64, b Block) {
	if a >= d.sz {
		panic("disk: write past end of disk")
	}
	if uint64(len(b)) != SectorSize {
		panic("disk: write of non-sector-sized buffer")
	}
	_, err := d.f.WriteAt(b, int64(a*SectorSize))
	if err != nil {
		panic(fmt.Errorf("disk: write sector %d: %v", a, err))
	}
}

func (d FileDisk) Size() uint64 {
	return d.sz
}

func (d FileDisk) Barrier() {
	if err := unix.Fdatasync(int(d.f.Fd())); err != nil {
		panic(fmt.Errorf("disk: fdatasync: %v", err))
	}
}

func (d FileDisk) Close() {
	if err := d.f.Close(); err != nil {
		panic(err)
	}
}
