package disk

import (
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkData(b byte) Block {
	data := make(Block, SectorSize)
	for i := range data {
		data[i] = b
	}
	return data
}

func TestMemDiskReadWrite(t *testing.T) {
	d := NewMemDisk(100)
	assert.Equal(t, uint64(100), d.Size())
	assert.Equal(t, make(Block, SectorSize), d.Read(0))

	d.Write(7, mkData(0x42))
	assert.Equal(t, mkData(0x42), d.Read(7))

	buf := make(Block, SectorSize)
	d.ReadTo(7, buf)
	assert.Equal(t, mkData(0x42), buf)

	// Read returns a copy, not the backing store
	b := d.Read(7)
	b[0] = 0
	assert.Equal(t, byte(0x42), d.Read(7)[0])
}

func TestMemDiskBounds(t *testing.T) {
	d := NewMemDisk(10)
	require.Panics(t, func() { d.Read(10) })
	require.Panics(t, func() { d.Write(10, mkData(0)) })
	require.Panics(t, func() { d.Write(0, make(Block, 100)) })
}

func TestFileDiskPersists(t *testing.T) {
	tmpdir := "/dev/shm"
	if fi, err := os.Stat(tmpdir); !(err == nil && fi.IsDir()) {
		tmpdir = os.TempDir()
	}
	name := filepath.Join(tmpdir,
		"sectorfsdisk"+strconv.FormatUint(rand.Uint64(), 16)+".img")
	defer os.Remove(name)

	d, err := NewFileDisk(name, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), d.Size())
	d.Write(3, mkData(0x17))
	d.Barrier()
	d.Close()

	d2, err := NewFileDisk(name, 50)
	require.NoError(t, err)
	assert.Equal(t, mkData(0x17), d2.Read(3))
	d2.Close()
}
