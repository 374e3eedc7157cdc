package freemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-sectorfs/cache"
	"github.com/mit-pdos/go-sectorfs/common"
	"github.com/mit-pdos/go-sectorfs/disk"
)

const diskSz uint64 = 4096

func mkFreeMap() (*FreeMap, *cache.Cache, *disk.MemDisk) {
	d := disk.NewMemDisk(diskSz)
	c := cache.MkCache(d)
	fm := MkFreeMap(c, diskSz)
	fm.Create()
	return fm, c, d
}

func TestReservedRegion(t *testing.T) {
	fm, c, _ := mkFreeMap()
	defer c.Shutdown()

	assert.Equal(t, common.InodeTableSectors+NumSectors(diskSz), fm.NumReserved())
	assert.Equal(t, fm.NumReserved(), fm.NumUsed())

	s, ok := fm.Allocate(1)
	require.True(t, ok)
	assert.GreaterOrEqual(t, uint64(s), fm.NumReserved())
}

func TestAllocateRun(t *testing.T) {
	fm, c, _ := mkFreeMap()
	defer c.Shutdown()

	s, ok := fm.Allocate(8)
	require.True(t, ok)
	s2, ok := fm.Allocate(1)
	require.True(t, ok)
	assert.Equal(t, uint64(s)+8, uint64(s2))

	// release the run; the hole is reused first-fit
	fm.Release(s, 8)
	s3, ok := fm.Allocate(4)
	require.True(t, ok)
	assert.Equal(t, s, s3)
}

func TestReleaseAccounting(t *testing.T) {
	fm, c, _ := mkFreeMap()
	defer c.Shutdown()

	base := fm.NumUsed()
	s, ok := fm.Allocate(16)
	require.True(t, ok)
	assert.Equal(t, base+16, fm.NumUsed())
	fm.Release(s, 16)
	assert.Equal(t, base, fm.NumUsed())
}

func TestReleaseFreePanics(t *testing.T) {
	fm, c, _ := mkFreeMap()
	defer c.Shutdown()

	s, ok := fm.Allocate(1)
	require.True(t, ok)
	fm.Release(s, 1)
	require.Panics(t, func() { fm.Release(s, 1) })
}

func TestExhaustion(t *testing.T) {
	fm, c, _ := mkFreeMap()
	defer c.Shutdown()

	free := diskSz - fm.NumUsed()
	s, ok := fm.Allocate(free)
	require.True(t, ok)
	_, ok = fm.Allocate(1)
	assert.False(t, ok)
	fm.Release(s, free)
	_, ok = fm.Allocate(1)
	assert.True(t, ok)
}

func TestPersistsThroughFlush(t *testing.T) {
	fm, c, d := mkFreeMap()

	s, ok := fm.Allocate(3)
	require.True(t, ok)
	c.Flush()
	fm.Close()
	c.Shutdown()

	// remount and observe the same map
	c2 := cache.MkCache(d)
	defer c2.Shutdown()
	fm2 := MkFreeMap(c2, diskSz)
	fm2.Open()
	assert.Equal(t, fm.NumReserved()+3, fm2.NumUsed())
	fm2.Release(s, 3)
	assert.Equal(t, fm.NumReserved(), fm2.NumUsed())
}
