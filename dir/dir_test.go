package dir

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-sectorfs/cache"
	"github.com/mit-pdos/go-sectorfs/common"
	"github.com/mit-pdos/go-sectorfs/disk"
	"github.com/mit-pdos/go-sectorfs/freemap"
	"github.com/mit-pdos/go-sectorfs/inode"
)

const diskSz uint64 = 4096

func mkRoot(t *testing.T) (*Dir, *inode.Store, *cache.Cache) {
	d := disk.NewMemDisk(diskSz)
	c := cache.MkCache(d)
	fm := freemap.MkFreeMap(c, diskSz)
	fm.Create()
	st := inode.MkStore(c, fm)
	require.True(t, MkRoot(st))
	root := OpenRoot(st)
	require.NotNil(t, root)
	return root, st, c
}

func mkFileInum(t *testing.T, st *inode.Store) common.Inum {
	inum, ok := st.AllocInum()
	require.True(t, ok)
	st.Init(inum, 0, false)
	return inum
}

func TestRootHasDotEntries(t *testing.T) {
	root, _, c := mkRoot(t)
	defer c.Shutdown()

	for _, name := range []string{".", ".."} {
		ip := root.Lookup(name)
		require.NotNil(t, ip)
		assert.Equal(t, common.RootInum, ip.Inum())
		ip.Put()
	}
	root.Close()
}

func TestAddLookup(t *testing.T) {
	root, st, c := mkRoot(t)
	defer c.Shutdown()

	inum := mkFileInum(t, st)
	require.True(t, root.Add("a", inum))
	ip := root.Lookup("a")
	require.NotNil(t, ip)
	assert.Equal(t, inum, ip.Inum())
	ip.Put()

	assert.Nil(t, root.Lookup("b"))
	root.Close()
}

func TestAddDuplicate(t *testing.T) {
	root, st, c := mkRoot(t)
	defer c.Shutdown()

	inum := mkFileInum(t, st)
	require.True(t, root.Add("a", inum))
	assert.False(t, root.Add("a", inum))
	root.Close()
}

func TestNameValidation(t *testing.T) {
	root, st, c := mkRoot(t)
	defer c.Shutdown()

	inum := mkFileInum(t, st)
	assert.False(t, root.Add("", inum))
	assert.False(t, root.Add("a/b", inum))
	assert.False(t, root.Add("aaaaaaaaaaaaaaa", inum)) // 15 bytes
	assert.True(t, root.Add("aaaaaaaaaaaaaa", inum))   // 14 bytes
	root.Close()
}

func TestRemove(t *testing.T) {
	root, st, c := mkRoot(t)
	defer c.Shutdown()

	inum := mkFileInum(t, st)
	require.True(t, root.Add("a", inum))
	assert.True(t, root.Remove("a"))
	assert.Nil(t, root.Lookup("a"))
	assert.False(t, root.Remove("a"))
	// the slot is reused by the next add
	inum2 := mkFileInum(t, st)
	require.True(t, root.Add("b", inum2))
	root.Close()
}

func TestRemoveDotRejected(t *testing.T) {
	root, _, c := mkRoot(t)
	defer c.Shutdown()

	assert.False(t, root.Remove("."))
	assert.False(t, root.Remove(".."))
	root.Close()
}

func TestSubDir(t *testing.T) {
	root, st, c := mkRoot(t)
	defer c.Shutdown()

	inum, ok := st.AllocInum()
	require.True(t, ok)
	require.True(t, MkDir(st, inum, root.Inum()))
	require.True(t, root.Add("d", inum))

	sub := Open(st, inum)
	require.NotNil(t, sub)
	up := sub.Lookup("..")
	require.NotNil(t, up)
	assert.Equal(t, root.Inum(), up.Inum())
	up.Put()

	// non-empty directories cannot be removed
	f := mkFileInum(t, st)
	require.True(t, sub.Add("x", f))
	assert.False(t, root.Remove("d"))
	require.True(t, sub.Remove("x"))
	assert.True(t, root.Remove("d"))
	sub.Close()
	root.Close()
}

func TestRemovedDirIsStale(t *testing.T) {
	root, st, c := mkRoot(t)
	defer c.Shutdown()

	inum, ok := st.AllocInum()
	require.True(t, ok)
	require.True(t, MkDir(st, inum, root.Inum()))
	require.True(t, root.Add("d", inum))

	sub := Open(st, inum)
	require.NotNil(t, sub)
	require.True(t, root.Remove("d"))

	// operations on the removed directory fail
	f := mkFileInum(t, st)
	assert.False(t, sub.Add("x", f))
	assert.Nil(t, sub.Lookup("."))
	sub.Close()
	root.Close()
}

func TestReadDir(t *testing.T) {
	root, st, c := mkRoot(t)
	defer c.Shutdown()

	var names []string
	for i := 0; i < 5; i++ {
		names = append(names, fmt.Sprintf("f%d", i))
		require.True(t, root.Add(names[i], mkFileInum(t, st)))
	}
	var got []string
	for {
		name, ok := root.ReadDir()
		if !ok {
			break
		}
		got = append(got, name)
	}
	assert.Equal(t, names, got)

	// a reopened handle has its own position
	r2 := root.Reopen()
	name, ok := r2.ReadDir()
	require.True(t, ok)
	assert.Equal(t, "f0", name)
	r2.Close()
	root.Close()
}

func TestReadDirSkipsRemoved(t *testing.T) {
	root, st, c := mkRoot(t)
	defer c.Shutdown()

	require.True(t, root.Add("a", mkFileInum(t, st)))
	require.True(t, root.Add("b", mkFileInum(t, st)))
	require.True(t, root.Remove("a"))

	name, ok := root.ReadDir()
	require.True(t, ok)
	assert.Equal(t, "b", name)
	_, ok = root.ReadDir()
	assert.False(t, ok)
	root.Close()
}

func TestNameCacheSharedAcrossHandles(t *testing.T) {
	root, st, c := mkRoot(t)
	defer c.Shutdown()

	inum := mkFileInum(t, st)
	require.True(t, root.Add("a", inum))

	// a second handle on the same inode sees the entry, and removal
	// through it is visible to the first
	r2 := root.Reopen()
	ip := r2.Lookup("a")
	require.NotNil(t, ip)
	ip.Put()
	require.True(t, r2.Remove("a"))
	assert.Nil(t, root.Lookup("a"))
	r2.Close()

	// freed slots are found again by later adds
	inum2 := mkFileInum(t, st)
	require.True(t, root.Add("b", inum2))
	ip = root.Lookup("b")
	require.NotNil(t, ip)
	assert.Equal(t, inum2, ip.Inum())
	ip.Put()
	root.Close()
}
