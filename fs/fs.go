// Package fs assembles the file system: the buffer cache, free map,
// inode store, and directory tree behind a path-based API.
package fs

import (
	"io"
	"sync"
	"time"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-sectorfs/cache"
	"github.com/mit-pdos/go-sectorfs/common"
	"github.com/mit-pdos/go-sectorfs/dir"
	"github.com/mit-pdos/go-sectorfs/disk"
	"github.com/mit-pdos/go-sectorfs/file"
	"github.com/mit-pdos/go-sectorfs/freemap"
	"github.com/mit-pdos/go-sectorfs/inode"
	"github.com/mit-pdos/go-sectorfs/stats"
)

const (
	createOp int = iota
	openOp
	removeOp
	chdirOp
	numOps
)

var opNames = []string{"create", "open", "remove", "chdir"}

type Filesys struct {
	d  disk.Disk
	c  *cache.Cache
	fm *freemap.FreeMap
	st *inode.Store

	mu  *sync.Mutex // guards cwd
	cwd *dir.Dir

	ops [numOps]stats.Op
}

// MkFilesys mounts the file system on d, formatting it first when
// format is set.
func MkFilesys(d disk.Disk, format bool) *Filesys {
	c := cache.MkCache(d)
	fm := freemap.MkFreeMap(c, d.Size())
	st := inode.MkStore(c, fm)
	fs := &Filesys{
		d:  d,
		c:  c,
		fm: fm,
		st: st,
		mu: new(sync.Mutex),
	}
	if format {
		fs.format()
	} else {
		fm.Open()
	}
	fs.cwd = dir.OpenRoot(st)
	if fs.cwd == nil {
		panic("fs: no root directory")
	}
	util.DPrintf(1, "fs: mounted, %d sectors\n", d.Size())
	return fs
}

func (fs *Filesys) format() {
	util.DPrintf(1, "fs: formatting\n")
	for i := uint64(0); i < common.InodeTableSectors; i++ {
		fs.c.Add(common.Snum(i), cache.PriInode)
	}
	fs.fm.Create()
	if !dir.MkRoot(fs.st) {
		panic("fs: root directory creation failed")
	}
}

// Done writes all unwritten state and shuts the file system down:
// flush the cache, close the free map, then destroy the cache.
func (fs *Filesys) Done() {
	fs.mu.Lock()
	cwd := fs.cwd
	fs.cwd = nil
	fs.mu.Unlock()
	if cwd != nil {
		cwd.Close()
	}
	fs.c.Flush()
	fs.fm.Close()
	fs.c.Shutdown()
	util.DPrintf(1, "fs: shut down\n")
}

// Create makes a file (or directory) at path with the given initial
// size. The size is sparse; no data sectors are allocated. Returns
// false if the path does not resolve, the name exists, or the inode
// table is full.
func (fs *Filesys) Create(path string, size uint64, isDir bool) bool {
	defer fs.ops[createOp].Record(time.Now())
	dp, name, ok := fs.resolve(path)
	if !ok {
		return false
	}
	if dir.IllegalName(name) {
		dp.Close()
		return false
	}
	inum, ok := fs.st.AllocInum()
	if !ok {
		dp.Close()
		return false
	}
	var success bool
	if isDir {
		success = dir.MkDir(fs.st, inum, dp.Inum()) && dp.Add(name, inum)
	} else {
		fs.st.Init(inum, size, false)
		success = dp.Add(name, inum)
	}
	if !success {
		// reclaim whatever the half-made inode acquired
		if ip := fs.st.Open(inum); ip != nil {
			ip.Remove()
			ip.Put()
		} else {
			fs.st.ReleaseInum(inum)
		}
	}
	dp.Close()
	util.DPrintf(5, "fs: create %q: %v\n", path, success)
	return success
}

// Open opens the file or directory at path.
func (fs *Filesys) Open(path string) *file.File {
	defer fs.ops[openOp].Record(time.Now())
	dp, name, ok := fs.resolve(path)
	if !ok {
		return nil
	}
	ip := dp.Lookup(name)
	dp.Close()
	if ip == nil {
		return nil
	}
	return file.New(ip)
}

// Remove deletes the file or empty directory at path.
func (fs *Filesys) Remove(path string) bool {
	defer fs.ops[removeOp].Record(time.Now())
	dp, name, ok := fs.resolve(path)
	if !ok {
		return false
	}
	ok = dp.Remove(name)
	dp.Close()
	util.DPrintf(5, "fs: remove %q: %v\n", path, ok)
	return ok
}

// ChDir changes the directory relative paths resolve against.
func (fs *Filesys) ChDir(path string) bool {
	defer fs.ops[chdirOp].Record(time.Now())
	dp, name, ok := fs.resolve(path)
	if !ok {
		return false
	}
	ip := dp.Lookup(name)
	dp.Close()
	if ip == nil {
		return false
	}
	if !ip.IsDir() {
		ip.Put()
		return false
	}
	nd := dir.Wrap(ip)
	fs.mu.Lock()
	old := fs.cwd
	fs.cwd = nd
	fs.mu.Unlock()
	old.Close()
	return true
}

// WriteOpStats renders the per-operation latency table.
func (fs *Filesys) WriteOpStats(w io.Writer) {
	stats.WriteTable(opNames, fs.ops[:], w)
}

// NumUsedSectors exposes the free map's used count, reserved region
// included; tests check storage accounting with it.
func (fs *Filesys) NumUsedSectors() uint64 {
	return fs.fm.NumUsed()
}

// Flush forces a synchronous write-back, the same work the periodic
// flush loop does.
func (fs *Filesys) Flush() {
	fs.c.Flush()
}
