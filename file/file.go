// Package file provides byte-stream handles over open inodes: a
// position, seek/tell, and the deny-write discipline used while an
// executable is mapped.
package file

import (
	"github.com/mit-pdos/go-sectorfs/common"
	"github.com/mit-pdos/go-sectorfs/dir"
	"github.com/mit-pdos/go-sectorfs/inode"
)

// File is an open handle. Handles are not safe for concurrent use of
// the position; share the inode by opening the path again instead.
//
// Using a handle after Close kills the caller with a panic, matching
// the kernel treatment of a stale descriptor.
type File struct {
	ip   *inode.Inode
	dir  *dir.Dir // non-nil for directory handles
	pos  uint64
	deny bool
}

// New wraps an open inode, taking ownership of the reference.
func New(ip *inode.Inode) *File {
	f := &File{ip: ip}
	if ip.IsDir() {
		f.dir = dir.Wrap(ip)
	}
	return f
}

func (f *File) check() {
	if f.ip == nil {
		panic("file: use of closed handle")
	}
}

// Read reads up to len(dst) bytes at the current position.
func (f *File) Read(dst []byte) uint64 {
	f.check()
	n := f.ip.ReadAt(dst, f.pos)
	f.pos += n
	return n
}

func (f *File) ReadAt(dst []byte, off uint64) uint64 {
	f.check()
	return f.ip.ReadAt(dst, off)
}

// Write writes len(src) bytes at the current position. Writing
// through a directory handle is refused.
func (f *File) Write(src []byte) uint64 {
	f.check()
	if f.dir != nil {
		return 0
	}
	n := f.ip.WriteAt(src, f.pos)
	f.pos += n
	return n
}

func (f *File) WriteAt(src []byte, off uint64) uint64 {
	f.check()
	if f.dir != nil {
		return 0
	}
	return f.ip.WriteAt(src, off)
}

func (f *File) Seek(pos uint64) {
	f.check()
	f.pos = pos
}

func (f *File) Tell() uint64 {
	f.check()
	return f.pos
}

func (f *File) Length() uint64 {
	f.check()
	return f.ip.Length()
}

func (f *File) IsDir() bool {
	f.check()
	return f.ip.IsDir()
}

// ReadDir returns the next directory entry name; false for a file
// handle or at the end.
func (f *File) ReadDir() (string, bool) {
	f.check()
	if f.dir == nil {
		return "", false
	}
	return f.dir.ReadDir()
}

func (f *File) Inumber() common.Inum {
	f.check()
	return f.ip.Inum()
}

// DenyWrite blocks writes to the underlying inode until AllowWrite
// or Close. At most one deny per handle is counted.
func (f *File) DenyWrite() {
	f.check()
	if !f.deny {
		f.deny = true
		f.ip.DenyWrite()
	}
}

func (f *File) AllowWrite() {
	f.check()
	if f.deny {
		f.deny = false
		f.ip.AllowWrite()
	}
}

// Close drops this handle's reference; the last close of a removed
// inode releases its storage.
func (f *File) Close() {
	f.check()
	if f.deny {
		f.deny = false
		f.ip.AllowWrite()
	}
	f.ip.Put()
	f.ip = nil
	f.dir = nil
}
