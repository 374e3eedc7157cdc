// Package common holds the on-disk geometry shared by every layer of
// the file system.
//
// The device is a flat array of 512-byte sectors. The first
// InodeTableSectors sectors hold the inode table; the free-map bitmap
// occupies the extent right after it; everything else is the data
// pool. Inumber 0 is the root directory and its table entry lives at
// sector 0, offset 0.
package common

const SectorSize uint64 = 512

// Snum is a sector index on the device. 0 doubles as "no sector":
// sector 0 holds the start of the inode table and is never handed out
// by the free map.
type Snum = uint32

const NullSnum Snum = 0

// Inum is the persistent identity of an inode, an index into the
// inode table.
type Inum = uint32

const RootInum Inum = 0

const InodeTableSectors uint64 = 100

// InodeSize is the on-disk size of one inode record.
const InodeSize uint64 = 64

const InodesPerSector uint64 = SectorSize / InodeSize

const NumInodes uint64 = InodeTableSectors * InodesPerSector

// NameMax is the longest directory entry name, the traditional UNIX
// limit.
const NameMax uint64 = 14
