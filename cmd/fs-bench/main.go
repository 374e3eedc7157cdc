// fs-bench runs a small create/write/read/remove workload and prints
// per-operation and per-device latency tables.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mit-pdos/go-sectorfs/disk"
	"github.com/mit-pdos/go-sectorfs/disk/timed_disk"
	"github.com/mit-pdos/go-sectorfs/fs"
)

func client(f *fs.Filesys, duration time.Duration, tid int) int {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 128)
	}
	path := fmt.Sprintf("/bench%d", tid)
	start := time.Now()
	i := 0
	for {
		if !f.Create(path, 0, false) {
			panic("bench: create failed")
		}
		h := f.Open(path)
		if h == nil {
			panic("bench: open failed")
		}
		h.Write(data)
		h.Seek(0)
		buf := make([]byte, len(data))
		h.Read(buf)
		h.Close()
		if !f.Remove(path) {
			panic("bench: remove failed")
		}
		i++
		if time.Since(start) >= duration {
			break
		}
	}
	return i
}

func main() {
	var duration time.Duration
	var nthread int
	var diskfile string
	var sizeMegabytes uint64
	flag.DurationVar(&duration, "benchtime", 10*time.Second, "time to run the workload for")
	flag.IntVar(&nthread, "threads", 1, "number of concurrent clients")
	flag.StringVar(&diskfile, "disk", "", "disk image (empty for MemDisk)")
	flag.Uint64Var(&sizeMegabytes, "size", 16, "size of file system (in MB)")
	flag.Parse()
	if nthread < 1 {
		fmt.Fprintln(os.Stderr, "fs-bench: need at least one thread")
		os.Exit(1)
	}
	sectors := sizeMegabytes * 1024 * 1024 / disk.SectorSize

	var d disk.Disk
	if diskfile != "" {
		fd, err := disk.NewFileDisk(diskfile, sectors)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fs-bench: %v\n", err)
			os.Exit(1)
		}
		d = fd
	} else {
		d = disk.NewMemDisk(sectors)
	}
	td := timed_disk.New(d)

	f := fs.MkFilesys(td, true)
	count := make(chan int)
	for i := 0; i < nthread; i++ {
		go func(tid int) {
			count <- client(f, duration, tid)
		}(i)
	}
	n := 0
	for i := 0; i < nthread; i++ {
		n += <-count
	}
	f.Done()

	fmt.Printf("%d iterations in %v with %d threads\n", n, duration, nthread)
	f.WriteOpStats(os.Stdout)
	td.WriteStats(os.Stdout)
	td.Close()
}
