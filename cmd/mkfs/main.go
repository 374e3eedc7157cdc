// mkfs formats a disk image with an empty file system.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mit-pdos/go-sectorfs/common"
	"github.com/mit-pdos/go-sectorfs/disk"
	"github.com/mit-pdos/go-sectorfs/fs"
)

func main() {
	var diskfile string
	var sizeMegabytes uint64
	flag.StringVar(&diskfile, "disk", "", "disk image to format")
	flag.Uint64Var(&sizeMegabytes, "size", 8, "size of the image (in MB)")
	flag.Parse()
	if diskfile == "" {
		fmt.Fprintln(os.Stderr, "usage: mkfs -disk <image> [-size <MB>]")
		os.Exit(1)
	}
	sectors := sizeMegabytes * 1024 * 1024 / common.SectorSize

	d, err := disk.NewFileDisk(diskfile, sectors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
	f := fs.MkFilesys(d, true)
	f.Done()
	d.Close()
	fmt.Printf("formatted %s: %d sectors\n", diskfile, sectors)
}
