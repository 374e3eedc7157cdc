// fsck mounts a disk image read-only-in-spirit and verifies storage
// accounting between the inode table and the free map.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mit-pdos/go-sectorfs/disk"
	"github.com/mit-pdos/go-sectorfs/fs"
)

func main() {
	var diskfile string
	var sectors uint64
	flag.StringVar(&diskfile, "disk", "", "disk image to check")
	flag.Uint64Var(&sectors, "sectors", 0, "image size in sectors (0: derive from file size)")
	flag.Parse()
	if diskfile == "" {
		fmt.Fprintln(os.Stderr, "usage: fsck -disk <image> [-sectors <n>]")
		os.Exit(1)
	}
	if sectors == 0 {
		fi, err := os.Stat(diskfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
			os.Exit(1)
		}
		sectors = uint64(fi.Size()) / disk.SectorSize
	}

	d, err := disk.NewFileDisk(diskfile, sectors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
		os.Exit(1)
	}
	f := fs.MkFilesys(d, false)
	err = f.Check()
	f.Done()
	d.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fsck: %s: %v\n", diskfile, err)
		os.Exit(1)
	}
	fmt.Printf("%s: clean\n", diskfile)
}
