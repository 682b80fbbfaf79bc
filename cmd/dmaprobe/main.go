// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The dmaprobe command exercises a dmaregion.Controller against a real
// file, outside of any VMM: it maps a region, translates an address
// range, and optionally dumps a migration dirty bitmap. It exists for
// interactive and scripted testing of the controller's behavior against
// real files and real page sizes, not as a production component.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wilinz/vfudma/pkg/dmaregion"
	"github.com/wilinz/vfudma/pkg/vfulog"
)

var (
	maxRegions int
	maxSize    uint64
	verbose    bool
)

func newController() *dmaregion.Controller {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	ctx := dmaregion.NewBasicContext(vfulog.NewLogrus(log))
	return dmaregion.NewController(ctx, maxRegions, maxSize)
}

func openRegionFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	return os.OpenFile(path, os.O_RDWR, 0)
}

func parseProt(s string) (dmaregion.Prot, error) {
	var p dmaregion.Prot
	for _, c := range s {
		switch c {
		case 'r':
			p |= dmaregion.ProtRead
		case 'w':
			p |= dmaregion.ProtWrite
		default:
			return 0, fmt.Errorf("invalid protection character %q, want one of 'r', 'w'", c)
		}
	}
	return p, nil
}

func main() {
	root := &cobra.Command{
		Use:   "dmaprobe",
		Short: "Inspect a DMA region controller's behavior against a real file",
	}
	root.PersistentFlags().IntVar(&maxRegions, "max-regions", 64, "maximum number of live regions")
	root.PersistentFlags().Uint64Var(&maxSize, "max-size", 0, "advisory total DMA size limit (0 = unlimited)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRegionCmd())
	root.AddCommand(newTranslateCmd())
	root.AddCommand(newDirtyCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRegionCmd() *cobra.Command {
	var (
		iova, pasid uint64
		size        uint64
		file        string
		offset      int64
		prot        string
	)
	cmd := &cobra.Command{
		Use:   "region",
		Short: "Add a region and print its resulting descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProt(prot)
			if err != nil {
				return err
			}
			f, err := openRegionFile(file)
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			fd := dmaregion.NoFD
			if f != nil {
				fd = int32(f.Fd())
			}

			c := newController()
			idx, err := c.AddRegion(iova, uint32(pasid), size, fd, offset, p)
			if err != nil {
				return fmt.Errorf("add region: %w", err)
			}
			fmt.Printf("region %d: iova=[%#x, %#x) pasid=%#x prot=%s\n", idx, iova, iova+size, pasid, p)

			if err := c.RemoveRegion(iova, uint32(pasid), size, nil, nil); err != nil {
				return fmt.Errorf("remove region: %w", err)
			}
			c.Close()
			return nil
		},
	}
	cmd.Flags().Uint64Var(&iova, "iova", 0, "region base IOVA")
	cmd.Flags().Uint64Var(&pasid, "pasid", 0, "PASID tag")
	cmd.Flags().Uint64Var(&size, "size", 0x1000, "region length in bytes")
	cmd.Flags().StringVar(&file, "file", "", "backing file (empty = placeholder region)")
	cmd.Flags().Int64Var(&offset, "offset", 0, "offset into the backing file")
	cmd.Flags().StringVar(&prot, "prot", "rw", "protection: any combination of 'r' and 'w'")
	return cmd
}

func newTranslateCmd() *cobra.Command {
	var (
		iova, pasid  uint64
		size         uint64
		file         string
		offset       int64
		prot         string
		addr, length uint64
		maxSG        int
	)
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Add a region, translate an address range, and print the resulting scatter/gather list",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProt(prot)
			if err != nil {
				return err
			}
			f, err := openRegionFile(file)
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			fd := dmaregion.NoFD
			if f != nil {
				fd = int32(f.Fd())
			}

			c := newController()
			if _, err := c.AddRegion(iova, uint32(pasid), size, fd, offset, p); err != nil {
				return fmt.Errorf("add region: %w", err)
			}

			sg, err := c.Translate(addr, uint32(pasid), length, p, maxSG)
			if err != nil {
				var short *dmaregion.ShortBuffer
				if dmaregion.Is(err, dmaregion.NotFound) {
					return fmt.Errorf("translate: address range is not fully mapped")
				} else if isShortBuffer(err, &short) {
					return fmt.Errorf("translate: need %d entries, got room for %d", short.Required, maxSG)
				}
				return fmt.Errorf("translate: %w", err)
			}
			for _, e := range sg {
				fmt.Printf("region=%d addr=%#x length=%#x mappable=%v\n", e.RegionIndex, e.Addr, e.Length, c.SGIsMappable(e))
			}

			if err := c.RemoveRegion(iova, uint32(pasid), size, nil, nil); err != nil {
				return fmt.Errorf("remove region: %w", err)
			}
			c.Close()
			return nil
		},
	}
	cmd.Flags().Uint64Var(&iova, "iova", 0, "region base IOVA")
	cmd.Flags().Uint64Var(&pasid, "pasid", 0, "PASID tag")
	cmd.Flags().Uint64Var(&size, "size", 0x1000, "region length in bytes")
	cmd.Flags().StringVar(&file, "file", "", "backing file (empty = placeholder region)")
	cmd.Flags().Int64Var(&offset, "offset", 0, "offset into the backing file")
	cmd.Flags().StringVar(&prot, "prot", "rw", "protection requested by both the region and the translation")
	cmd.Flags().Uint64Var(&addr, "addr", 0, "address to translate")
	cmd.Flags().Uint64Var(&length, "length", 0x1000, "length to translate")
	cmd.Flags().IntVar(&maxSG, "max-sg", 4, "maximum scatter/gather entries to return")
	return cmd
}

func isShortBuffer(err error, out **dmaregion.ShortBuffer) bool {
	sb, ok := err.(*dmaregion.ShortBuffer)
	if ok {
		*out = sb
	}
	return ok
}

func newDirtyCmd() *cobra.Command {
	var (
		iova, pasid    uint64
		size           uint64
		file           string
		serverPageSize uint64
		clientPageSize uint64
	)
	cmd := &cobra.Command{
		Use:   "dirty",
		Short: "Add a region, enable dirty page logging, mark the whole region dirty, and dump the bitmap",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRegionFile(file)
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			if f == nil {
				return fmt.Errorf("dirty requires --file: a placeholder region has no bitmap")
			}

			c := newController()
			idx, err := c.AddRegion(iova, uint32(pasid), size, int32(f.Fd()), 0, dmaregion.ProtRead|dmaregion.ProtWrite)
			if err != nil {
				return fmt.Errorf("add region: %w", err)
			}
			if err := c.DirtyStart(serverPageSize); err != nil {
				return fmt.Errorf("dirty start: %w", err)
			}
			c.MarkDirty(dmaregion.SGEntry{RegionIndex: idx, Addr: iova, Length: size})

			bitmapSize, err := dmaregion.BitmapSize(size, clientPageSize)
			if err != nil {
				return fmt.Errorf("bitmap size: %w", err)
			}
			out := make([]byte, bitmapSize)
			if err := c.DirtyGet(iova, size, clientPageSize, out); err != nil {
				return fmt.Errorf("dirty get: %w", err)
			}
			fmt.Println(hex.EncodeToString(out))

			c.DirtyStop()
			if err := c.RemoveRegion(iova, uint32(pasid), size, nil, nil); err != nil {
				return fmt.Errorf("remove region: %w", err)
			}
			c.Close()
			return nil
		},
	}
	cmd.Flags().Uint64Var(&iova, "iova", 0, "region base IOVA")
	cmd.Flags().Uint64Var(&pasid, "pasid", uint64(dmaregion.InvalidPASID), "PASID tag (dirty bitmaps are only looked up under the untagged InvalidPASID)")
	cmd.Flags().Uint64Var(&size, "size", 0x10000, "region length in bytes")
	cmd.Flags().StringVar(&file, "file", "", "backing file")
	cmd.Flags().Uint64Var(&serverPageSize, "server-pgsize", 0x1000, "page size dirty logging runs at")
	cmd.Flags().Uint64Var(&clientPageSize, "client-pgsize", 0x1000, "page size the dumped bitmap is resampled to")
	return cmd
}
