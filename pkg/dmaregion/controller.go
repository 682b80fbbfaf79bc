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

// Package dmaregion is the DMA-region controller: it tracks which guest
// IOVA ranges a VMM has shared with this process, maps them into the
// server's address space on demand, translates scatter/gather DMA
// requests against them, and tracks which pages the device has dirtied
// for live migration.
//
// A Controller's region-mutating operations (AddRegion, RemoveRegion,
// RemoveAllRegions, DirtyStart, DirtyStop) are meant to run on a single
// request-serving goroutine and are not safe to call concurrently with
// each other. Translate, MarkDirty, and DirtyGet may be called from other
// goroutines doing device emulation against previously-obtained SG lists,
// concurrently with each other and (for MarkDirty/DirtyGet specifically)
// with each other's dirty-bit traffic.
package dmaregion

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/wilinz/vfudma/pkg/fdinfo"
)

// Controller owns a RegionRegistry and a DirtyLog, and builds a Translator
// over the registry for each Translate or DirtyGet call.
// It is the unit spec's controller_create/controller_destroy operate on.
type Controller struct {
	ctx      Context
	maxSize  uint64 // advisory; never enforced, see DESIGN.md
	registry *RegionRegistry
	dirty    DirtyLog
}

// NewController creates a Controller bounded to maxRegions live regions.
// maxSize is stored but never enforced: address-translation-capable
// devices need the entire IOVA space, so there is no total-DMA-size
// budget to check against.
func NewController(ctx Context, maxRegions int, maxSize uint64) *Controller {
	return &Controller{
		ctx:      ctx,
		maxSize:  maxSize,
		registry: newRegionRegistry(maxRegions),
	}
}

// MaxSize returns the advisory size limit passed to NewController.
func (c *Controller) MaxSize() uint64 { return c.maxSize }

// Close tears down the controller. It panics if any region is still
// registered: callers must RemoveAllRegions first.
func (c *Controller) Close() {
	if n := c.registry.Len(); n != 0 {
		panic(fmt.Sprintf("dmaregion: controller destroyed with %d live region(s)", n))
	}
}

// AddRegion registers the IOVA window [addr, addr+size) for pasid,
// optionally backed by fd at offset. Re-adding a window identical to an
// existing region updates that region's protection and returns its
// existing index; re-adding with a different offset or an unrelated file
// is rejected.
func (c *Controller) AddRegion(addr uint64, pasid uint32, size uint64, fd int32, offset int64, prot Prot) (int, error) {
	idx, exact, err := c.registry.findIdentity(addr, pasid, size)
	if err != nil {
		return 0, err
	}
	if exact != nil {
		if offset != exact.Offset {
			return 0, newError(InvalidArgument, "add_region", errOffsetMismatch{})
		}
		if !fdinfo.SameFile(exact.FD, fd) {
			return 0, newError(InvalidArgument, "add_region", errFDMismatch{})
		}
		exact.Prot = prot
		return idx, nil
	}

	if c.registry.Len() == c.registry.max {
		return 0, newError(InvalidArgument, "add_region", errTableFull{max: c.registry.max})
	}

	blockSize, err := blockSizeOf(fd)
	if err != nil {
		return 0, newError(InvalidArgument, "add_region", err)
	}

	r := &Region{
		IOVA:     Window{Base: addr, Len: size},
		PASID:    pasid,
		Prot:     prot,
		FD:       fd,
		Offset:   offset,
		PageSize: regionPageSize(blockSize),
	}

	if fd != noFD {
		if err := c.dirty.startOnRegion(r); err != nil {
			unix.Close(int(fd))
			return 0, newError(Resource, "add_region", err)
		}

		mapping, vaddr, err := mapRegion(fd, offset, size, r.PageSize, prot)
		if err != nil {
			unix.Close(int(fd))
			r.dirty = nil
			return 0, newError(Resource, "add_region", err)
		}
		r.mapping = mapping
		r.vaddr = vaddr
		c.ctx.Debugf("dmaregion: mapped region %s", r)
	}

	return c.registry.append(r)
}

type errOffsetMismatch struct{}

func (errOffsetMismatch) Error() string { return "offset does not match the existing region" }

type errFDMismatch struct{}

func (errFDMismatch) Error() string { return "fd does not name the same file as the existing region" }

// RemoveRegion removes the region matching (addr, pasid, size) exactly.
// If cb is non-nil, it is invoked with the region's public Info before
// the region is unmapped, with the controller's in-callback flag set to
// CallbackDMAUnregister for its duration.
func (c *Controller) RemoveRegion(addr uint64, pasid uint32, size uint64, cb UnregisterCallback, data any) error {
	win := Window{Base: addr, Len: size}
	idx := -1
	c.registry.Iterate(func(i int, r *Region) {
		if idx == -1 && r.PASID == pasid && r.IOVA == win {
			idx = i
		}
	})
	if idx == -1 {
		return newError(NotFound, "remove_region", nil)
	}

	r := c.registry.at(idx)
	if cb != nil {
		runCallback(c.ctx, CallbackDMAUnregister, func() { cb(data, r.Info()) })
	}

	unmapRegion(c.ctx, r)
	c.registry.remove(idx)
	return nil
}

// RemoveAllRegions removes every region, invoking cb for each one first
// under the same reentrancy discipline as RemoveRegion.
func (c *Controller) RemoveAllRegions(cb UnregisterCallback, data any) {
	c.registry.Iterate(func(_ int, r *Region) {
		c.ctx.Debugf("dmaregion: removing region %s", r)
		if cb != nil {
			runCallback(c.ctx, CallbackDMAUnregister, func() { cb(data, r.Info()) })
		}
		unmapRegion(c.ctx, r)
	})
	c.registry.removeAll()
}

// Translate splits [addr, addr+length) for pasid into a scatter/gather
// list of up to max entries. See Translator.Translate for the exact
// contract.
func (c *Controller) Translate(addr uint64, pasid uint32, length uint64, prot Prot, max int) ([]SGEntry, error) {
	t := Translator{reg: c.registry}
	return t.Translate(addr, pasid, length, prot, max)
}

// SGIsMappable reports whether sg's region has a host mapping, i.e. is not
// a placeholder region.
func (c *Controller) SGIsMappable(sg SGEntry) bool {
	r := c.registry.at(sg.RegionIndex)
	return r != nil && r.Mapped()
}

// DirtyStart begins dirty page logging at pgsize. See DirtyLog.Start.
func (c *Controller) DirtyStart(pgsize uint64) error {
	if err := c.dirty.Start(c.registry, pgsize); err != nil {
		return err
	}
	c.ctx.Debugf("dmaregion: dirty page logging started at page size %#x", pgsize)
	return nil
}

// DirtyStop stops dirty page logging. See DirtyLog.Stop.
func (c *Controller) DirtyStop() {
	if !c.dirty.Enabled() {
		return
	}
	c.dirty.Stop(c.registry)
	c.ctx.Debugf("dmaregion: dirty page logging stopped")
}

// MarkDirty records sg's range as dirtied by the device.
func (c *Controller) MarkDirty(sg SGEntry) {
	c.dirty.MarkDirty(c.registry, sg)
}

// DirtyGet drains the dirty bitmap covering [addr, addr+length) into out,
// resampled to clientPgsize. See DirtyLog.GetBitmap.
func (c *Controller) DirtyGet(addr, length, clientPgsize uint64, out []byte) error {
	t := Translator{reg: c.registry}
	return c.dirty.GetBitmap(c.registry, &t, addr, length, clientPgsize, out)
}
