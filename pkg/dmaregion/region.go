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

package dmaregion

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/wilinz/vfudma/pkg/atomicbitops"
	"github.com/wilinz/vfudma/pkg/hostarch"
)

// noFD is the sentinel FD value for a placeholder region: one added without
// a backing file, present for address-translation-service flows where host
// mapping is deferred.
const noFD int32 = -1

// NoFD is the fd value AddRegion callers pass to create a placeholder
// region: one with no backing file and no host mapping.
const NoFD = noFD

// InvalidPASID is the sentinel PASID tag meaning "no address-space tag".
// Regions and lookups tagged with it form a distinct logical address space
// from any other PASID value.
const InvalidPASID uint32 = 0xffffffff

// Window is a half-open interval [Base, Base+Len) over an IOVA.
type Window struct {
	Base uint64
	Len  uint64
}

// End returns the address one past the end of the window.
func (w Window) End() uint64 { return w.Base + w.Len }

// Contains reports whether addr lies within the window.
func (w Window) Contains(addr uint64) bool { return addr >= w.Base && addr < w.End() }

// overlaps reports whether w and o, both in the same PASID, violate I1:
// neither's base may lie strictly inside the other's window.
func (w Window) overlaps(o Window) bool {
	return (w.Base >= o.Base && w.Base < o.End()) ||
		(o.Base >= w.Base && o.Base < w.End())
}

// Prot is a bitmask of access permissions a region or translation request
// may carry.
type Prot uint32

// The two permission bits a region or translation request may carry.
const (
	ProtRead Prot = 1 << iota
	ProtWrite
)

func (p Prot) String() string {
	r, w := "-", "-"
	if p&ProtRead != 0 {
		r = "r"
	}
	if p&ProtWrite != 0 {
		w = "w"
	}
	return r + w
}

// Satisfies reports whether p (a region's granted protection) is a
// superset of requested (what a translation asked for).
func (p Prot) Satisfies(requested Prot) bool {
	return requested&^p == 0
}

func (p Prot) unix() int {
	var prot int
	if p&ProtRead != 0 {
		prot |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	return prot
}

// Region is one mapped or placeholder IOVA range. It is a passive record
// owned exclusively by a RegionRegistry; nothing outside this package
// constructs or destroys one directly.
type Region struct {
	IOVA     Window
	PASID    uint32
	Prot     Prot
	FD       int32
	Offset   int64
	PageSize uint64

	mapping []byte               // page-aligned host mapping; nil iff FD == noFD
	vaddr   []byte               // mapping sub-slice starting at IOVA.Base; nil iff FD == noFD
	dirty   *atomicbitops.Bitmap // non-nil iff logging enabled and FD != noFD
}

// Mapped reports whether the region has a backing fd and host mapping
// (invariant I2: a region is fully mapped or fully unmapped).
func (r *Region) Mapped() bool { return r.FD != noFD }

// Vaddr returns the host-accessible bytes corresponding to the region's
// IOVA window, or nil for a placeholder region.
func (r *Region) Vaddr() []byte { return r.vaddr }

// Info is the immutable public view of a Region exposed to unregister
// callbacks and diagnostics. It never exposes the owning fd, which remains
// this package's to close.
type Info struct {
	IOVA     Window
	PASID    uint32
	Prot     Prot
	PageSize uint64
	Vaddr    []byte
}

// Info snapshots the region's public fields.
func (r *Region) Info() Info {
	return Info{
		IOVA:     r.IOVA,
		PASID:    r.PASID,
		Prot:     r.Prot,
		PageSize: r.PageSize,
		Vaddr:    r.vaddr,
	}
}

func (r *Region) String() string {
	if !r.Mapped() {
		return fmt.Sprintf("[%#x, %#x) pasid=%#x prot=%s placeholder", r.IOVA.Base, r.IOVA.End(), r.PASID, r.Prot)
	}
	return fmt.Sprintf("[%#x, %#x) pasid=%#x prot=%s fd=%d offset=%#x page_size=%#x",
		r.IOVA.Base, r.IOVA.End(), r.PASID, r.Prot, r.FD, r.Offset, r.PageSize)
}

// regionPageSize picks max(host page size, the descriptor's preferred
// block size), matching fd_get_blocksize()/getpagesize() in the reference
// implementation. blockSize <= 0 (no preference, or no fd) falls back to
// the host page size alone.
func regionPageSize(blockSize int64) uint64 {
	if blockSize <= 0 {
		return hostarch.PageSize
	}
	return hostarch.Max(uint64(blockSize), hostarch.PageSize)
}

// mapRegion mmaps fd at offset for the IOVA window's length, rounding the
// offset down and the length up to pageSize, and returns the page-aligned
// mapping together with the sub-slice that starts exactly at the
// requested (unaligned) offset.
func mapRegion(fd int32, offset int64, length, pageSize uint64, prot Prot) (mapping, vaddr []byte, err error) {
	alignedOffset := hostarch.AlignDown(uint64(offset), pageSize)
	remainder := uint64(offset) - alignedOffset
	mmapLen := hostarch.AlignUp(remainder+length, pageSize)

	mapping, err = unix.Mmap(int(fd), int64(alignedOffset), int(mmapLen), prot.unix(), unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}

	// Best-effort: exclude the mapping from core dumps. A failure here is
	// not fatal to the mapping itself.
	_ = unix.Madvise(mapping, unix.MADV_DONTDUMP)

	vaddr = mapping[remainder : remainder+length]
	return mapping, vaddr, nil
}

// unmapRegion releases r's host mapping and closes its fd. Unmap failures
// are logged and swallowed: the region is always removed from the table.
func unmapRegion(ctx Context, r *Region) {
	if !r.Mapped() {
		return
	}
	if err := unix.Munmap(r.mapping); err != nil {
		ctx.Debugf("dmaregion: failed to unmap fd=%d mapping=[%p, %p): %v",
			r.FD, &r.mapping[0], &r.mapping[len(r.mapping)-1], err)
	}
	unix.Close(int(r.FD))
	r.FD = noFD
	r.mapping = nil
	r.vaddr = nil
	r.dirty = nil
}
