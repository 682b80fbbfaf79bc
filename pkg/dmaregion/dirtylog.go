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
	"github.com/wilinz/vfudma/pkg/atomicbitops"
	"github.com/wilinz/vfudma/pkg/hostarch"
)

// DirtyLog is the process-wide dirty-page-tracking state: whether logging
// is enabled and at what page size, plus the per-region bitmaps that back
// it. Its mutating entry points (Start, Stop) share the registry's
// single-threaded assumption; MarkDirty and GetBitmap are the two
// operations that must tolerate concurrent callers (device-emulation
// threads marking, the request loop draining).
type DirtyLog struct {
	pgsize uint64 // 0 = disabled
}

// Enabled reports whether dirty page logging is currently running.
func (d *DirtyLog) Enabled() bool { return d.pgsize != 0 }

// PageSize returns the page size logging was started with, or 0 if
// disabled.
func (d *DirtyLog) PageSize() uint64 { return d.pgsize }

// Start begins logging at pgsize for every currently-mapped region,
// allocating each region's dirty bitmap. Starting with the page size
// already in effect is a no-op success; starting with a different page
// size while already enabled is rejected.
func (d *DirtyLog) Start(reg *RegionRegistry, pgsize uint64) error {
	if pgsize == 0 {
		return newError(InvalidArgument, "dirty_start", errBadPageSize{pgsize})
	}
	if d.pgsize != 0 {
		if d.pgsize != pgsize {
			return newError(InvalidArgument, "dirty_start", errPageSizeConflict{have: d.pgsize, want: pgsize})
		}
		return nil
	}

	allocated := make([]*Region, 0, reg.Len())
	var failure error
	reg.Iterate(func(_ int, r *Region) {
		if failure != nil || !r.Mapped() {
			return
		}
		size, err := BitmapSize(r.IOVA.Len, pgsize)
		if err != nil {
			failure = err
			return
		}
		r.dirty = atomicbitops.NewBitmap(int(size))
		allocated = append(allocated, r)
	})
	if failure != nil {
		for _, r := range allocated {
			r.dirty = nil
		}
		return failure
	}

	d.pgsize = pgsize
	return nil
}

type errPageSizeConflict struct{ have, want uint64 }

func (e errPageSizeConflict) Error() string {
	return "dirty page logging already running at a different page size"
}

// Stop disables logging and frees every region's bitmap. It is a no-op if
// logging is already disabled.
func (d *DirtyLog) Stop(reg *RegionRegistry) {
	if d.pgsize == 0 {
		return
	}
	reg.Iterate(func(_ int, r *Region) {
		r.dirty = nil
	})
	d.pgsize = 0
}

// startOnRegion allocates r's dirty bitmap when a new mapped region is
// added while logging is already enabled.
func (d *DirtyLog) startOnRegion(r *Region) error {
	if d.pgsize == 0 {
		return nil
	}
	size, err := BitmapSize(r.IOVA.Len, d.pgsize)
	if err != nil {
		return err
	}
	r.dirty = atomicbitops.NewBitmap(int(size))
	return nil
}

// MarkDirty records that sg's range was written to, setting the
// corresponding bit(s) of its region's dirty bitmap. It is safe to call
// concurrently with other MarkDirty calls and with GetBitmap; a mark that
// races past a concurrent drain is preserved for the next one.
func (d *DirtyLog) MarkDirty(reg *RegionRegistry, sg SGEntry) {
	if d.pgsize == 0 || sg.Length == 0 {
		return
	}
	r := reg.at(sg.RegionIndex)
	if r == nil || r.dirty == nil {
		return
	}

	startPage := (sg.Addr - r.IOVA.Base) / d.pgsize
	endPage := (sg.Addr - r.IOVA.Base + sg.Length - 1) / d.pgsize
	for page := startPage; page <= endPage; page++ {
		r.dirty.OrBit(int(page/8), uint(page%8))
	}
}

// GetBitmap drains the dirty bitmap for [addr, addr+length), a range that
// must exactly cover a single region's IOVA window, resampling from the
// server's logging page size to clientPgsize if they differ. out must be
// exactly BitmapSize(length, clientPgsize) bytes.
func (d *DirtyLog) GetBitmap(reg *RegionRegistry, tr *Translator, addr, length, clientPgsize uint64, out []byte) error {
	sg, err := tr.Translate(addr, InvalidPASID, length, 0, 1)
	if err != nil {
		return err
	}
	r := reg.at(sg[0].RegionIndex)
	if r == nil || r.IOVA.Base != addr || r.IOVA.Len != length {
		return newError(Unsupported, "dirty_get", errPartialRegion{})
	}

	if d.pgsize == 0 {
		return newError(InvalidArgument, "dirty_get", errLoggingDisabled{})
	}
	if clientPgsize == 0 || !hostarch.IsPowerOfTwo(clientPgsize) {
		return newError(InvalidArgument, "dirty_get", errBadPageSize{clientPgsize})
	}

	if _, err := BitmapSize(length, d.pgsize); err != nil {
		return err
	}
	clientSize, err := BitmapSize(length, clientPgsize)
	if err != nil {
		return err
	}
	if uint64(len(out)) != clientSize {
		return newError(InvalidArgument, "dirty_get", errBitmapSizeMismatch{got: uint64(len(out)), want: clientSize})
	}

	if !r.Mapped() || r.dirty == nil {
		return newError(InvalidArgument, "dirty_get", errRegionNotMapped{})
	}

	switch {
	case clientPgsize == d.pgsize:
		resampleSamePageSize(r.dirty, out)
	case clientPgsize < d.pgsize:
		resampleExtend(r.dirty, d.pgsize, out, clientPgsize)
	default:
		resampleCombine(r.dirty, d.pgsize, out, clientPgsize)
	}
	return nil
}

type errPartialRegion struct{}

func (errPartialRegion) Error() string {
	return "dirty_get requires an IOVA range equal to exactly one region's window"
}

type errLoggingDisabled struct{}

func (errLoggingDisabled) Error() string { return "dirty page logging is not enabled" }

type errBitmapSizeMismatch struct{ got, want uint64 }

func (e errBitmapSizeMismatch) Error() string {
	return "client bitmap buffer size does not match the expected size"
}

type errRegionNotMapped struct{}

func (errRegionNotMapped) Error() string { return "region is not mapped" }
