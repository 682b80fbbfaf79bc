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
	"github.com/wilinz/vfudma/pkg/fdinfo"
)

// UnregisterCallback is invoked once per removed region, with the
// controller's in-callback flag set for its duration.
type UnregisterCallback func(data any, info Info)

// RegionRegistry is a bounded, insertion-ordered table of regions. It
// enforces the identity/overlap/PASID rules on add and performs the
// mechanical table surgery for remove; it does not itself touch the host
// mapping or dirty bitmap beyond what add/remove requires it to own.
//
// RegionRegistry is not safe for concurrent mutation: add_region,
// remove_region, and remove_all_regions are assumed to run on a single
// request-serving goroutine, matching the hosting framework's event loop.
type RegionRegistry struct {
	regions []*Region
	max     int
}

func newRegionRegistry(max int) *RegionRegistry {
	return &RegionRegistry{max: max}
}

// Len returns the number of live regions.
func (g *RegionRegistry) Len() int { return len(g.regions) }

// at returns the region at idx, or nil if idx is out of range.
func (g *RegionRegistry) at(idx int) *Region {
	if idx < 0 || idx >= len(g.regions) {
		return nil
	}
	return g.regions[idx]
}

// Iterate calls fn for every live region, in table order. fn must not
// mutate the registry.
func (g *RegionRegistry) Iterate(fn func(idx int, r *Region)) {
	for i, r := range g.regions {
		fn(i, r)
	}
}

// findContaining returns the index and region of the PASID's region
// containing addr, or (-1, nil) if none does. I1 guarantees at most one
// match, so regions may be scanned in any order.
func (g *RegionRegistry) findContaining(pasid uint32, addr uint64) (int, *Region) {
	for i, r := range g.regions {
		if r.PASID == pasid && r.IOVA.Contains(addr) {
			return i, r
		}
	}
	return -1, nil
}

// findIdentity implements the identity/overlap scan in add_region: it
// returns the existing region matching (addr, pasid, size) exactly, or an
// error if a different region of the same PASID overlaps the requested
// window.
func (g *RegionRegistry) findIdentity(addr uint64, pasid uint32, size uint64) (idx int, exact *Region, err error) {
	win := Window{Base: addr, Len: size}
	for i, r := range g.regions {
		if r.PASID != pasid {
			continue
		}
		if r.IOVA == win {
			return i, r, nil
		}
		if r.IOVA.overlaps(win) {
			return -1, nil, newError(InvalidArgument, "add_region",
				errOverlap{existing: r.IOVA, new: win})
		}
	}
	return -1, nil, nil
}

type errOverlap struct {
	existing, new Window
}

func (e errOverlap) Error() string {
	return "new DMA region overlaps an existing region of the same PASID"
}

// append commits r as the next slot, failing if the table is full.
func (g *RegionRegistry) append(r *Region) (int, error) {
	if len(g.regions) == g.max {
		return 0, newError(InvalidArgument, "add_region", errTableFull{max: g.max})
	}
	g.regions = append(g.regions, r)
	return len(g.regions) - 1, nil
}

type errTableFull struct{ max int }

func (e errTableFull) Error() string {
	return "region table is full"
}

// remove deletes the region at idx, preserving order by shifting the tail
// down by one slot (I1-I4 are maintained automatically: removal cannot
// create an overlap or a malformed region).
func (g *RegionRegistry) remove(idx int) *Region {
	r := g.regions[idx]
	g.regions = append(g.regions[:idx], g.regions[idx+1:]...)
	return r
}

// removeAll empties the table and returns the removed regions in table
// order.
func (g *RegionRegistry) removeAll() []*Region {
	removed := g.regions
	g.regions = nil
	return removed
}

// blockSizeOf returns fd's preferred I/O block size, or 0 for a
// placeholder fd.
func blockSizeOf(fd int32) (int64, error) {
	if fd == noFD {
		return 0, nil
	}
	return fdinfo.BlockSize(fd)
}
