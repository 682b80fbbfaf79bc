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

// SGEntry is one contiguous sub-range of a single region produced by
// translating a larger IOVA request. Host is the host-accessible slice
// backing this segment; it is nil if the underlying region is a
// placeholder.
type SGEntry struct {
	RegionIndex int
	Addr        uint64
	Length      uint64
	PASID       uint32
	Prot        Prot
	Host        []byte
}

// Translator walks a RegionRegistry to split an (IOVA, length, PASID)
// request into a scatter/gather list.
type Translator struct {
	reg *RegionRegistry
}

// Translate splits [addr, addr+length) for pasid across the regions of
// reg, left to right in address order. It returns up to max segments.
//
// If the request needs more than max segments, it returns a *ShortBuffer
// naming the count actually required (the legacy C encoding of this case
// is -required-1; ShortBuffer.Required preserves that number without the
// encoding). If a byte in the requested range lies outside every region of
// the PASID, it returns a NotFound error and no segments, even for a prefix
// that did translate; NotFound takes priority over *ShortBuffer.
func (t *Translator) Translate(addr uint64, pasid uint32, length uint64, prot Prot, max int) ([]SGEntry, error) {
	var sg []SGEntry
	count := 0

	for length > 0 {
		idx, r := t.reg.findContaining(pasid, addr)
		if r == nil {
			return nil, newError(NotFound, "translate", nil)
		}

		segLen := r.IOVA.End() - addr
		if segLen > length {
			segLen = length
		}

		var host []byte
		if r.Mapped() {
			host = r.Vaddr()[addr-r.IOVA.Base : addr-r.IOVA.Base+segLen]
		}
		entry := SGEntry{
			RegionIndex: idx,
			Addr:        addr,
			Length:      segLen,
			PASID:       pasid,
			Prot:        prot,
			Host:        host,
		}
		if err := t.InitSG(entry); err != nil {
			return nil, err
		}

		if count < max {
			sg = append(sg, entry)
		}
		count++

		addr += segLen
		length -= segLen
	}

	if count > max {
		return nil, &ShortBuffer{Required: count}
	}
	return sg, nil
}

type errProtMismatch struct {
	region, requested Prot
}

func (e errProtMismatch) Error() string {
	return "region protection does not satisfy requested protection"
}

// InitSG verifies that the region backing sg grants at least the requested
// protection, matching the "init_sg" contract spec.md describes: building
// an SG entry additionally checks that the region's protection is a
// superset of what was requested.
func (t *Translator) InitSG(sg SGEntry) error {
	r := t.reg.at(sg.RegionIndex)
	if r == nil {
		return newError(InvalidArgument, "init_sg", nil)
	}
	if !r.Prot.Satisfies(sg.Prot) {
		return newError(InvalidArgument, "init_sg", errProtMismatch{region: r.Prot, requested: sg.Prot})
	}
	return nil
}
