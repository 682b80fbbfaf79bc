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
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestBitmapSize(t *testing.T) {
	tests := []struct {
		length, pgsize uint64
		want           uint64
		wantErr        bool
	}{
		{length: 0x8000, pgsize: 0x1000, want: 1},
		{length: 0x8001, pgsize: 0x1000, want: 2}, // partial trailing page rounds up
		{length: 1, pgsize: 0x1000, want: 1},
		{length: 0x40000, pgsize: 0x1000, want: 8}, // 64 pages = 8 bytes exactly
		{length: 0x8000, pgsize: 0, wantErr: true},
		{length: 0x8000, pgsize: 0x1001, wantErr: true}, // not a power of two
		{length: 0, pgsize: 0x1000, wantErr: true},
	}
	for _, tt := range tests {
		got, err := BitmapSize(tt.length, tt.pgsize)
		if tt.wantErr {
			if !Is(err, InvalidArgument) {
				t.Errorf("BitmapSize(%#x, %#x) err = %v, want InvalidArgument", tt.length, tt.pgsize, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("BitmapSize(%#x, %#x) unexpected err: %v", tt.length, tt.pgsize, err)
			continue
		}
		if got != tt.want {
			t.Errorf("BitmapSize(%#x, %#x) = %d, want %d", tt.length, tt.pgsize, got, tt.want)
		}
	}
}

// Concurrent MarkDirty calls against distinct pages of the same byte never
// lose a bit to the atomic read-modify-write race between them.
func TestMarkDirtyConcurrentSetsEveryBit(t *testing.T) {
	c := newTestController(t, 8)
	idx, err := c.AddRegion(0, InvalidPASID, 0x1000*64, mustMemfd(t, 0x1000*64), 0, ProtRead|ProtWrite)
	if err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	if err := c.DirtyStart(0x1000); err != nil {
		t.Fatalf("DirtyStart: %v", err)
	}

	const pages = 64
	var g errgroup.Group
	for p := 0; p < pages; p++ {
		p := p
		g.Go(func() error {
			c.MarkDirty(SGEntry{RegionIndex: idx, Addr: uint64(p) * 0x1000, Length: 1})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent MarkDirty: %v", err)
	}

	out := make([]byte, pages/8)
	if err := c.DirtyGet(0, 0x1000*pages, 0x1000, out); err != nil {
		t.Fatalf("DirtyGet: %v", err)
	}
	for _, b := range out {
		if b != 0xff {
			t.Fatalf("bitmap = %v, want every bit set", out)
		}
	}

	drainAndClose(c)
}

// A MarkDirty call that happens-before a GetBitmap call is never lost to a
// concurrent drain of an unrelated page in the same tracked byte: draining
// clears the whole byte atomically, so a racing mark on a sibling page must
// survive for the next drain rather than being silently dropped.
func TestMarkDirtyRacingDrainIsNeverLost(t *testing.T) {
	c := newTestController(t, 8)
	idx, err := c.AddRegion(0, InvalidPASID, 0x1000*8, mustMemfd(t, 0x1000*8), 0, ProtRead|ProtWrite)
	if err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	if err := c.DirtyStart(0x1000); err != nil {
		t.Fatalf("DirtyStart: %v", err)
	}
	c.MarkDirty(SGEntry{RegionIndex: idx, Addr: 0, Length: 1})

	var g errgroup.Group
	racing := make([]byte, 1)
	g.Go(func() error {
		c.MarkDirty(SGEntry{RegionIndex: idx, Addr: 0x1000, Length: 1})
		return nil
	})
	g.Go(func() error {
		return c.DirtyGet(0, 0x1000*8, 0x1000, racing)
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent mark/drain: %v", err)
	}

	out := make([]byte, 1)
	if err := c.DirtyGet(0, 0x1000*8, 0x1000, out); err != nil {
		t.Fatalf("final DirtyGet: %v", err)
	}
	// Page 1's mark either landed in the racing drain or survived to
	// this one; either way bit 0 (page 0, marked before the race) has
	// already been consumed by the first drain and must read as clear.
	if out[0]&1 != 0 {
		t.Errorf("bit 0 reappeared after being drained: %#b", out[0])
	}
	if (racing[0]|out[0])&2 == 0 {
		t.Errorf("page 1's mark was lost: racing drain %#b, final drain %#b", racing[0], out[0])
	}

	drainAndClose(c)
}
