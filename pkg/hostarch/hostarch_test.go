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

package hostarch

import "testing"

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []uint64{1, 2, 4, 0x1000, 1 << 40} {
		if !IsPowerOfTwo(v) {
			t.Errorf("IsPowerOfTwo(%#x) = false, want true", v)
		}
	}
	for _, v := range []uint64{0, 3, 5, 0x1001, 6} {
		if IsPowerOfTwo(v) {
			t.Errorf("IsPowerOfTwo(%#x) = true, want false", v)
		}
	}
}

func TestAlignDownUp(t *testing.T) {
	tests := []struct {
		addr, align      uint64
		wantDown, wantUp uint64
	}{
		{addr: 0x1000, align: 0x1000, wantDown: 0x1000, wantUp: 0x1000},
		{addr: 0x1001, align: 0x1000, wantDown: 0x1000, wantUp: 0x2000},
		{addr: 0x1fff, align: 0x1000, wantDown: 0x1000, wantUp: 0x2000},
		{addr: 0, align: 0x1000, wantDown: 0, wantUp: 0},
	}
	for _, tt := range tests {
		if got := AlignDown(tt.addr, tt.align); got != tt.wantDown {
			t.Errorf("AlignDown(%#x, %#x) = %#x, want %#x", tt.addr, tt.align, got, tt.wantDown)
		}
		if got := AlignUp(tt.addr, tt.align); got != tt.wantUp {
			t.Errorf("AlignUp(%#x, %#x) = %#x, want %#x", tt.addr, tt.align, got, tt.wantUp)
		}
	}
}

func TestMax(t *testing.T) {
	if Max(3, 5) != 5 {
		t.Error("Max(3, 5) != 5")
	}
	if Max(5, 3) != 5 {
		t.Error("Max(5, 3) != 5")
	}
}
