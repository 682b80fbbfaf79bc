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

// Package hostarch holds the page-size and alignment arithmetic shared by
// everything that maps host memory on behalf of a guest address space.
package hostarch

import "golang.org/x/sys/unix"

// PageSize is the host's page size, as reported by the kernel at process
// start. It never changes over the life of a process.
var PageSize = uint64(unix.Getpagesize())

// IsPowerOfTwo reports whether v is a nonzero power of two.
func IsPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// AlignDown rounds addr down to the nearest multiple of align, which must be
// a power of two.
func AlignDown(addr, align uint64) uint64 {
	return addr &^ (align - 1)
}

// AlignUp rounds addr up to the nearest multiple of align, which must be a
// power of two.
func AlignUp(addr, align uint64) uint64 {
	return AlignDown(addr+align-1, align)
}

// Max returns the larger of a and b.
func Max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
