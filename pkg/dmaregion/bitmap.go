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

// BitmapSize returns the number of bytes needed to hold one dirty bit per
// pgsize-sized page of a length-byte range: ceil(ceil(length/pgsize)/8).
func BitmapSize(length, pgsize uint64) (uint64, error) {
	if pgsize == 0 || !hostarch.IsPowerOfTwo(pgsize) {
		return 0, newError(InvalidArgument, "bitmap_size", errBadPageSize{pgsize})
	}
	if length == 0 {
		return 0, newError(InvalidArgument, "bitmap_size", errZeroLength{})
	}
	pages := (length + pgsize - 1) / pgsize
	return (pages + 7) / 8, nil
}

type errBadPageSize struct{ pgsize uint64 }

func (e errBadPageSize) Error() string {
	return "page size must be a nonzero power of two"
}

type errZeroLength struct{}

func (errZeroLength) Error() string { return "length must be nonzero" }

// drainByte reads and clears byte idx of bm. A zero peek skips the atomic
// exchange entirely: it's a racy fast path, but any bit set by a racing
// OR after the peek is simply caught on the next drain, so no bit is ever
// lost.
func drainByte(bm *atomicbitops.Bitmap, idx int) byte {
	if bm.Peek(idx) == 0 {
		return 0
	}
	return bm.Drain(idx)
}

// resampleSamePageSize drains bm byte-for-byte into dst.
func resampleSamePageSize(bm *atomicbitops.Bitmap, dst []byte) {
	for i := range dst {
		dst[i] = drainByte(bm, i)
	}
}

// resampleExtend drains a bitmap logged at srcPg granularity into dst at a
// finer dstPg granularity, repeating each source bit factor = srcPg/dstPg
// times in LSB-first order.
func resampleExtend(bm *atomicbitops.Bitmap, srcPg uint64, dst []byte, dstPg uint64) {
	factor := srcPg / dstPg
	dstBits := uint64(len(dst)) * 8
	var dstBit uint64

	for srcByte := 0; srcByte < bm.Len(); srcByte++ {
		if dstBit >= dstBits {
			return
		}
		b := drainByte(bm, srcByte)
		for bit := 0; bit < 8; bit++ {
			srcBit := (b >> uint(bit)) & 1
			for k := uint64(0); k < factor; k++ {
				if dstBit >= dstBits {
					return
				}
				if srcBit != 0 {
					dst[dstBit/8] |= 1 << (dstBit % 8)
				}
				dstBit++
			}
		}
	}
}

// resampleCombine drains a bitmap logged at srcPg granularity into dst at
// a coarser dstPg granularity, OR-folding every factor = dstPg/srcPg
// source bits into one destination bit, in LSB-first order.
func resampleCombine(bm *atomicbitops.Bitmap, srcPg uint64, dst []byte, dstPg uint64) {
	factor := dstPg / srcPg
	dstBits := uint64(len(dst)) * 8
	var dstBit uint64
	var consumed uint64

	for srcByte := 0; srcByte < bm.Len(); srcByte++ {
		if dstBit >= dstBits {
			return
		}
		b := drainByte(bm, srcByte)
		for bit := 0; bit < 8; bit++ {
			srcBit := (b >> uint(bit)) & 1
			if srcBit != 0 {
				dst[dstBit/8] |= 1 << (dstBit % 8)
			}
			consumed++
			if consumed%factor == 0 {
				dstBit++
				if dstBit >= dstBits {
					return
				}
			}
		}
	}
}
