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

package fdinfo

import (
	"testing"

	"golang.org/x/sys/unix"
)

func mustMemfd(t *testing.T) int32 {
	t.Helper()
	fd, err := unix.MemfdCreate("fdinfo-test", 0)
	if err != nil {
		t.Fatalf("MemfdCreate: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return int32(fd)
}

func TestSameFileIdenticalFD(t *testing.T) {
	fd := mustMemfd(t)
	if !SameFile(fd, fd) {
		t.Error("SameFile(fd, fd) = false, want true")
	}
}

func TestSameFileDupedFD(t *testing.T) {
	fd := mustMemfd(t)
	dup, err := unix.Dup(int(fd))
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer unix.Close(dup)
	if !SameFile(fd, int32(dup)) {
		t.Error("SameFile(fd, dup(fd)) = false, want true")
	}
}

func TestSameFileDistinctFiles(t *testing.T) {
	a, b := mustMemfd(t), mustMemfd(t)
	if SameFile(a, b) {
		t.Error("SameFile(a, b) = true for two distinct memfds, want false")
	}
}

// Equal fd numbers short-circuit to true without ever calling fstat, even
// when the fd doesn't name an open file.
func TestSameFileEqualNumbersShortCircuit(t *testing.T) {
	if !SameFile(-1, -1) {
		t.Error("SameFile(-1, -1) = false, want true: identical fd numbers must short-circuit")
	}
}

func TestSameFileDistinctInvalidFDs(t *testing.T) {
	if SameFile(-1, -2) {
		t.Error("SameFile(-1, -2) = true, want false")
	}
}

func TestBlockSize(t *testing.T) {
	fd := mustMemfd(t)
	if _, err := BlockSize(fd); err != nil {
		t.Errorf("BlockSize: %v", err)
	}
}
