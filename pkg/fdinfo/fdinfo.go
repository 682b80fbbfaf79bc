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

// Package fdinfo answers the two questions the DMA region registry needs
// about a client-supplied file descriptor: its preferred I/O block size,
// and whether it names the same underlying file as another descriptor.
package fdinfo

import "golang.org/x/sys/unix"

// BlockSize returns the descriptor's preferred I/O block size, as reported
// by fstat(2). Some backing files (e.g. a shmem fd) report zero; callers
// treat that as "no preference" rather than as an error.
func BlockSize(fd int32) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(fd), &st); err != nil {
		return 0, err
	}
	return int64(st.Blksize), nil
}

// SameFile reports whether fd1 and fd2 refer to the same underlying file,
// by device+inode equality. Identical descriptor numbers short-circuit to
// true without a syscall; any fstat failure is treated as "not the same".
func SameFile(fd1, fd2 int32) bool {
	if fd1 == fd2 {
		return true
	}
	var st1, st2 unix.Stat_t
	if err := unix.Fstat(int(fd1), &st1); err != nil {
		return false
	}
	if err := unix.Fstat(int(fd2), &st2); err != nil {
		return false
	}
	return st1.Dev == st2.Dev && st1.Ino == st2.Ino
}
