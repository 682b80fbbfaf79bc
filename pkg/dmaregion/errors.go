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
	"errors"
	"fmt"
)

// Kind classifies an Error the way the hosting framework's errno-based
// contract does: InvalidArgument, NotFound, Unsupported, Resource.
type Kind int

// The four error kinds named in the controller's error handling design.
const (
	_ Kind = iota
	InvalidArgument
	NotFound
	Unsupported
	Resource
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case NotFound:
		return "not found"
	case Unsupported:
		return "unsupported"
	case Resource:
		return "resource"
	default:
		return "unknown error kind"
	}
}

// Error is the error type returned by dmaregion operations, except for the
// *ShortBuffer that Translate returns when its sg buffer is too small. Resource
// errors wrap the syscall that failed, so callers that need the errno can
// recover it with errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dmaregion: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("dmaregion: %s: %s", e.Op, e.Kind)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ShortBuffer is returned by Translate when the caller's sg buffer is too
// small. Required is the number of entries the call would have produced
// given enough room; spec callers that depended on the legacy
// "-count-1" encoding can reconstruct it as -Required-1.
type ShortBuffer struct {
	Required int
}

func (e *ShortBuffer) Error() string {
	return fmt.Sprintf("dmaregion: translate: sg buffer too small, need %d entries", e.Required)
}
