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
	"sync/atomic"

	"github.com/wilinz/vfudma/pkg/vfulog"
)

// CallbackKind names the single callback the controller can currently be
// inside of. It exists so the hosting framework can refuse operations that
// are unsafe during a given callback (e.g. re-entrant region removal).
type CallbackKind int32

const (
	// CallbackNone means the controller is not inside any callback.
	CallbackNone CallbackKind = iota
	// CallbackDMAUnregister means the controller is inside the
	// unregister callback passed to RemoveRegion or RemoveAllRegions.
	CallbackDMAUnregister
)

// Context is the contract the outer device-emulation framework provides to
// the controller: a log sink. The single-valued in-callback flag, which the
// controller sets before invoking a registered callback and clears after so
// the framework can detect unsafe re-entrancy, is kept only by a
// *BasicContext; other Context implementations carry no flag.
type Context interface {
	vfulog.Sink
}

// BasicContext is a minimal Context: a log sink plus the in-callback flag,
// usable directly by callers that don't need to hook into it further.
type BasicContext struct {
	vfulog.Sink

	inCB atomic.Int32
}

// NewBasicContext returns a BasicContext logging to sink.
func NewBasicContext(sink vfulog.Sink) *BasicContext {
	return &BasicContext{Sink: sink}
}

// InCallback reports the callback the controller currently believes it is
// executing inside of, for consumers that need to refuse re-entrant calls.
func (c *BasicContext) InCallback() CallbackKind {
	return CallbackKind(c.inCB.Load())
}

// runCallback marks ctx as executing inside kind for the duration of fn,
// clearing the flag afterward even if fn panics. Callers are expected to
// only call runCallback when there is an actual callback to run; the
// in-callback flag should never be touched for a no-op removal.
func runCallback(ctx Context, kind CallbackKind, fn func()) {
	bc, ok := ctx.(*BasicContext)
	if !ok {
		fn()
		return
	}
	bc.inCB.Store(int32(kind))
	defer bc.inCB.Store(int32(CallbackNone))
	fn()
}
