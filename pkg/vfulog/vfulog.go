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

// Package vfulog defines the logging sink that the outer device-emulation
// context supplies to the DMA region controller, plus a logrus-backed
// default implementation.
package vfulog

import "github.com/sirupsen/logrus"

// Sink is the minimal logging contract the core consumes. Levels mirror
// {error, info, debug} from the hosting framework's vfu_log, plus a
// warning level.
type Sink interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
}

// logrusSink adapts a *logrus.Logger (or *logrus.Entry) to Sink.
type logrusSink struct {
	log logrus.FieldLogger
}

// NewLogrus returns a Sink backed by log.
func NewLogrus(log logrus.FieldLogger) Sink {
	return logrusSink{log: log}
}

func (s logrusSink) Debugf(format string, args ...any)   { s.log.Debugf(format, args...) }
func (s logrusSink) Infof(format string, args ...any)    { s.log.Infof(format, args...) }
func (s logrusSink) Warningf(format string, args ...any) { s.log.Warnf(format, args...) }
func (s logrusSink) Errorf(format string, args ...any)   { s.log.Errorf(format, args...) }

type discard struct{}

func (discard) Debugf(string, ...any)   {}
func (discard) Infof(string, ...any)    {}
func (discard) Warningf(string, ...any) {}
func (discard) Errorf(string, ...any)   {}

// Discard is a Sink that drops every message; it is the default for tests
// that don't care about log output.
var Discard Sink = discard{}
