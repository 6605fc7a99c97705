// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the leveled logging used throughout the scan
// controller and its collaborators. Recoverable conditions — a storage
// backend dropping a write, a dangling submodule directory that won't
// delete — are logged here and the run continues; fatal conditions are
// returned as errors instead of logged, so nothing in this package ever
// terminates the process.
//
// The zero configuration writes level-prefixed lines to stderr through the
// standard library. Tools embedding the controller replace that with their
// own sink via SetLogger.
package log

import (
	"fmt"
	stdlog "log"
	"os"
)

// Level is the severity of a log record. The controller emits Debug for
// per-package trace detail (skip decisions, cache hits), Warn for dropped
// writes and cleanup failures, and Error for failures that also surface as
// issues in scan results.
type Level int

// Level values, in increasing severity.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// Logger is the sink every log record in this module flows through. A
// single leveled entry point keeps replacement implementations to one
// method.
type Logger interface {
	Logf(level Level, format string, args ...any)
}

// LoggerFunc adapts a plain function to Logger.
type LoggerFunc func(level Level, format string, args ...any)

// Logf implements Logger.
func (f LoggerFunc) Logf(level Level, format string, args ...any) { f(level, format, args...) }

var logger Logger = NewStandard(LevelInfo)

// SetLogger replaces the package-level sink. It is meant to be called once
// during setup, before any scan run starts; it is not safe to call
// concurrently with logging.
func SetLogger(l Logger) { logger = l }

// Errorf logs a formatted record at LevelError.
func Errorf(format string, args ...any) { logger.Logf(LevelError, format, args...) }

// Warnf logs a formatted record at LevelWarn.
func Warnf(format string, args ...any) { logger.Logf(LevelWarn, format, args...) }

// Infof logs a formatted record at LevelInfo.
func Infof(format string, args ...any) { logger.Logf(LevelInfo, format, args...) }

// Debugf logs a formatted record at LevelDebug.
func Debugf(format string, args ...any) { logger.Logf(LevelDebug, format, args...) }

// Standard is the default Logger: records at or above Min are written
// level-prefixed through a standard library logger, the rest are dropped.
type Standard struct {
	Min Level
	Out *stdlog.Logger
}

// NewStandard returns a Standard writing to stderr with the stdlib's
// default flags, dropping records below min.
func NewStandard(min Level) *Standard {
	return &Standard{Min: min, Out: stdlog.New(os.Stderr, "", stdlog.LstdFlags)}
}

// Logf implements Logger.
func (s *Standard) Logf(level Level, format string, args ...any) {
	if level < s.Min {
		return
	}
	s.Out.Printf("%s %s", level, fmt.Sprintf(format, args...))
}
