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

package log_test

import (
	"bytes"
	stdlog "log"
	"strings"
	"testing"

	"github.com/scancore/scanctl/log"
)

func TestStandardDropsBelowMin(t *testing.T) {
	var buf bytes.Buffer
	s := &log.Standard{Min: log.LevelWarn, Out: stdlog.New(&buf, "", 0)}

	s.Logf(log.LevelDebug, "checkout %s reused", "abc")
	s.Logf(log.LevelInfo, "scanned %d packages", 3)
	s.Logf(log.LevelWarn, "store write dropped: %v", "disk full")
	s.Logf(log.LevelError, "merge failed")

	got := buf.String()
	if strings.Contains(got, "checkout") || strings.Contains(got, "scanned") {
		t.Errorf("records below Min were written:\n%s", got)
	}
	if !strings.Contains(got, "WARN store write dropped: disk full") {
		t.Errorf("warn record missing or unprefixed:\n%s", got)
	}
	if !strings.Contains(got, "ERROR merge failed") {
		t.Errorf("error record missing or unprefixed:\n%s", got)
	}
}

func TestSetLoggerRoutesPackageFunctions(t *testing.T) {
	type record struct {
		level log.Level
		text  string
	}
	var records []record
	log.SetLogger(log.LoggerFunc(func(level log.Level, format string, args ...any) {
		records = append(records, record{level: level, text: format})
	}))
	defer log.SetLogger(log.NewStandard(log.LevelInfo))

	log.Debugf("d")
	log.Infof("i")
	log.Warnf("w")
	log.Errorf("e")

	want := []record{
		{log.LevelDebug, "d"},
		{log.LevelInfo, "i"},
		{log.LevelWarn, "w"},
		{log.LevelError, "e"},
	}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i, r := range records {
		if r != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, r, want[i])
		}
	}
}

func TestLevelString(t *testing.T) {
	for level, want := range map[log.Level]string{
		log.LevelDebug: "DEBUG",
		log.LevelInfo:  "INFO",
		log.LevelWarn:  "WARN",
		log.LevelError: "ERROR",
	} {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}
