// Copyright 2024 Google LLC
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

// Package plugin collects the common code shared by all scanner adapters
// (PackageScanner, ProvenanceScanner, PathScanner).
package plugin

import "fmt"

// Plugin is the part of the scanner-adapter interface shared between the
// package, provenance and path variants.
type Plugin interface {
	// A unique name used to identify this scanner.
	Name() string
	// Scanner version, bumped whenever the detection logic changes in a way
	// that should invalidate previously cached results.
	Version() string
}

// LINT.IfChange

// Status contains the outcome of one scanner over a whole scan run.
type Status struct {
	Name    string
	Version string
	Status  *ScanStatus
}

// ScanStatus is the status of a scan run. In case the scan fails, FailureReason contains details.
type ScanStatus struct {
	Status        ScanStatusEnum
	FailureReason string
}

// ScanStatusEnum is the enum for the scan status.
type ScanStatusEnum int

// ScanStatusEnum values.
const (
	ScanStatusUnspecified ScanStatusEnum = iota
	ScanStatusSucceeded
	ScanStatusFailed
)

// LINT.ThenChange(../controller/run_record.go)

// StatusFromErr returns a successful or failed scan status for a given
// plugin based on an error.
func StatusFromErr(p Plugin, err error) *Status {
	status := &ScanStatus{Status: ScanStatusSucceeded}
	if err != nil {
		status.Status = ScanStatusFailed
		status.FailureReason = err.Error()
	}
	return &Status{
		Name:    p.Name(),
		Version: p.Version(),
		Status:  status,
	}
}

// String returns a string representation of the scan status.
func (s *ScanStatus) String() string {
	switch s.Status {
	case ScanStatusSucceeded:
		return "SUCCEEDED"
	case ScanStatusFailed:
		return fmt.Sprintf("FAILED: %s", s.FailureReason)
	}
	return "UNSPECIFIED"
}
