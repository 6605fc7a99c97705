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

// Package scanresult defines the scanner-output data model: findings,
// summaries and the per-provenance/per-package result trees the controller
// assembles from them.
package scanresult

import (
	"time"

	"github.com/scancore/scanctl/provenance"
)

// ScannerDetails identifies a scanner engine and its effective
// configuration.
type ScannerDetails struct {
	Name          string
	Version       string
	Configuration string
}

// Matcher decides whether a stored ScannerDetails is an acceptable
// substitute for a scan that would otherwise be run fresh. A nil Matcher
// means this scanner's outputs must never be treated as replayable, and
// they are never persisted.
type Matcher func(stored ScannerDetails) bool

// ExactMatcher returns a Matcher that accepts only byte-identical details.
func ExactMatcher(want ScannerDetails) Matcher {
	return func(stored ScannerDetails) bool { return stored == want }
}

// Severity is the severity of an Issue.
type Severity int

// Severity values.
const (
	SeverityHint Severity = iota
	SeverityWarning
	SeverityError
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "HINT"
	}
}

// Issue is a non-finding diagnostic produced while scanning, e.g. a failed
// download or a resolution failure. Provenance records which part of a
// nested tree the issue is attributed to, and is preserved across
// split/merge.
type Issue struct {
	Source     string
	Severity   Severity
	Message    string
	Provenance provenance.Provenance
}

// Location is the source location of a Finding, relative to the root of
// whichever provenance the Finding currently belongs to.
type Location struct {
	Path      string
	StartLine int
	EndLine   int
}

// FindingKind discriminates license vs. copyright findings.
type FindingKind int

// FindingKind values.
const (
	FindingKindLicense FindingKind = iota
	FindingKindCopyright
)

// Finding is a single license or copyright detection.
type Finding struct {
	Kind       FindingKind
	Value      string // SPDX expression or copyright statement text
	Location   Location
	Confidence float64
}

// ScanSummary is the output of one scanner run against one provenance.
type ScanSummary struct {
	StartTime         time.Time
	EndTime           time.Time
	LicenseFindings   []Finding
	CopyrightFindings []Finding
	Issues            []Issue
}

// Empty reports whether the summary carries no findings and no issues.
func (s ScanSummary) Empty() bool {
	return len(s.LicenseFindings) == 0 && len(s.CopyrightFindings) == 0 && len(s.Issues) == 0
}

// ScanResult is the result of running one scanner against one provenance.
type ScanResult struct {
	Provenance provenance.Provenance
	Scanner    ScannerDetails
	Summary    ScanSummary
}

// NestedProvenanceScanResult bundles a NestedProvenance with a map from each
// contained provenance (keyed by its sub-tree path, "" for the root) to the
// list of ScanResults gathered for it, one per scanner.
type NestedProvenanceScanResult struct {
	Nested  provenance.NestedProvenance
	Results map[string][]ScanResult
}

// Complete reports whether every provenance in the tree has at least one
// result.
func (n NestedProvenanceScanResult) Complete() bool {
	for path := range n.Nested.AllProvenances() {
		if len(n.Results[path]) == 0 {
			return false
		}
	}
	return true
}

// CompleteForScanner reports whether every provenance in the tree has a
// result for the named scanner specifically.
func (n NestedProvenanceScanResult) CompleteForScanner(scannerName string) bool {
	for path := range n.Nested.AllProvenances() {
		found := false
		for _, r := range n.Results[path] {
			if r.Scanner.Name == scannerName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
