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

// Package assembler splits whole-tree scan results into per-provenance
// shards, merges shards back into one ScanResult per scanner, and applies
// the two post-merge finding filters.
package assembler

import (
	"fmt"

	"github.com/scancore/scanctl/fs/pathutil"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/scanresult"
)

// Split partitions result's findings and issues by longest-prefix match of
// their location (or, for issues, their attributed provenance) against
// nested's sub-repository paths, stripping the matched prefix so each
// finding's path becomes relative to its own provenance's root. Every
// provenance in nested gets an entry in the returned map, even if empty,
// so the controller can mark it as having a result for this scanner.
func Split(result scanresult.ScanResult, nested provenance.NestedProvenance) (scanresult.NestedProvenanceScanResult, error) {
	if err := nested.Validate(); err != nil {
		return scanresult.NestedProvenanceScanResult{}, fmt.Errorf("assembler.Split: %w", err)
	}

	allProvenances := nested.AllProvenances()
	subPaths := nested.SortedPaths() // longest-prefix-first

	summaries := make(map[string]*scanresult.ScanSummary, len(allProvenances))
	for path := range allProvenances {
		summaries[path] = &scanresult.ScanSummary{StartTime: result.Summary.StartTime, EndTime: result.Summary.EndTime}
	}

	for _, f := range result.Summary.LicenseFindings {
		prefix := pathutil.LongestPrefix(f.Location.Path, subPaths)
		f.Location.Path = pathutil.StripPrefix(f.Location.Path, prefix)
		summaries[prefix].LicenseFindings = append(summaries[prefix].LicenseFindings, f)
	}
	for _, f := range result.Summary.CopyrightFindings {
		prefix := pathutil.LongestPrefix(f.Location.Path, subPaths)
		f.Location.Path = pathutil.StripPrefix(f.Location.Path, prefix)
		summaries[prefix].CopyrightFindings = append(summaries[prefix].CopyrightFindings, f)
	}
	for _, issue := range result.Summary.Issues {
		path := provenancePath(issue.Provenance, allProvenances)
		summaries[path].Issues = append(summaries[path].Issues, issue)
	}

	results := make(map[string][]scanresult.ScanResult, len(allProvenances))
	for path, summary := range summaries {
		results[path] = []scanresult.ScanResult{{
			Provenance: allProvenances[path],
			Scanner:    result.Scanner,
			Summary:    *summary,
		}}
	}
	return scanresult.NestedProvenanceScanResult{Nested: nested, Results: results}, nil
}

// provenancePath finds the path key whose provenance identifies the same
// snapshot as prov, defaulting to the root ("") when prov doesn't match
// any known sub-repository (e.g. it carries the caller's original,
// path-bearing provenance rather than a stripped one).
func provenancePath(prov provenance.Provenance, all map[string]provenance.Provenance) string {
	for path, candidate := range all {
		if candidate.Equal(prov.WithoutPath()) {
			return path
		}
	}
	return ""
}
