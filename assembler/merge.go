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

package assembler

import (
	"sort"

	"github.com/scancore/scanctl/fs/pathutil"
	"github.com/scancore/scanctl/scanresult"
)

// mergeAccumulator tracks one scanner's in-progress merged result.
type mergeAccumulator struct {
	result   scanresult.ScanResult
	hasStart bool
}

// Merge re-prefixes each finding with its provenance's path in the tree
// and unions results by scanner, producing one ScanResult per distinct
// scanner represented in n. Start/end times are the min/max across
// contributing summaries; issues are unioned as-is.
// Returned results are ordered by first appearance when walking n's
// provenances in a fixed (root-first, then alphabetical) order, so
// Merge is deterministic given identical inputs.
func Merge(n scanresult.NestedProvenanceScanResult) ([]scanresult.ScanResult, error) {
	bucket := map[scanresult.ScannerDetails]*mergeAccumulator{}
	var order []scanresult.ScannerDetails

	for _, path := range mergeOrder(n) {
		for _, r := range n.Results[path] {
			acc, ok := bucket[r.Scanner]
			if !ok {
				acc = &mergeAccumulator{result: scanresult.ScanResult{
					Provenance: n.Nested.Root,
					Scanner:    r.Scanner,
				}}
				bucket[r.Scanner] = acc
				order = append(order, r.Scanner)
			}
			acc.merge(path, r.Summary)
		}
	}

	out := make([]scanresult.ScanResult, 0, len(order))
	for _, scanner := range order {
		out = append(out, bucket[scanner].result)
	}
	return out, nil
}

func (acc *mergeAccumulator) merge(path string, src scanresult.ScanSummary) {
	dst := &acc.result.Summary
	for _, f := range src.LicenseFindings {
		f.Location.Path = pathutil.Join(path, f.Location.Path)
		dst.LicenseFindings = append(dst.LicenseFindings, f)
	}
	for _, f := range src.CopyrightFindings {
		f.Location.Path = pathutil.Join(path, f.Location.Path)
		dst.CopyrightFindings = append(dst.CopyrightFindings, f)
	}
	dst.Issues = append(dst.Issues, src.Issues...)

	if src.StartTime.IsZero() && src.EndTime.IsZero() {
		return
	}
	if !acc.hasStart {
		dst.StartTime, dst.EndTime = src.StartTime, src.EndTime
		acc.hasStart = true
		return
	}
	if src.StartTime.Before(dst.StartTime) {
		dst.StartTime = src.StartTime
	}
	if src.EndTime.After(dst.EndTime) {
		dst.EndTime = src.EndTime
	}
}

// mergeOrder returns the root path ("") followed by the remaining paths
// in n.Results sorted alphabetically, giving Merge a canonical,
// map-iteration-independent walk order.
func mergeOrder(n scanresult.NestedProvenanceScanResult) []string {
	paths := make([]string, 0, len(n.Results))
	for path := range n.Results {
		if path != "" {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	if _, hasRoot := n.Results[""]; hasRoot {
		return append([]string{""}, paths...)
	}
	return paths
}
