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
	"github.com/gobwas/glob"

	"github.com/scancore/scanctl/fs/pathutil"
	"github.com/scancore/scanctl/scanresult"
)

// FilterByVCSPath retains only the findings located under path (the
// package's original VCS path within its repository) plus any finding
// whose path matches one of licenseFilePatterns regardless of path, so a
// top-level LICENSE file is never dropped just because the package of
// interest lives in a subdirectory. Issues are never filtered; they carry
// diagnostic information about the whole scan, not file contents.
func FilterByVCSPath(result scanresult.ScanResult, path string, licenseFilePatterns []glob.Glob) scanresult.ScanResult {
	keep := func(p string) bool {
		if pathutil.Within(p, path) {
			return true
		}
		for _, pattern := range licenseFilePatterns {
			if pattern.Match(p) {
				return true
			}
		}
		return false
	}
	result.Summary.LicenseFindings = filterFindings(result.Summary.LicenseFindings, keep)
	result.Summary.CopyrightFindings = filterFindings(result.Summary.CopyrightFindings, keep)
	return result
}

// FilterByIgnorePatterns drops any finding whose location path matches one
// of the configured ignore globs. Issues are left untouched, matching
// FilterByVCSPath.
func FilterByIgnorePatterns(result scanresult.ScanResult, ignore []glob.Glob) scanresult.ScanResult {
	keep := func(p string) bool {
		for _, pattern := range ignore {
			if pattern.Match(p) {
				return false
			}
		}
		return true
	}
	result.Summary.LicenseFindings = filterFindings(result.Summary.LicenseFindings, keep)
	result.Summary.CopyrightFindings = filterFindings(result.Summary.CopyrightFindings, keep)
	return result
}

func filterFindings(findings []scanresult.Finding, keep func(path string) bool) []scanresult.Finding {
	out := findings[:0]
	for _, f := range findings {
		if keep(f.Location.Path) {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CompileGlobs compiles a set of glob pattern strings, skipping empty
// patterns. Callers (the controller, config loading) use this once at
// startup rather than compiling per scan.
func CompileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}
