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

// Package pathutil provides helpers for the forward-slash, repository-relative
// paths used by findings and nested-provenance trees. These are never OS
// paths: "" is the tree root, the separator is always "/", and there is no
// trailing slash.
package pathutil

import "strings"

// Join joins a sub-tree prefix and a path relative to that sub-tree. Either
// side may be empty.
func Join(prefix, rel string) string {
	switch {
	case prefix == "":
		return rel
	case rel == "":
		return prefix
	default:
		return prefix + "/" + rel
	}
}

// LongestPrefix returns the longest candidate that is a whole-segment prefix
// of path, or "" (the tree root) if none matches. candidates must already be
// sorted by descending length (see provenance.NestedProvenance.SortedPaths),
// so the first match is the longest.
func LongestPrefix(path string, candidates []string) string {
	for _, c := range candidates {
		if path == c || strings.HasPrefix(path, c+"/") {
			return c
		}
	}
	return ""
}

// StripPrefix removes a whole-segment prefix and its trailing separator from
// path. Stripping the root prefix "" is a no-op.
func StripPrefix(path, prefix string) string {
	if prefix == "" {
		return path
	}
	if path == prefix {
		return ""
	}
	return strings.TrimPrefix(path, prefix+"/")
}

// Within reports whether path lies inside the sub-tree rooted at root. Every
// path is within the tree root "".
func Within(path, root string) bool {
	return root == "" || path == root || strings.HasPrefix(path, root+"/")
}
