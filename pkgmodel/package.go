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

// Package pkgmodel defines the subset of an enclosing tool's package record
// that the scan controller reads. The full package type belongs to the
// enclosing tool; this is the narrow view the controller depends on.
package pkgmodel

import "github.com/scancore/scanctl/identifier"

// SourceArtifact describes where a downloadable source archive for a
// package can be found, as reported by the enclosing tool (not yet
// validated — that happens during provenance resolution).
type SourceArtifact struct {
	URL  string
	Hash string
}

// VCSInfo describes where a package's VCS checkout can be found, as
// reported by the enclosing tool.
type VCSInfo struct {
	Type     string
	URL      string
	Revision string
	Path     string
}

// Package is the subset of package metadata the controller reads.
type Package struct {
	ID               identifier.Identifier
	SourceArtifact   SourceArtifact
	VCSInfo          VCSInfo
	ConcludedLicense string
	Authors          []string
	MetadataOnly     bool
	Labels           map[string]string
}

// HasConcludedLicense reports whether a human has already concluded a
// license for this package.
func (p Package) HasConcludedLicense() bool {
	return p.ConcludedLicense != ""
}
