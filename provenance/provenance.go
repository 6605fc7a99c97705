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

// Package provenance defines the closed set of ways a package's source code
// can be pinned to an immutable snapshot, plus the nested-provenance tree
// that maps sub-tree paths to embedded repositories.
//
// Provenance is modeled as a tagged sum type (Kind + the field relevant to
// that kind) rather than an interface, so callers dispatch with exhaustive
// switches instead of dynamic type assertions.
package provenance

import (
	"fmt"
	"strings"
)

// Kind discriminates the Provenance sum type.
type Kind int

// Kind values. Only KindArtifact and KindRepository are "Known" — they may
// be scanned. KindUnknown is a sentinel for failed resolution and must
// never flow into the scan pipeline.
const (
	KindUnknown Kind = iota
	KindArtifact
	KindRepository
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindArtifact:
		return "artifact"
	case KindRepository:
		return "repository"
	default:
		return "unknown"
	}
}

// Artifact identifies a downloadable source archive by its fetch URL and
// content hash.
type Artifact struct {
	URL  string
	Hash string // e.g. "sha256:abcd..."
}

// Repository identifies a specific revision of a VCS checkout. Path
// restricts attention to a sub-tree of the working copy; it is "" for the
// root of a checkout.
type Repository struct {
	VCSType           string
	URL               string
	RequestedRevision string
	ResolvedRevision  string
	Path              string
}

// WithoutPath returns a copy of r with Path cleared, used whenever the
// controller needs to key work by "the whole checkout" regardless of which
// sub-tree an individual package cares about.
func (r Repository) WithoutPath() Repository {
	r.Path = ""
	return r
}

// Provenance is the sum type. Exactly one of Artifact/Repository is
// meaningful, selected by Kind; KindUnknown carries neither.
type Provenance struct {
	Kind       Kind
	Artifact   Artifact
	Repository Repository
}

// Unknown is the sentinel provenance for failed resolution.
var Unknown = Provenance{Kind: KindUnknown}

// FromArtifact builds a Known provenance around an Artifact.
func FromArtifact(a Artifact) Provenance {
	return Provenance{Kind: KindArtifact, Artifact: a}
}

// FromRepository builds a Known provenance around a Repository.
func FromRepository(r Repository) Provenance {
	return Provenance{Kind: KindRepository, Repository: r}
}

// IsKnown reports whether p may be scanned (Artifact or Repository).
func (p Provenance) IsKnown() bool {
	return p.Kind == KindArtifact || p.Kind == KindRepository
}

// WithoutPath returns p with any Repository.Path cleared. A no-op for
// Artifact and Unknown provenances.
func (p Provenance) WithoutPath() Provenance {
	if p.Kind == KindRepository {
		p.Repository = p.Repository.WithoutPath()
	}
	return p
}

// Path returns the Repository sub-tree path, or "" for non-repository
// provenances.
func (p Provenance) Path() string {
	if p.Kind == KindRepository {
		return p.Repository.Path
	}
	return ""
}

// Key returns the stable cache/storage key for p:
//   - artifact:<url>@<hash>
//   - repository:<vcs-type>:<url>@<resolved-revision>
//
// The key never includes Path: provenance-based stores hold only
// whole-repository results, so callers key by the path-stripped form.
func (p Provenance) Key() string {
	switch p.Kind {
	case KindArtifact:
		return fmt.Sprintf("artifact:%s@%s", p.Artifact.URL, p.Artifact.Hash)
	case KindRepository:
		return fmt.Sprintf("repository:%s:%s@%s", p.Repository.VCSType, p.Repository.URL, p.Repository.ResolvedRevision)
	default:
		return "unknown"
	}
}

// Equal reports whether p and o identify the same snapshot, ignoring
// RequestedRevision (which is an input hint, not part of identity).
func (p Provenance) Equal(o Provenance) bool {
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case KindArtifact:
		return p.Artifact == o.Artifact
	case KindRepository:
		return p.Repository.VCSType == o.Repository.VCSType &&
			p.Repository.URL == o.Repository.URL &&
			p.Repository.ResolvedRevision == o.Repository.ResolvedRevision &&
			p.Repository.Path == o.Repository.Path
	default:
		return true
	}
}

// NestedProvenance bundles a root Known provenance with a map of
// sub-repository provenances keyed by their path within the root tree.
//
// Invariants:
//   - Path keys are forward-slash, no trailing slash, non-overlapping
//     prefixes.
//   - A sub-repository's Repository.Path is never empty; the root alone
//     occupies "".
//   - For an Artifact root, SubRepositories is always empty.
type NestedProvenance struct {
	Root            Provenance
	SubRepositories map[string]Repository
}

// Validate checks the NestedProvenance invariants. It does not check that
// path keys use forward slashes or that they are non-overlapping prefixes.
func (n NestedProvenance) Validate() error {
	if !n.Root.IsKnown() {
		return fmt.Errorf("nested provenance root must be Known, got %s", n.Root.Kind)
	}
	if n.Root.Kind == KindArtifact && len(n.SubRepositories) > 0 {
		return fmt.Errorf("artifact root must not have sub-repositories")
	}
	for path, repo := range n.SubRepositories {
		if path == "" {
			return fmt.Errorf("sub-repository path must not be empty")
		}
		if strings.HasSuffix(path, "/") {
			return fmt.Errorf("sub-repository path %q must not have a trailing slash", path)
		}
		if repo.Path == "" {
			return fmt.Errorf("sub-repository at %q must have a non-empty Repository.Path", path)
		}
	}
	return nil
}

// AllProvenances returns the root provenance followed by every
// sub-repository provenance, each path-stripped to its own identity (a
// sub-repository is itself a whole-repository provenance once you're
// inside its tree).
func (n NestedProvenance) AllProvenances() map[string]Provenance {
	out := make(map[string]Provenance, len(n.SubRepositories)+1)
	out[""] = n.Root.WithoutPath()
	for path, repo := range n.SubRepositories {
		out[path] = FromRepository(repo).WithoutPath()
	}
	return out
}

// SortedPaths returns the sub-repository paths sorted by descending length,
// which yields longest-prefix-first iteration order — exactly what
// longest-prefix matching during split/merge needs.
func (n NestedProvenance) SortedPaths() []string {
	paths := make([]string, 0, len(n.SubRepositories))
	for p := range n.SubRepositories {
		paths = append(paths, p)
	}
	// Simple insertion sort by descending length; trees are small (typically
	// single-digit submodule counts) so an O(n^2) sort keeps this dependency-free.
	for i := 1; i < len(paths); i++ {
		for j := i; j > 0 && len(paths[j-1]) < len(paths[j]); j-- {
			paths[j-1], paths[j] = paths[j], paths[j-1]
		}
	}
	return paths
}
