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

// Package store declares the storage interfaces used by the resolvers'
// replay caches and the scan controller's result caches. Two orthogonal
// shapes exist — package-keyed and provenance-keyed — and they are kept as
// separate interfaces: backends advertise which they implement and the
// controller dispatches over the intersection, rather than unioning both
// key shapes into one interface.
package store

import (
	"context"

	"github.com/scancore/scanctl/identifier"
	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/scanresult"
)

// UnresolvedPackageProvenance records a failed resolution outcome so that
// re-runs don't repeat the expensive network operation that produced it.
type UnresolvedPackageProvenance struct {
	Message string
}

// ProvenanceResolutionResult is a stored outcome of package-provenance
// resolution: either a Known provenance (with whether its revision was
// Fixed, i.e. not a moving ref — only Fixed outcomes may be replayed
// without revalidation) or an UnresolvedPackageProvenance failure.
type ProvenanceResolutionResult struct {
	Provenance provenance.Provenance
	Fixed      bool
	Unresolved *UnresolvedPackageProvenance
}

// Resolved reports whether this result carries a usable provenance.
func (r ProvenanceResolutionResult) Resolved() bool {
	return r.Unresolved == nil && r.Provenance.IsKnown()
}

// PackageProvenanceStore is the replay cache for the package resolver's
// artifact/VCS validation lookups, keyed by (package identifier, origin
// descriptor).
type PackageProvenanceStore interface {
	ReadArtifact(ctx context.Context, id identifier.Identifier, artifact pkgmodel.SourceArtifact) (ProvenanceResolutionResult, bool, error)
	WriteArtifact(ctx context.Context, id identifier.Identifier, artifact pkgmodel.SourceArtifact, result ProvenanceResolutionResult) error
	ReadVCS(ctx context.Context, id identifier.Identifier, vcs pkgmodel.VCSInfo) (ProvenanceResolutionResult, bool, error)
	WriteVCS(ctx context.Context, id identifier.Identifier, vcs pkgmodel.VCSInfo, result ProvenanceResolutionResult) error
}

// NestedProvenanceKey keys the nested-provenance replay cache: a
// path-stripped Repository identity.
type NestedProvenanceKey struct {
	VCSType          string
	URL              string
	ResolvedRevision string
}

// NestedProvenanceResult is a stored outcome of nested-provenance
// resolution. HasOnlyFixedRevisions gates whether the stored tree may be
// returned directly without revalidation.
type NestedProvenanceResult struct {
	Nested                provenance.NestedProvenance
	HasOnlyFixedRevisions bool
}

// NestedProvenanceStore is the replay cache for nested-provenance
// resolution.
type NestedProvenanceStore interface {
	Read(ctx context.Context, key NestedProvenanceKey) (NestedProvenanceResult, bool, error)
	Write(ctx context.Context, key NestedProvenanceKey, result NestedProvenanceResult) error
}

// PackageScanStore is the package-keyed scan-result cache. Reads must
// reject results whose root provenance doesn't match nested.Root and must
// drop ScanResults whose ScannerDetails fail matcher; implementations are
// expected to enforce both.
type PackageScanStore interface {
	Read(ctx context.Context, id identifier.Identifier, nested provenance.NestedProvenance, matcher scanresult.Matcher) ([]scanresult.NestedProvenanceScanResult, error)
	Write(ctx context.Context, id identifier.Identifier, result scanresult.NestedProvenanceScanResult) error
}

// ProvenanceScanStore is the provenance-keyed, scanner-agnostic
// scan-result cache. Write is idempotent: it returns false if a row for
// (provenance, scanner name/version/configuration) already exists. Both
// Read and Write must reject any provenance with a non-empty VCS Path —
// this store only ever holds whole-repository results.
type ProvenanceScanStore interface {
	Read(ctx context.Context, prov provenance.Provenance, matcher scanresult.Matcher) ([]scanresult.ScanResult, error)
	Write(ctx context.Context, result scanresult.ScanResult) (bool, error)
}

// ErrNonWholeRepository is returned by ProvenanceScanStore implementations
// when asked to read or write a provenance whose Repository.Path != "".
type ErrNonWholeRepository struct{ Path string }

func (e ErrNonWholeRepository) Error() string {
	return "store: provenance-keyed stores only hold whole-repository results, got path " + e.Path
}
