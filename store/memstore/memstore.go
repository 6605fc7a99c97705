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

// Package memstore implements every store.* interface in memory, guarded
// by a single mutex. It is the in-process default backend, useful for
// tests and for single-process scan runs that don't need persistence
// across runs.
//
// store.PackageProvenanceStore, store.NestedProvenanceStore,
// store.PackageScanStore and store.ProvenanceScanStore each declare a
// method named Read/Write with a different signature, so one Go type
// cannot implement all four directly (the method sets would collide).
// Store holds the shared state and exposes four small accessor types, one
// per interface, each backed by the same mutex and maps.
package memstore

import (
	"context"
	"sync"

	"github.com/scancore/scanctl/identifier"
	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/scanresult"
	"github.com/scancore/scanctl/store"
)

// Store is the shared in-memory backing state.
type Store struct {
	mu sync.Mutex

	artifactProvenance map[string]store.ProvenanceResolutionResult
	vcsProvenance      map[string]store.ProvenanceResolutionResult
	nested             map[store.NestedProvenanceKey]store.NestedProvenanceResult
	packageScans       map[identifier.Identifier][]scanresult.NestedProvenanceScanResult
	provenanceScans    map[string][]scanresult.ScanResult
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		artifactProvenance: map[string]store.ProvenanceResolutionResult{},
		vcsProvenance:      map[string]store.ProvenanceResolutionResult{},
		nested:             map[store.NestedProvenanceKey]store.NestedProvenanceResult{},
		packageScans:       map[identifier.Identifier][]scanresult.NestedProvenanceScanResult{},
		provenanceScans:    map[string][]scanresult.ScanResult{},
	}
}

// Provenances returns the store.PackageProvenanceStore view.
func (s *Store) Provenances() store.PackageProvenanceStore { return (*packageProvenances)(s) }

// Nested returns the store.NestedProvenanceStore view.
func (s *Store) Nested() store.NestedProvenanceStore { return (*nestedProvenances)(s) }

// PackageScans returns the store.PackageScanStore view.
func (s *Store) PackageScans() store.PackageScanStore { return (*packageScans)(s) }

// ProvenanceScans returns the store.ProvenanceScanStore view.
func (s *Store) ProvenanceScans() store.ProvenanceScanStore { return (*provenanceScans)(s) }

func artifactKey(id identifier.Identifier, a pkgmodel.SourceArtifact) string {
	return id.String() + "|" + a.URL + "|" + a.Hash
}

func vcsKey(id identifier.Identifier, v pkgmodel.VCSInfo) string {
	return id.String() + "|" + v.Type + "|" + v.URL + "|" + v.Revision
}

type packageProvenances Store

func (s *packageProvenances) ReadArtifact(_ context.Context, id identifier.Identifier, a pkgmodel.SourceArtifact) (store.ProvenanceResolutionResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.artifactProvenance[artifactKey(id, a)]
	return r, ok, nil
}

func (s *packageProvenances) WriteArtifact(_ context.Context, id identifier.Identifier, a pkgmodel.SourceArtifact, result store.ProvenanceResolutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifactProvenance[artifactKey(id, a)] = result
	return nil
}

func (s *packageProvenances) ReadVCS(_ context.Context, id identifier.Identifier, v pkgmodel.VCSInfo) (store.ProvenanceResolutionResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.vcsProvenance[vcsKey(id, v)]
	return r, ok, nil
}

func (s *packageProvenances) WriteVCS(_ context.Context, id identifier.Identifier, v pkgmodel.VCSInfo, result store.ProvenanceResolutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vcsProvenance[vcsKey(id, v)] = result
	return nil
}

type nestedProvenances Store

func (s *nestedProvenances) Read(_ context.Context, key store.NestedProvenanceKey) (store.NestedProvenanceResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.nested[key]
	return r, ok, nil
}

func (s *nestedProvenances) Write(_ context.Context, key store.NestedProvenanceKey, result store.NestedProvenanceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nested[key] = result
	return nil
}

type packageScans Store

func (s *packageScans) Read(_ context.Context, id identifier.Identifier, nested provenance.NestedProvenance, matcher scanresult.Matcher) ([]scanresult.NestedProvenanceScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []scanresult.NestedProvenanceScanResult
	for _, cand := range s.packageScans[id] {
		if !cand.Nested.Root.Equal(nested.Root) {
			continue
		}
		filtered := scanresult.NestedProvenanceScanResult{
			Nested:  cand.Nested,
			Results: map[string][]scanresult.ScanResult{},
		}
		for path, results := range cand.Results {
			for _, r := range results {
				if matcher == nil || matcher(r.Scanner) {
					filtered.Results[path] = append(filtered.Results[path], r)
				}
			}
		}
		out = append(out, filtered)
	}
	return out, nil
}

func (s *packageScans) Write(_ context.Context, id identifier.Identifier, result scanresult.NestedProvenanceScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packageScansMap()[id] = append(s.packageScansMap()[id], result)
	return nil
}

// packageScansMap is a tiny accessor returning the shared package-keyed
// scan map used by Write above.
func (s *packageScans) packageScansMap() map[identifier.Identifier][]scanresult.NestedProvenanceScanResult {
	return (*Store)(s).packageScans
}

type provenanceScans Store

func (s *provenanceScans) Read(_ context.Context, prov provenance.Provenance, matcher scanresult.Matcher) ([]scanresult.ScanResult, error) {
	if prov.Path() != "" {
		return nil, store.ErrNonWholeRepository{Path: prov.Path()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []scanresult.ScanResult
	for _, r := range s.provenanceScans[prov.Key()] {
		if matcher == nil || matcher(r.Scanner) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *provenanceScans) Write(_ context.Context, result scanresult.ScanResult) (bool, error) {
	if result.Provenance.Path() != "" {
		return false, store.ErrNonWholeRepository{Path: result.Provenance.Path()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := result.Provenance.Key()
	for _, existing := range s.provenanceScans[key] {
		if existing.Scanner == result.Scanner {
			return false, nil
		}
	}
	s.provenanceScans[key] = append(s.provenanceScans[key], result)
	return true, nil
}

var (
	_ store.PackageProvenanceStore = (*packageProvenances)(nil)
	_ store.NestedProvenanceStore  = (*nestedProvenances)(nil)
	_ store.PackageScanStore       = (*packageScans)(nil)
	_ store.ProvenanceScanStore    = (*provenanceScans)(nil)
)
