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

package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/scancore/scanctl/identifier"
	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/store"
	"github.com/scancore/scanctl/store/boltstore"
)

func openTestStore(t *testing.T) *boltstore.Store {
	t.Helper()
	s, err := boltstore.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestArtifactProvenanceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identifier.Identifier{Type: "npm", Name: "left-pad", Version: "1.0.0"}
	artifact := pkgmodel.SourceArtifact{URL: "https://example/left-pad-1.0.0.tgz", Hash: "sha1:abc"}

	if _, found, err := s.ReadArtifact(ctx, id, artifact); err != nil || found {
		t.Fatalf("ReadArtifact() before write = %v, %v, want not found", found, err)
	}

	want := store.ProvenanceResolutionResult{
		Provenance: provenance.FromArtifact(provenance.Artifact{URL: artifact.URL, Hash: artifact.Hash}),
		Fixed:      true,
	}
	if err := s.WriteArtifact(ctx, id, artifact, want); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}

	got, found, err := s.ReadArtifact(ctx, id, artifact)
	if err != nil || !found {
		t.Fatalf("ReadArtifact() after write = %v, %v, want found", found, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadArtifact() mismatch (-want +got):\n%s", diff)
	}
}

func TestNestedProvenanceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := store.NestedProvenanceKey{VCSType: "git", URL: "https://example/repo.git", ResolvedRevision: "deadbeef"}
	want := store.NestedProvenanceResult{
		Nested: provenance.NestedProvenance{
			Root: provenance.FromRepository(provenance.Repository{VCSType: "git", URL: key.URL, ResolvedRevision: key.ResolvedRevision}),
		},
		HasOnlyFixedRevisions: true,
	}

	if err := s.Write(ctx, key, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, found, err := s.Read(ctx, key)
	if err != nil || !found {
		t.Fatalf("Read() = %v, %v, want found", found, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
}
