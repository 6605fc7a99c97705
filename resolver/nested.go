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

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/scancore/scanctl/log"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/store"
	"github.com/scancore/scanctl/workingtree"
)

// ErrNestedProvenanceUnresolvable is returned when a repository's tree of
// embedded sub-repositories cannot be discovered.
var ErrNestedProvenanceUnresolvable = errors.New("resolver: nested provenance unresolvable")

// NestedResolver discovers the tree of embedded repositories below a
// Known, path-stripped provenance.
type NestedResolver struct {
	cache *workingtree.Cache
	store store.NestedProvenanceStore
}

// NewNestedResolver builds a NestedResolver.
func NewNestedResolver(cache *workingtree.Cache, nestedStore store.NestedProvenanceStore) *NestedResolver {
	return &NestedResolver{cache: cache, store: nestedStore}
}

// Resolve returns known's nested-provenance tree. Callers are expected to
// pass known with its Repository.Path already stripped; Resolve strips it
// regardless.
func (r *NestedResolver) Resolve(ctx context.Context, known provenance.Provenance) (provenance.NestedProvenance, error) {
	known = known.WithoutPath()
	if !known.IsKnown() {
		return provenance.NestedProvenance{}, fmt.Errorf("%w: root provenance is not Known", ErrNestedProvenanceUnresolvable)
	}

	if known.Kind == provenance.KindArtifact {
		return provenance.NestedProvenance{Root: known, SubRepositories: map[string]provenance.Repository{}}, nil
	}

	key := store.NestedProvenanceKey{
		VCSType:          known.Repository.VCSType,
		URL:              known.Repository.URL,
		ResolvedRevision: known.Repository.ResolvedRevision,
	}
	cached, found, err := r.store.Read(ctx, key)
	if err != nil {
		log.Warnf("resolver: read nested-provenance cache for %s: %v", key, err)
	}
	if found && cached.HasOnlyFixedRevisions {
		return cached.Nested, nil
	}

	var nested provenance.NestedProvenance
	wtKey := workingtree.Key{VCSType: known.Repository.VCSType, URL: known.Repository.URL}
	useErr := r.cache.Use(ctx, wtKey, func(ctx context.Context, dir string) error {
		if err := workingtree.Fetch(ctx, dir); err != nil {
			return err
		}
		if _, err := workingtree.Checkout(ctx, dir, known.Repository.ResolvedRevision, true); err != nil {
			return err
		}
		subs, err := workingtree.Submodules(dir)
		if err != nil {
			return err
		}
		subRepos := make(map[string]provenance.Repository, len(subs))
		for _, sub := range subs {
			subRepos[sub.Path] = provenance.Repository{
				VCSType:          known.Repository.VCSType,
				URL:              sub.URL,
				ResolvedRevision: sub.Revision,
				Path:             sub.Path,
			}
		}
		nested = provenance.NestedProvenance{Root: known, SubRepositories: subRepos}
		return nested.Validate()
	})
	if useErr != nil {
		return provenance.NestedProvenance{}, fmt.Errorf("%w: %s: %w", ErrNestedProvenanceUnresolvable, known.Key(), useErr)
	}

	// Submodule gitlinks always pin an exact commit, never a moving ref, so
	// a tree resolved this way is always safe to replay without
	// revalidation.
	result := store.NestedProvenanceResult{Nested: nested, HasOnlyFixedRevisions: true}
	if err := r.store.Write(ctx, key, result); err != nil {
		log.Warnf("resolver: write nested-provenance cache for %s: %v", key, err)
	}
	return nested, nil
}
