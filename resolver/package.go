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
	"net/http"

	"github.com/scancore/scanctl/log"
	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/store"
	"github.com/scancore/scanctl/workingtree"
)

// ErrProvenanceUnresolvable is returned when every configured origin fails
// to validate. Unlike provenance.Unknown, it carries a diagnostic message.
var ErrProvenanceUnresolvable = errors.New("resolver: provenance unresolvable")

// PackageResolver turns a package and an ordered list of source-code
// origins into a validated, cacheable provenance.
type PackageResolver struct {
	cache      *workingtree.Cache
	store      store.PackageProvenanceStore
	httpClient *http.Client
}

// NewPackageResolver builds a PackageResolver. cache is used to acquire
// working trees for VCS origin validation; store replays and records
// resolution outcomes.
func NewPackageResolver(cache *workingtree.Cache, provStore store.PackageProvenanceStore) *PackageResolver {
	return &PackageResolver{cache: cache, store: provStore, httpClient: http.DefaultClient}
}

// Resolve walks origins in order and returns the first validated
// provenance, along with whether its revision is Fixed. On exhaustion it
// returns ErrProvenanceUnresolvable wrapping a diagnostic message.
func (r *PackageResolver) Resolve(ctx context.Context, pkg pkgmodel.Package, origins []Origin) (provenance.Provenance, bool, error) {
	var lastErr error
	for _, origin := range origins {
		switch origin {
		case OriginArtifact:
			if pkg.SourceArtifact.URL == "" {
				continue
			}
			prov, fixed, err := r.resolveArtifact(ctx, pkg)
			if err == nil {
				return prov, fixed, nil
			}
			lastErr = err
		case OriginVCS:
			if pkg.VCSInfo.URL == "" {
				continue
			}
			prov, fixed, err := r.resolveVCS(ctx, pkg)
			if err == nil {
				return prov, fixed, nil
			}
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no usable origin configured for %s", pkg.ID)
	}
	return provenance.Unknown, false, fmt.Errorf("%w: %s: %w", ErrProvenanceUnresolvable, pkg.ID, lastErr)
}

func (r *PackageResolver) resolveArtifact(ctx context.Context, pkg pkgmodel.Package) (provenance.Provenance, bool, error) {
	cached, found, err := r.store.ReadArtifact(ctx, pkg.ID, pkg.SourceArtifact)
	if err != nil {
		log.Warnf("resolver: read artifact cache for %s: %v", pkg.ID, err)
	}
	if found {
		if cached.Resolved() {
			return cached.Provenance, cached.Fixed, nil
		}
		msg := "cached failure"
		if cached.Unresolved != nil {
			msg = cached.Unresolved.Message
		}
		return provenance.Unknown, false, errors.New(msg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, pkg.SourceArtifact.URL, nil)
	if err != nil {
		return r.recordArtifactFailure(ctx, pkg, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return r.recordArtifactFailure(ctx, pkg, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return r.recordArtifactFailure(ctx, pkg, fmt.Errorf("HEAD %s: status %s", pkg.SourceArtifact.URL, resp.Status))
	}

	prov := provenance.FromArtifact(provenance.Artifact{URL: pkg.SourceArtifact.URL, Hash: pkg.SourceArtifact.Hash})
	result := store.ProvenanceResolutionResult{Provenance: prov, Fixed: true}
	if err := r.store.WriteArtifact(ctx, pkg.ID, pkg.SourceArtifact, result); err != nil {
		log.Warnf("resolver: write artifact cache for %s: %v", pkg.ID, err)
	}
	return prov, true, nil
}

func (r *PackageResolver) recordArtifactFailure(ctx context.Context, pkg pkgmodel.Package, cause error) (provenance.Provenance, bool, error) {
	result := store.ProvenanceResolutionResult{Unresolved: &store.UnresolvedPackageProvenance{Message: cause.Error()}}
	if err := r.store.WriteArtifact(ctx, pkg.ID, pkg.SourceArtifact, result); err != nil {
		log.Warnf("resolver: write artifact failure cache for %s: %v", pkg.ID, err)
	}
	return provenance.Unknown, false, cause
}

func (r *PackageResolver) resolveVCS(ctx context.Context, pkg pkgmodel.Package) (provenance.Provenance, bool, error) {
	cached, found, err := r.store.ReadVCS(ctx, pkg.ID, pkg.VCSInfo)
	if err != nil {
		log.Warnf("resolver: read vcs cache for %s: %v", pkg.ID, err)
	}
	if found {
		if cached.Resolved() && cached.Fixed {
			return cached.Provenance, true, nil
		}
		if !cached.Resolved() {
			msg := "cached failure"
			if cached.Unresolved != nil {
				msg = cached.Unresolved.Message
			}
			return provenance.Unknown, false, errors.New(msg)
		}
		// A cached result with a moving ref must be revalidated; only fixed
		// outcomes may be replayed as-is.
	}

	key := workingtree.Key{VCSType: pkg.VCSInfo.Type, URL: pkg.VCSInfo.URL}
	var resolvedProv provenance.Provenance
	var fixed bool
	useErr := r.cache.Use(ctx, key, func(ctx context.Context, dir string) error {
		if err := workingtree.Fetch(ctx, dir); err != nil {
			return err
		}
		candidates, err := workingtree.CandidateRevisions(dir, pkg.VCSInfo.Revision)
		if err != nil {
			return err
		}
		var lastErr error
		for _, candidate := range candidates {
			resolved, err := workingtree.Checkout(ctx, dir, candidate.Revision, false)
			if err != nil {
				lastErr = err
				continue
			}
			resolvedProv = provenance.FromRepository(provenance.Repository{
				VCSType:           pkg.VCSInfo.Type,
				URL:               pkg.VCSInfo.URL,
				RequestedRevision: pkg.VCSInfo.Revision,
				ResolvedRevision:  resolved,
				Path:              pkg.VCSInfo.Path,
			})
			fixed = candidate.Fixed
			return nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no candidate revisions for %q", pkg.VCSInfo.Revision)
		}
		return lastErr
	})
	if useErr != nil {
		result := store.ProvenanceResolutionResult{Unresolved: &store.UnresolvedPackageProvenance{Message: useErr.Error()}}
		if err := r.store.WriteVCS(ctx, pkg.ID, pkg.VCSInfo, result); err != nil {
			log.Warnf("resolver: write vcs failure cache for %s: %v", pkg.ID, err)
		}
		return provenance.Unknown, false, useErr
	}

	result := store.ProvenanceResolutionResult{Provenance: resolvedProv, Fixed: fixed}
	if err := r.store.WriteVCS(ctx, pkg.ID, pkg.VCSInfo, result); err != nil {
		log.Warnf("resolver: write vcs cache for %s: %v", pkg.ID, err)
	}
	return resolvedProv, fixed, nil
}
