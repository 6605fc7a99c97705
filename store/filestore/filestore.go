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

// Package filestore implements store.ProvenanceScanStore on the local
// filesystem: one YAML file per provenance key, holding a sequence of
// scanresult.ScanResult.
package filestore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/scanresult"
	"github.com/scancore/scanctl/store"
)

// Store is a YAML-file-backed store.ProvenanceScanStore rooted at a
// directory. Access is serialized by a single mutex; concurrent scan
// runs against the same root are not supported.
type Store struct {
	root string
	mu   sync.Mutex
}

// New returns a Store rooted at dir. dir is created on first write.
func New(dir string) *Store {
	return &Store{root: dir}
}

var _ store.ProvenanceScanStore = (*Store)(nil)

// pathFor returns the file path for prov:
//
//	artifact/<url-encoded>/scan-results.yml
//	repository/<vcs-type>/<url-encoded>/<resolved-revision>/scan-results.yml
func (s *Store) pathFor(prov provenance.Provenance) (string, error) {
	switch prov.Kind {
	case provenance.KindArtifact:
		return filepath.Join(s.root, "artifact", url.PathEscape(prov.Artifact.URL), "scan-results.yml"), nil
	case provenance.KindRepository:
		return filepath.Join(s.root, "repository", prov.Repository.VCSType,
			url.PathEscape(prov.Repository.URL), prov.Repository.ResolvedRevision, "scan-results.yml"), nil
	default:
		return "", fmt.Errorf("filestore: unknown provenance kind")
	}
}

// Read implements store.ProvenanceScanStore.
func (s *Store) Read(_ context.Context, prov provenance.Provenance, matcher scanresult.Matcher) ([]scanresult.ScanResult, error) {
	if prov.Path() != "" {
		return nil, store.ErrNonWholeRepository{Path: prov.Path()}
	}
	path, err := s.pathFor(prov)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readAll(path)
	if err != nil {
		return nil, err
	}
	var out []scanresult.ScanResult
	for _, r := range all {
		if matcher == nil || matcher(r.Scanner) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Write implements store.ProvenanceScanStore. It returns false without
// modifying the file if a result for the same scanner already exists.
func (s *Store) Write(_ context.Context, result scanresult.ScanResult) (bool, error) {
	if result.Provenance.Path() != "" {
		return false, store.ErrNonWholeRepository{Path: result.Provenance.Path()}
	}
	path, err := s.pathFor(result.Provenance)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readAll(path)
	if err != nil {
		return false, err
	}
	for _, existing := range all {
		if existing.Scanner == result.Scanner {
			return false, nil
		}
	}
	all = append(all, result)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("filestore: write %s: %w", path, err)
	}
	data, err := yaml.Marshal(all)
	if err != nil {
		return false, fmt.Errorf("filestore: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("filestore: write %s: %w", path, err)
	}
	return true, nil
}

func readAll(path string) ([]scanresult.ScanResult, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	var results []scanresult.ScanResult
	if err := yaml.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("filestore: unmarshal %s: %w", path, err)
	}
	// YAML writes nil and empty slices alike as []; decode both back as nil
	// so a read returns what was written.
	for i := range results {
		s := &results[i].Summary
		if len(s.LicenseFindings) == 0 {
			s.LicenseFindings = nil
		}
		if len(s.CopyrightFindings) == 0 {
			s.CopyrightFindings = nil
		}
		if len(s.Issues) == 0 {
			s.Issues = nil
		}
	}
	return results, nil
}
