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

// Package boltstore implements the provenance-resolution replay
// caches (store.PackageProvenanceStore, store.NestedProvenanceStore) on
// top of go.etcd.io/bbolt: small, single-writer, key-value lookups with
// no relational needs, unlike the scan-result stores in sqlstore and
// filestore.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/scancore/scanctl/identifier"
	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/store"
)

var (
	bucketArtifactProvenance = []byte("artifact_provenance")
	bucketVCSProvenance      = []byte("vcs_provenance")
	bucketNestedProvenance   = []byte("nested_provenance")
)

// Store implements store.PackageProvenanceStore and
// store.NestedProvenanceStore backed by a single bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketArtifactProvenance, bucketVCSProvenance, bucketNestedProvenance} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var (
	_ store.PackageProvenanceStore = (*Store)(nil)
	_ store.NestedProvenanceStore  = (*Store)(nil)
)

func artifactKey(id identifier.Identifier, a pkgmodel.SourceArtifact) []byte {
	return []byte(id.String() + "|" + a.URL + "|" + a.Hash)
}

func vcsKey(id identifier.Identifier, v pkgmodel.VCSInfo) []byte {
	return []byte(id.String() + "|" + v.Type + "|" + v.URL + "|" + v.Revision)
}

func nestedKey(key store.NestedProvenanceKey) []byte {
	return []byte(key.VCSType + "|" + key.URL + "|" + key.ResolvedRevision)
}

// ReadArtifact implements store.PackageProvenanceStore.
func (s *Store) ReadArtifact(_ context.Context, id identifier.Identifier, a pkgmodel.SourceArtifact) (store.ProvenanceResolutionResult, bool, error) {
	return readJSON[store.ProvenanceResolutionResult](s.db, bucketArtifactProvenance, artifactKey(id, a))
}

// WriteArtifact implements store.PackageProvenanceStore.
func (s *Store) WriteArtifact(_ context.Context, id identifier.Identifier, a pkgmodel.SourceArtifact, result store.ProvenanceResolutionResult) error {
	return writeJSON(s.db, bucketArtifactProvenance, artifactKey(id, a), result)
}

// ReadVCS implements store.PackageProvenanceStore.
func (s *Store) ReadVCS(_ context.Context, id identifier.Identifier, v pkgmodel.VCSInfo) (store.ProvenanceResolutionResult, bool, error) {
	return readJSON[store.ProvenanceResolutionResult](s.db, bucketVCSProvenance, vcsKey(id, v))
}

// WriteVCS implements store.PackageProvenanceStore.
func (s *Store) WriteVCS(_ context.Context, id identifier.Identifier, v pkgmodel.VCSInfo, result store.ProvenanceResolutionResult) error {
	return writeJSON(s.db, bucketVCSProvenance, vcsKey(id, v), result)
}

// Read implements store.NestedProvenanceStore.
func (s *Store) Read(_ context.Context, key store.NestedProvenanceKey) (store.NestedProvenanceResult, bool, error) {
	return readJSON[store.NestedProvenanceResult](s.db, bucketNestedProvenance, nestedKey(key))
}

// Write implements store.NestedProvenanceStore.
func (s *Store) Write(_ context.Context, key store.NestedProvenanceKey, result store.NestedProvenanceResult) error {
	return writeJSON(s.db, bucketNestedProvenance, nestedKey(key), result)
}

func readJSON[T any](db *bolt.DB, bucket, key []byte) (T, bool, error) {
	var out T
	var found bool
	err := db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &out)
	})
	if err != nil {
		return out, false, fmt.Errorf("boltstore: read %s/%s: %w", bucket, key, err)
	}
	return out, found, nil
}

func writeJSON[T any](db *bolt.DB, bucket, key []byte, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("boltstore: marshal %s/%s: %w", bucket, key, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("boltstore: write %s/%s: %w", bucket, key, err)
	}
	return nil
}
