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

// Package workingtree implements a per-scan-run pool of initialized VCS
// working trees with a single operation, Use, which executes an arbitrary
// action with exclusive access to the working tree for a given key.
//
// Each key gets its own *sync.Mutex, held for the duration of the caller's
// action, so unrelated repositories proceed in parallel while actions on
// the same checkout serialize. An explicit Shutdown tears down all on-disk
// state once in-flight actions drain.
package workingtree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/scancore/scanctl/log"
)

// ErrUnsupportedVCS is returned when no registered Backend matches a key's
// VCS type.
var ErrUnsupportedVCS = errors.New("workingtree: unsupported vcs")

// ErrCacheShutDown is returned by Use once Shutdown has been called.
var ErrCacheShutDown = errors.New("workingtree: cache has been shut down")

// Key identifies a working tree slot. Two packages that share a (VCSType,
// URL) reuse the same checkout regardless of the sub-tree Path either of
// them ultimately cares about.
type Key struct {
	VCSType string
	URL     string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.VCSType, k.URL)
}

// Backend is a VCS-specific initializer. Init must initialize dir (already
// created empty by the cache) and leave it as a valid, un-checked-out
// working copy connected to url; no revision is checked out yet.
type Backend interface {
	// Supports reports whether this backend handles the given VCS type.
	Supports(vcsType string) bool
	// Init initializes dir as a working copy of url. No revision is checked
	// out.
	Init(ctx context.Context, dir, url string) error
}

// Action is the work a caller runs with exclusive access to a working
// tree. dir is the working tree's root directory; it may be in whatever
// state a previous Action left it in — the cache itself never updates
// revisions.
type Action func(ctx context.Context, dir string) error

// Cache is a process-wide (per scan run) pool of VCS working trees. One
// instance is created per scan run, owned by the controller for the
// lifetime of that run — it is never a package-level singleton, avoiding
// the teardown-across-tests bug a global cache would invite.
type Cache struct {
	baseDir  string
	backends []Backend

	mu         sync.Mutex
	entries    map[Key]*entry
	terminated bool
}

type entry struct {
	mu  sync.Mutex
	dir string
	err error // non-nil if initialization failed; sticky
}

// New creates a Cache that allocates working trees under baseDir (which
// must already exist) using the given backends, tried in order for each
// key's VCS type.
func New(baseDir string, backends ...Backend) *Cache {
	return &Cache{
		baseDir:  baseDir,
		backends: backends,
		entries:  make(map[Key]*entry),
	}
}

// Use executes action with exclusive access to the working tree for key.
// At most one Action per key runs at a time; distinct keys proceed in
// parallel. On first use of a key, a fresh directory is allocated and
// initialized via the matching Backend.
func (c *Cache) Use(ctx context.Context, key Key, action Action) error {
	e, err := c.entryFor(key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return e.err
	}
	if e.dir == "" {
		dir, err := c.initEntry(ctx, key)
		if err != nil {
			e.err = err
			return err
		}
		e.dir = dir
	}
	return action(ctx, e.dir)
}

func (c *Cache) entryFor(key Key) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return nil, ErrCacheShutDown
	}
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e, nil
}

func (c *Cache) initEntry(ctx context.Context, key Key) (string, error) {
	backend := c.backendFor(key.VCSType)
	if backend == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedVCS, key.VCSType)
	}
	dir := filepath.Join(c.baseDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workingtree: allocate dir for %s: %w", key, err)
	}
	if err := backend.Init(ctx, dir, key.URL); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("workingtree: init %s: %w", key, err)
	}
	return dir, nil
}

func (c *Cache) backendFor(vcsType string) Backend {
	for _, b := range c.backends {
		if b.Supports(vcsType) {
			return b
		}
	}
	return nil
}

// Shutdown waits for all in-flight actions to release their keys, deletes
// every working directory, and marks the cache terminated. Any subsequent
// Use call fails with ErrCacheShutDown.
func (c *Cache) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	c.terminated = true
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		// Blocks until any in-flight Action releases this key.
		e.mu.Lock()
		dir := e.dir
		e.mu.Unlock()
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warnf("workingtree: shutdown: remove %s: %v", dir, err)
		}
	}
	return nil
}
