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

package workingtree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// GitBackend is the Backend implementation for "git" provenances, built on
// go-git so no installed git binary is required.
type GitBackend struct{}

// Supports implements Backend.
func (GitBackend) Supports(vcsType string) bool { return vcsType == "git" }

// Init implements Backend. It creates a non-bare repository in dir with a
// single "origin" remote pointing at url. No revision is checked out.
func (GitBackend) Init(_ context.Context, dir, url string) error {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return fmt.Errorf("git init %s: %w", dir, err)
	}
	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	if err != nil {
		return fmt.Errorf("git remote add origin %s: %w", url, err)
	}
	return nil
}

// Fetch fetches all branches and tags from origin into dir's repository.
func Fetch(ctx context.Context, dir string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("git open %s: %w", dir, err)
	}
	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("git fetch %s: %w", dir, err)
	}
	return nil
}

// Candidate is one candidate revision considered during package-provenance
// resolution, in the order they should be tried.
type Candidate struct {
	// Revision is anything ResolveRevision accepts: a tag, branch, or hash.
	Revision string
	// Fixed reports whether Revision is guaranteed to always resolve to the
	// same commit. A branch name is not fixed (a moving ref); a tag or a
	// commit hash (7 to 40 lowercase hex digits) is.
	Fixed bool
}

// CandidateRevisions returns the ordered list of revisions to try for a
// requested ref: the requested value verbatim first (it might already be a
// commit hash or a tag), then HEAD as a fallback. Moving refs (branches,
// HEAD) are never returned as Fixed.
func CandidateRevisions(dir, requested string) ([]Candidate, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("git open %s: %w", dir, err)
	}

	var out []Candidate
	if requested != "" {
		if _, err := repo.Tag(requested); err == nil {
			out = append(out, Candidate{Revision: requested, Fixed: true})
		} else if looksLikeHash(requested) {
			out = append(out, Candidate{Revision: requested, Fixed: true})
		} else {
			out = append(out, Candidate{Revision: requested, Fixed: false})
		}
	}
	out = append(out, Candidate{Revision: "HEAD", Fixed: false})
	return out, nil
}

func looksLikeHash(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// Checkout resolves revision to a commit and checks it out in dir. If
// recursive is true, submodules are initialized and updated afterward. It
// returns the resolved commit hash.
func Checkout(ctx context.Context, dir, revision string, recursive bool) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("git open %s: %w", dir, err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return "", fmt.Errorf("git resolve %s in %s: %w", revision, dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("git worktree %s: %w", dir, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return "", fmt.Errorf("git checkout %s@%s: %w", dir, hash, err)
	}
	if recursive {
		subs, err := wt.Submodules()
		if err != nil {
			return "", fmt.Errorf("git submodules %s: %w", dir, err)
		}
		for _, sub := range subs {
			if err := sub.UpdateContext(ctx, &git.SubmoduleUpdateOptions{
				Init:              true,
				RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
			}); err != nil {
				return "", fmt.Errorf("git submodule update %s/%s: %w", dir, sub.Config().Path, err)
			}
		}
	}
	return hash.String(), nil
}

// CurrentRevision returns the commit hash dir's worktree is currently
// checked out at.
func CurrentRevision(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("git open %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("git head %s: %w", dir, err)
	}
	return head.Hash().String(), nil
}

// Submodule describes one nested working tree as reported by .gitmodules.
type Submodule struct {
	Path     string
	URL      string
	Revision string
}

// Submodules lists the submodules currently checked out in dir, with their
// resolved revision (the commit the submodule's gitlink currently points
// at), for use by nested-provenance resolution.
func Submodules(dir string) ([]Submodule, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("git open %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("git worktree %s: %w", dir, err)
	}
	subs, err := wt.Submodules()
	if err != nil {
		return nil, fmt.Errorf("git submodules %s: %w", dir, err)
	}
	status, err := subs.Status()
	if err != nil {
		return nil, fmt.Errorf("git submodule status %s: %w", dir, err)
	}

	statusByPath := make(map[string]*git.SubmoduleStatus, len(status))
	for _, st := range status {
		statusByPath[st.Path] = st
	}

	out := make([]Submodule, 0, len(subs))
	for _, sub := range subs {
		cfg := sub.Config()
		rev := ""
		if st, ok := statusByPath[cfg.Path]; ok {
			rev = st.Current.String()
		}
		out = append(out, Submodule{Path: cfg.Path, URL: cfg.URL, Revision: rev})
	}
	return out, nil
}

// CleanDanglingSubmoduleDirs removes submodule working directories directly
// under dir that are no longer referenced by the current .gitmodules file.
// Only top-level entries of dir are examined; dangling submodule
// directories nested deeper (e.g. vendor/lib) are not removed. The
// downloader runs this after a non-recursive update so nested-repository
// directories left behind by an earlier recursive update don't leak into
// the exported copy.
func CleanDanglingSubmoduleDirs(dir string) error {
	known := map[string]bool{}
	subs, err := Submodules(dir)
	if err != nil {
		// .gitmodules may simply not exist; nothing to clean.
		return nil
	}
	for _, s := range subs {
		known[filepath.Clean(s.Path)] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("readdir %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == ".git" {
			continue
		}
		if known[e.Name()] {
			continue
		}
		// Only clean directories that look like they were left behind by a
		// gitlink (contain their own .git), not arbitrary source directories.
		if _, err := os.Stat(filepath.Join(dir, e.Name(), ".git")); err != nil {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove dangling submodule dir %s: %w", e.Name(), err)
		}
	}
	return nil
}
