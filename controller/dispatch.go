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

package controller

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/scancore/scanctl/assembler"
	"github.com/scancore/scanctl/identifier"
	"github.com/scancore/scanctl/log"
	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/scanner"
	"github.com/scancore/scanctl/scanresult"
)

// scannerMeta is the controller's view of one configured adapter: just
// enough identity to key the accumulator and decide persistence.
type scannerMeta struct {
	name    string
	version string
	matcher scanresult.Matcher
}

type adapter interface {
	Name() string
	Version() string
	Matcher() scanresult.Matcher
}

func metaOf(a adapter) scannerMeta {
	return scannerMeta{name: a.Name(), version: a.Version(), matcher: a.Matcher()}
}

func (m scannerMeta) details() scanresult.ScannerDetails {
	return scanresult.ScannerDetails{Name: m.name, Version: m.version}
}

// scannerMetas lists every configured adapter in dispatch order: package
// scanners, then provenance scanners, then path scanners, each in
// configuration order.
func scannerMetas(set ScannerSet) []scannerMeta {
	metas := make([]scannerMeta, 0, len(set.Package)+len(set.Provenance)+len(set.Path))
	for _, s := range set.Package {
		metas = append(metas, metaOf(s))
	}
	for _, s := range set.Provenance {
		metas = append(metas, metaOf(s))
	}
	for _, s := range set.Path {
		metas = append(metas, metaOf(s))
	}
	return metas
}

// resultKey identifies one (scanner, provenance) cell of the accumulator.
type resultKey struct {
	scanner string
	prov    string
}

// runState holds the three shared tables of one run. All three are
// append-only: once a key is set its value never changes. Everything is
// guarded by one mutex; the lock is never held across I/O.
type runState struct {
	mu         sync.Mutex
	pkgProv    map[identifier.Identifier]provenance.Provenance
	pkgIssues  map[identifier.Identifier][]scanresult.Issue
	nested     map[string]provenance.NestedProvenance
	results    map[resultKey]scanresult.ScanResult
	pkgWritten map[string]map[identifier.Identifier]bool

	flight singleflight.Group
}

func newRunState() *runState {
	return &runState{
		pkgProv:    map[identifier.Identifier]provenance.Provenance{},
		pkgIssues:  map[identifier.Identifier][]scanresult.Issue{},
		nested:     map[string]provenance.NestedProvenance{},
		results:    map[resultKey]scanresult.ScanResult{},
		pkgWritten: map[string]map[identifier.Identifier]bool{},
	}
}

func (st *runState) setPackageProvenance(id identifier.Identifier, prov provenance.Provenance) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.pkgProv[id]; !exists {
		st.pkgProv[id] = prov
	}
}

func (st *runState) packageProvenance(id identifier.Identifier) (provenance.Provenance, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	prov, ok := st.pkgProv[id]
	return prov, ok
}

func (st *runState) addPackageIssue(id identifier.Identifier, issue scanresult.Issue) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pkgIssues[id] = append(st.pkgIssues[id], issue)
}

func (st *runState) packageIssues(id identifier.Identifier) []scanresult.Issue {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]scanresult.Issue(nil), st.pkgIssues[id]...)
}

func (st *runState) setNested(key string, nested provenance.NestedProvenance) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.nested[key]; !exists {
		st.nested[key] = nested
	}
}

func (st *runState) nestedFor(prov provenance.Provenance) (provenance.NestedProvenance, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	nested, ok := st.nested[prov.WithoutPath().Key()]
	return nested, ok
}

// addResult records r for (scannerName, prov) unless that cell is already
// set. The first result wins; cells are immutable afterwards.
func (st *runState) addResult(scannerName string, prov provenance.Provenance, r scanresult.ScanResult) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := resultKey{scanner: scannerName, prov: prov.Key()}
	if _, exists := st.results[key]; exists {
		return false
	}
	st.results[key] = r
	return true
}

func (st *runState) hasResult(scannerName string, prov provenance.Provenance) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.results[resultKey{scanner: scannerName, prov: prov.Key()}]
	return ok
}

func (st *runState) resultFor(scannerName string, prov provenance.Provenance) (scanresult.ScanResult, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.results[resultKey{scanner: scannerName, prov: prov.Key()}]
	return r, ok
}

// treeComplete reports whether every provenance in nested has a result for
// scannerName.
func (st *runState) treeComplete(scannerName string, nested provenance.NestedProvenance) bool {
	for _, prov := range nested.AllProvenances() {
		if !st.hasResult(scannerName, prov) {
			return false
		}
	}
	return true
}

// treeResults builds the per-package result tree for every scanner in
// metas from the accumulator.
func (st *runState) treeResults(nested provenance.NestedProvenance, metas []scannerMeta) scanresult.NestedProvenanceScanResult {
	out := scanresult.NestedProvenanceScanResult{
		Nested:  nested,
		Results: map[string][]scanresult.ScanResult{},
	}
	for path, prov := range nested.AllProvenances() {
		for _, meta := range metas {
			if r, ok := st.resultFor(meta.name, prov); ok {
				out.Results[path] = append(out.Results[path], r)
			}
		}
	}
	return out
}

// scannerTreeResults is treeResults restricted to a single scanner, used
// for the package-keyed write-through.
func (st *runState) scannerTreeResults(nested provenance.NestedProvenance, scannerName string) scanresult.NestedProvenanceScanResult {
	out := scanresult.NestedProvenanceScanResult{
		Nested:  nested,
		Results: map[string][]scanresult.ScanResult{},
	}
	for path, prov := range nested.AllProvenances() {
		if r, ok := st.resultFor(scannerName, prov); ok {
			out.Results[path] = append(out.Results[path], r)
		}
	}
	return out
}

// distinctProvenances lists every path-stripped provenance in every
// resolved nested tree, keyed and sorted for deterministic iteration.
func (st *runState) distinctProvenances() []provenance.Provenance {
	st.mu.Lock()
	defer st.mu.Unlock()
	distinct := map[string]provenance.Provenance{}
	for _, nested := range st.nested {
		for _, prov := range nested.AllProvenances() {
			distinct[prov.Key()] = prov
		}
	}
	keys := make([]string, 0, len(distinct))
	for k := range distinct {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]provenance.Provenance, 0, len(keys))
	for _, k := range keys {
		out = append(out, distinct[k])
	}
	return out
}

// readCaches consults the package-keyed stores first (one lookup can cover
// a whole nested tree), then the provenance-keyed stores per contained
// provenance, accumulating anything usable so the dispatch phases skip it.
func (c *Controller) readCaches(ctx context.Context, pkgs []pkgmodel.Package, set ScannerSet, st *runState) {
	metas := scannerMetas(set)
	for _, pkg := range pkgs {
		prov, ok := st.packageProvenance(pkg.ID)
		if !ok {
			continue
		}
		nested, ok := st.nestedFor(prov)
		if !ok {
			continue
		}
		for _, meta := range metas {
			if meta.matcher == nil {
				// Adapters without a matcher cannot have their stored outputs
				// re-identified; never replay for them.
				continue
			}
			for _, ps := range c.cfg.PackageStores {
				stored, err := ps.Read(ctx, pkg.ID, nested, meta.matcher)
				if err != nil {
					log.Warnf("controller: package store read for %s: %v", pkg.ID, err)
					continue
				}
				for _, tree := range stored {
					all := tree.Nested.AllProvenances()
					for path, results := range tree.Results {
						storedProv, ok := all[path]
						if !ok {
							continue
						}
						for _, r := range results {
							r.Provenance = storedProv
							st.addResult(meta.name, storedProv, r)
						}
					}
				}
			}
			for _, contained := range nested.AllProvenances() {
				if st.hasResult(meta.name, contained) {
					c.stats.AfterCacheLookup(meta.name, contained.Key(), true)
					continue
				}
				hit := false
				for _, vs := range c.cfg.ProvenanceStores {
					stored, err := vs.Read(ctx, contained, meta.matcher)
					if err != nil {
						log.Warnf("controller: provenance store read for %s: %v", contained.Key(), err)
						continue
					}
					if len(stored) == 0 {
						continue
					}
					r := stored[0]
					r.Provenance = contained
					st.addResult(meta.name, contained, r)
					hit = true
					break
				}
				c.stats.AfterCacheLookup(meta.name, contained.Key(), hit)
			}
		}
	}
}

// failureResult synthesizes an empty-summary result carrying one
// Error-severity issue, used when a scanner or the downloader fails for a
// provenance.
func failureResult(prov provenance.Provenance, meta scannerMeta, source, message string) scanresult.ScanResult {
	now := time.Now()
	return scanresult.ScanResult{
		Provenance: prov,
		Scanner:    meta.details(),
		Summary: scanresult.ScanSummary{
			StartTime: now,
			EndTime:   now,
			Issues: []scanresult.Issue{{
				Source:     source,
				Severity:   scanresult.SeverityError,
				Message:    message,
				Provenance: prov,
			}},
		},
	}
}

// packageScanPhase groups packages by path-stripped provenance and, for
// each group and package scanner whose nested tree is still incomplete,
// scans one reference package and applies the split result to the whole
// group.
func (c *Controller) packageScanPhase(ctx context.Context, pkgs []pkgmodel.Package, set ScannerSet, st *runState) error {
	if len(set.Package) == 0 {
		return nil
	}

	groups := map[string][]pkgmodel.Package{}
	for _, pkg := range pkgs {
		prov, ok := st.packageProvenance(pkg.ID)
		if !ok {
			continue
		}
		if _, ok := st.nestedFor(prov); !ok {
			continue
		}
		key := prov.WithoutPath().Key()
		groups[key] = append(groups[key], pkg)
	}
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i].ID.String() < members[j].ID.String() })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel())
	for _, key := range sortedKeys(groups) {
		members := groups[key]
		g.Go(func() error {
			prov, _ := st.packageProvenance(members[0].ID)
			nested, _ := st.nestedFor(prov)
			for _, ps := range set.Package {
				meta := metaOf(ps)
				if st.treeComplete(meta.name, nested) {
					continue
				}
				// Any group member serves as the reference; its sub-tree path is
				// cleared so the engine fetches the whole checkout.
				ref := members[0]
				ref.VCSInfo.Path = ""

				result, err := c.runOnce(gctx, st, meta, nested.Root, func(runCtx context.Context) (scanresult.ScanResult, error) {
					return ps.ScanPackage(runCtx, ref)
				})
				if err != nil {
					result = failureResult(nested.Root, meta, "PackageScanner",
						fmt.Sprintf("Scanner %s failed for %s: %v", meta.name, nested.Root.Key(), err))
				}
				result.Provenance = nested.Root
				if result.Scanner == (scanresult.ScannerDetails{}) {
					result.Scanner = meta.details()
				}

				tree, splitErr := assembler.Split(result, nested)
				if splitErr != nil {
					log.Errorf("controller: split result of %s for %s: %v", meta.name, nested.Root.Key(), splitErr)
					continue
				}
				for _, results := range tree.Results {
					for _, shard := range results {
						if st.addResult(meta.name, shard.Provenance, shard) && err == nil {
							c.writeThrough(gctx, meta, shard, st)
						}
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// provenanceScanPhase scans every provenance still missing a result for a
// provenance scanner.
func (c *Controller) provenanceScanPhase(ctx context.Context, set ScannerSet, st *runState) error {
	if len(set.Provenance) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel())
	for _, prov := range st.distinctProvenances() {
		g.Go(func() error {
			for _, s := range set.Provenance {
				meta := metaOf(s)
				if st.hasResult(meta.name, prov) {
					continue
				}
				result, err := c.runOnce(gctx, st, meta, prov, func(runCtx context.Context) (scanresult.ScanResult, error) {
					return s.ScanProvenance(runCtx, prov)
				})
				if err != nil {
					result = failureResult(prov, meta, "ProvenanceScanner",
						fmt.Sprintf("Scanner %s failed for %s: %v", meta.name, prov.Key(), err))
				}
				result.Provenance = prov
				if result.Scanner == (scanresult.ScannerDetails{}) {
					result.Scanner = meta.details()
				}
				if st.addResult(meta.name, prov, result) && err == nil {
					c.writeThrough(gctx, meta, result, st)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// pathScanPhase materializes each provenance that still misses path-scanner
// results exactly once and runs every missing path scanner against the same
// directory. On download failure a synthesized downloader result is
// recorded for every missing scanner and the run continues.
func (c *Controller) pathScanPhase(ctx context.Context, set ScannerSet, st *runState) error {
	if len(set.Path) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel())
	for _, prov := range st.distinctProvenances() {
		g.Go(func() error {
			var missing []scanner.PathScanner
			for _, s := range set.Path {
				if !st.hasResult(s.Name(), prov) {
					missing = append(missing, s)
				}
			}
			if len(missing) == 0 {
				return nil
			}

			start := time.Now()
			dir, err := c.cfg.Downloader.Download(gctx, prov)
			c.stats.AfterDownload(prov.Key(), time.Since(start), err)
			if err != nil {
				// Not persisted: a missing download says nothing about the
				// source itself.
				for _, s := range missing {
					meta := metaOf(s)
					st.addResult(meta.name, prov, failureResult(prov, meta, "Downloader",
						fmt.Sprintf("Could not download provenance %s: %v", prov.Key(), err)))
				}
				return nil
			}
			defer func() {
				if err := os.RemoveAll(dir); err != nil {
					log.Warnf("controller: remove download dir %s: %v", dir, err)
				}
			}()

			for _, s := range missing {
				meta := metaOf(s)
				result, err := c.runOnce(gctx, st, meta, prov, func(runCtx context.Context) (scanresult.ScanResult, error) {
					summary, err := s.ScanPath(runCtx, dir)
					return scanresult.ScanResult{Provenance: prov, Scanner: meta.details(), Summary: summary}, err
				})
				if err != nil {
					result = failureResult(prov, meta, "PathScanner",
						fmt.Sprintf("Scanner %s failed for %s: %v", meta.name, prov.Key(), err))
				}
				if st.addResult(meta.name, prov, result) && err == nil {
					c.writeThrough(gctx, meta, result, st)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// runOnce invokes one scanner for one provenance through the
// duplicate-suppression group, so concurrent requests for the same
// (scanner, provenance) cell collapse into a single engine call.
func (c *Controller) runOnce(ctx context.Context, st *runState, meta scannerMeta, prov provenance.Provenance, run func(context.Context) (scanresult.ScanResult, error)) (scanresult.ScanResult, error) {
	key := meta.name + "|" + prov.Key()
	v, err, _ := st.flight.Do(key, func() (any, error) {
		start := time.Now()
		result, err := run(ctx)
		c.stats.AfterScannerRun(meta.name, prov.Key(), time.Since(start), err)
		return result, err
	})
	result, _ := v.(scanresult.ScanResult)
	return result, err
}

// writeThrough persists one completed result: provenance-keyed
// unconditionally, package-keyed for every package whose nested tree just
// became complete for this scanner. Storage failures are logged and
// dropped; a run never aborts because a cache is unavailable.
func (c *Controller) writeThrough(ctx context.Context, meta scannerMeta, result scanresult.ScanResult, st *runState) {
	if meta.matcher == nil {
		return
	}
	for _, vs := range c.cfg.ProvenanceStores {
		_, err := vs.Write(ctx, result)
		c.stats.AfterWriteThrough("provenance", result.Provenance.Key(), err)
		if err != nil {
			log.Warnf("controller: provenance store write for %s: %v", result.Provenance.Key(), err)
		}
	}
	if len(c.cfg.PackageStores) == 0 {
		return
	}

	st.mu.Lock()
	type completed struct {
		id     identifier.Identifier
		nested provenance.NestedProvenance
	}
	var ready []completed
	for id, prov := range st.pkgProv {
		nested, ok := st.nested[prov.WithoutPath().Key()]
		if !ok {
			continue
		}
		if st.pkgWritten[meta.name][id] {
			continue
		}
		ready = append(ready, completed{id: id, nested: nested})
	}
	st.mu.Unlock()

	for _, cand := range ready {
		if !st.treeComplete(meta.name, cand.nested) {
			continue
		}
		st.mu.Lock()
		if st.pkgWritten[meta.name] == nil {
			st.pkgWritten[meta.name] = map[identifier.Identifier]bool{}
		}
		alreadyWritten := st.pkgWritten[meta.name][cand.id]
		st.pkgWritten[meta.name][cand.id] = true
		st.mu.Unlock()
		if alreadyWritten {
			continue
		}
		tree := st.scannerTreeResults(cand.nested, meta.name)
		for _, ps := range c.cfg.PackageStores {
			err := ps.Write(ctx, cand.id, tree)
			c.stats.AfterWriteThrough("package", cand.id.String(), err)
			if err != nil {
				log.Warnf("controller: package store write for %s: %v", cand.id, err)
			}
		}
	}
}
