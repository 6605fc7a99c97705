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

// Package controller implements the scan controller: the orchestration
// engine that turns a set of packages into a deduplicated, cache-aware,
// provenance-sharded work plan, executes that plan against the configured
// scanners and storages, and assembles the final per-package result tree.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/scancore/scanctl/assembler"
	"github.com/scancore/scanctl/identifier"
	"github.com/scancore/scanctl/log"
	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/resolver"
	"github.com/scancore/scanctl/scanner"
	"github.com/scancore/scanctl/scanresult"
	"github.com/scancore/scanctl/stats"
	"github.com/scancore/scanctl/store"
	"github.com/scancore/scanctl/workingtree"
)

// ErrConfigurationInvalid is returned by New for configurations that cannot
// produce a meaningful scan run. It is fatal: no run is started.
var ErrConfigurationInvalid = errors.New("controller: configuration invalid")

// PackageProvenanceResolver resolves one package to a validated provenance.
// Implemented by resolver.PackageResolver.
type PackageProvenanceResolver interface {
	Resolve(ctx context.Context, pkg pkgmodel.Package, origins []resolver.Origin) (provenance.Provenance, bool, error)
}

// NestedProvenanceResolver resolves a path-stripped Known provenance to its
// tree of embedded repositories. Implemented by resolver.NestedResolver.
type NestedProvenanceResolver interface {
	Resolve(ctx context.Context, known provenance.Provenance) (provenance.NestedProvenance, error)
}

// Downloader materializes a Known provenance into a fresh directory owned
// by the controller. Implemented by download.Downloader.
type Downloader interface {
	Download(ctx context.Context, prov provenance.Provenance) (string, error)
}

// Archiver persists one full-tree source archive per nested-provenance
// root.
type Archiver interface {
	HasArchive(ctx context.Context, root provenance.Provenance) (bool, error)
	Archive(ctx context.Context, root provenance.Provenance, dir string) error
}

// ContextType selects which scanner set a run uses.
type ContextType int

// ContextType values.
const (
	TypePackage ContextType = iota
	TypeProject
)

// ScanContext carries the per-run inputs that are not packages: the
// project/package discriminator and free-form labels forwarded to scanners
// via the context (see Labels).
type ScanContext struct {
	Type   ContextType
	Labels map[string]string
}

type labelsKey struct{}

// Labels extracts the scan labels attached to ctx, or nil. Scanner adapters
// that forward labels to their engine read them from here.
func Labels(ctx context.Context) map[string]string {
	l, _ := ctx.Value(labelsKey{}).(map[string]string)
	return l
}

// ScannerSet bundles the three adapter capabilities a run can dispatch to.
type ScannerSet struct {
	Package    []scanner.PackageScanner
	Provenance []scanner.ProvenanceScanner
	Path       []scanner.PathScanner
}

func (s ScannerSet) empty() bool {
	return len(s.Package) == 0 && len(s.Provenance) == 0 && len(s.Path) == 0
}

// Config wires a Controller. Scanners is the set used for TypePackage runs;
// ProjectScanners, when non-nil, overrides it for TypeProject runs.
type Config struct {
	Scanners        ScannerSet
	ProjectScanners *ScannerSet

	PackageResolver PackageProvenanceResolver
	NestedResolver  NestedProvenanceResolver
	Downloader      Downloader
	Archiver        Archiver

	// WorkingTrees, when non-nil, is owned by the run: Scan shuts it down
	// before returning, deleting every checkout it allocated.
	WorkingTrees *workingtree.Cache

	PackageStores    []store.PackageScanStore
	ProvenanceStores []store.ProvenanceScanStore

	// Origins is the priority order in which a package's source origins are
	// tried during provenance resolution.
	Origins []resolver.Origin
	// SkipConcluded skips packages that have both a concluded license and
	// declared authors.
	SkipConcluded bool

	LicenseFilePatterns []string
	IgnorePatterns      []string

	Stats stats.Collector
	// MaxParallel bounds how many provenances are processed concurrently in
	// each dispatch phase. Zero means DefaultMaxParallel.
	MaxParallel int
}

// DefaultMaxParallel is the per-phase concurrency bound used when
// Config.MaxParallel is zero.
const DefaultMaxParallel = 8

// Controller is the scan orchestrator. One Controller may serve multiple
// runs, but a Config carrying a WorkingTrees cache is good for a single
// Scan call only, since the run tears the cache down on exit.
type Controller struct {
	cfg          Config
	stats        stats.Collector
	licenseGlobs []glob.Glob
	ignoreGlobs  []glob.Glob
}

// New validates cfg and builds a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.PackageResolver == nil {
		return nil, fmt.Errorf("%w: PackageResolver is required", ErrConfigurationInvalid)
	}
	if cfg.NestedResolver == nil {
		return nil, fmt.Errorf("%w: NestedResolver is required", ErrConfigurationInvalid)
	}
	if cfg.Scanners.empty() && (cfg.ProjectScanners == nil || cfg.ProjectScanners.empty()) {
		return nil, fmt.Errorf("%w: no scanners configured", ErrConfigurationInvalid)
	}
	if len(cfg.Scanners.Path) > 0 && cfg.Downloader == nil {
		return nil, fmt.Errorf("%w: path scanners require a Downloader", ErrConfigurationInvalid)
	}
	if len(cfg.Origins) == 0 {
		cfg.Origins = []resolver.Origin{resolver.OriginVCS, resolver.OriginArtifact}
	}
	licenseGlobs, err := assembler.CompileGlobs(cfg.LicenseFilePatterns)
	if err != nil {
		return nil, fmt.Errorf("%w: license file patterns: %v", ErrConfigurationInvalid, err)
	}
	ignoreGlobs, err := assembler.CompileGlobs(cfg.IgnorePatterns)
	if err != nil {
		return nil, fmt.Errorf("%w: ignore patterns: %v", ErrConfigurationInvalid, err)
	}
	collector := cfg.Stats
	if collector == nil {
		collector = stats.NoopCollector{}
	}
	return &Controller{
		cfg:          cfg,
		stats:        collector,
		licenseGlobs: licenseGlobs,
		ignoreGlobs:  ignoreGlobs,
	}, nil
}

// Scan executes the full pipeline for packages and returns one entry per
// scanned package, each holding one assembled ScanResult per scanner.
// Recoverable failures are embedded as issues inside the returned results;
// only fatal conditions (unsupported VCS, cache shut down, invalid
// configuration) make Scan itself fail.
func (c *Controller) Scan(ctx context.Context, packages []pkgmodel.Package, scanCtx ScanContext) (map[identifier.Identifier][]scanresult.ScanResult, error) {
	if scanCtx.Labels != nil {
		ctx = context.WithValue(ctx, labelsKey{}, scanCtx.Labels)
	}
	if c.cfg.WorkingTrees != nil {
		defer func() {
			// Shutdown blocks until in-flight working-tree actions drain, then
			// deletes every checkout. Run it even when ctx is already
			// cancelled.
			if err := c.cfg.WorkingTrees.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.Warnf("controller: working-tree shutdown: %v", err)
			}
		}()
	}

	set := c.scannersFor(scanCtx)
	st := newRunState()

	pkgs := c.filterPackages(packages)

	if err := c.resolvePackageProvenances(ctx, pkgs, st); err != nil {
		return nil, err
	}
	if err := c.resolveNestedProvenances(ctx, pkgs, st); err != nil {
		return nil, err
	}
	c.readCaches(ctx, pkgs, set, st)
	if err := c.packageScanPhase(ctx, pkgs, set, st); err != nil {
		return nil, err
	}
	if err := c.provenanceScanPhase(ctx, set, st); err != nil {
		return nil, err
	}
	if err := c.pathScanPhase(ctx, set, st); err != nil {
		return nil, err
	}
	c.archivePhase(ctx, st)

	return c.assemble(pkgs, set, st), nil
}

// scannersFor selects the scanner set for the run's context type.
func (c *Controller) scannersFor(scanCtx ScanContext) ScannerSet {
	if scanCtx.Type == TypeProject && c.cfg.ProjectScanners != nil {
		return *c.cfg.ProjectScanners
	}
	return c.cfg.Scanners
}

func (c *Controller) maxParallel() int {
	if c.cfg.MaxParallel > 0 {
		return c.cfg.MaxParallel
	}
	return DefaultMaxParallel
}

// filterPackages drops packages that need no scan: metadata-only records
// always, concluded-and-authored packages when configured.
func (c *Controller) filterPackages(packages []pkgmodel.Package) []pkgmodel.Package {
	out := make([]pkgmodel.Package, 0, len(packages))
	for _, p := range packages {
		if p.MetadataOnly {
			log.Debugf("controller: skipping metadata-only package %s", p.ID)
			continue
		}
		if c.cfg.SkipConcluded && p.HasConcludedLicense() && len(p.Authors) > 0 {
			log.Debugf("controller: skipping %s: concluded license and authors present", p.ID)
			continue
		}
		out = append(out, p)
	}
	return out
}

// fatal reports whether err must abort the run instead of degrading into a
// per-package issue.
func fatal(err error) bool {
	return errors.Is(err, workingtree.ErrUnsupportedVCS) ||
		errors.Is(err, workingtree.ErrCacheShutDown) ||
		errors.Is(err, ErrConfigurationInvalid)
}

// resolvePackageProvenances runs the package-provenance resolver for every
// package, recording either a provenance or a resolution issue.
func (c *Controller) resolvePackageProvenances(ctx context.Context, pkgs []pkgmodel.Package, st *runState) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel())
	for _, pkg := range pkgs {
		g.Go(func() error {
			start := time.Now()
			prov, _, err := c.cfg.PackageResolver.Resolve(gctx, pkg, c.cfg.Origins)
			c.stats.AfterProvenanceResolved(pkg.ID.String(), time.Since(start), err)
			if err != nil {
				if fatal(err) {
					return err
				}
				st.addPackageIssue(pkg.ID, scanresult.Issue{
					Source:     "PackageProvenanceResolver",
					Severity:   scanresult.SeverityError,
					Message:    err.Error(),
					Provenance: provenance.Unknown,
				})
				return nil
			}
			st.setPackageProvenance(pkg.ID, prov)
			return nil
		})
	}
	return g.Wait()
}

// resolveNestedProvenances runs the nested resolver once per distinct
// path-stripped provenance and fans failures out to every package mapping
// to that provenance.
func (c *Controller) resolveNestedProvenances(ctx context.Context, pkgs []pkgmodel.Package, st *runState) error {
	distinct := map[string]provenance.Provenance{}
	mapping := map[string][]identifier.Identifier{}
	for _, pkg := range pkgs {
		prov, ok := st.packageProvenance(pkg.ID)
		if !ok {
			continue
		}
		stripped := prov.WithoutPath()
		distinct[stripped.Key()] = stripped
		mapping[stripped.Key()] = append(mapping[stripped.Key()], pkg.ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel())
	for _, key := range sortedKeys(distinct) {
		stripped := distinct[key]
		g.Go(func() error {
			nested, err := c.cfg.NestedResolver.Resolve(gctx, stripped)
			if err != nil {
				if fatal(err) {
					return err
				}
				for _, id := range mapping[key] {
					st.addPackageIssue(id, scanresult.Issue{
						Source:     "NestedProvenanceResolver",
						Severity:   scanresult.SeverityError,
						Message:    err.Error(),
						Provenance: stripped,
					})
				}
				return nil
			}
			st.setNested(key, nested)
			return nil
		})
	}
	return g.Wait()
}

// archivePhase stores one full-tree archive per nested-provenance root that
// does not have one yet. Archive trees are materialized recursively so the
// snapshot contains every sub-repository in place. Failures here never fail
// the run.
func (c *Controller) archivePhase(ctx context.Context, st *runState) {
	if c.cfg.Archiver == nil {
		return
	}
	if c.cfg.Downloader == nil {
		log.Warnf("controller: archiver configured without a downloader; skipping archiving")
		return
	}
	for _, key := range sortedKeys(st.nested) {
		nested := st.nested[key]
		root := nested.Root
		has, err := c.cfg.Archiver.HasArchive(ctx, root)
		if err != nil {
			log.Warnf("controller: archive lookup for %s: %v", root.Key(), err)
			continue
		}
		if has {
			continue
		}
		dir, err := c.downloadTree(ctx, nested)
		if err != nil {
			log.Warnf("controller: archive download for %s: %v", root.Key(), err)
			continue
		}
		if err := c.cfg.Archiver.Archive(ctx, root, dir); err != nil {
			log.Warnf("controller: archive for %s: %v", root.Key(), err)
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warnf("controller: remove archive staging dir %s: %v", dir, err)
		}
	}
}

// downloadTree materializes nested's root and copies each sub-repository
// into its path, yielding a single-directory snapshot of the whole tree.
func (c *Controller) downloadTree(ctx context.Context, nested provenance.NestedProvenance) (string, error) {
	start := time.Now()
	dir, err := c.cfg.Downloader.Download(ctx, nested.Root)
	c.stats.AfterDownload(nested.Root.Key(), time.Since(start), err)
	if err != nil {
		return "", err
	}

	// Parents before children so a nested sub-repository lands inside its
	// already-placed parent.
	paths := make([]string, 0, len(nested.SubRepositories))
	for p := range nested.SubRepositories {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return len(paths[i]) < len(paths[j]) })

	for _, path := range paths {
		sub := provenance.FromRepository(nested.SubRepositories[path]).WithoutPath()
		start := time.Now()
		subDir, err := c.cfg.Downloader.Download(ctx, sub)
		c.stats.AfterDownload(sub.Key(), time.Since(start), err)
		if err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.RemoveAll(target); err == nil {
			err = os.MkdirAll(filepath.Dir(target), 0o755)
			if err == nil {
				err = os.Rename(subDir, target)
			}
		}
		if err != nil {
			os.RemoveAll(subDir)
			os.RemoveAll(dir)
			return "", fmt.Errorf("place sub-repository at %s: %w", path, err)
		}
	}
	return dir, nil
}

// assemble builds the per-package outputs: merged, filtered results for
// resolved packages and sentinel empty results carrying the resolution
// issues for everything else.
func (c *Controller) assemble(pkgs []pkgmodel.Package, set ScannerSet, st *runState) map[identifier.Identifier][]scanresult.ScanResult {
	metas := scannerMetas(set)
	out := make(map[identifier.Identifier][]scanresult.ScanResult, len(pkgs))

	for _, pkg := range pkgs {
		prov, okProv := st.packageProvenance(pkg.ID)
		var nested provenance.NestedProvenance
		okNested := false
		if okProv {
			nested, okNested = st.nestedFor(prov)
		}
		if !okProv || !okNested {
			now := time.Now()
			issues := st.packageIssues(pkg.ID)
			for _, meta := range metas {
				out[pkg.ID] = append(out[pkg.ID], scanresult.ScanResult{
					Provenance: provenance.Unknown,
					Scanner:    meta.details(),
					Summary:    scanresult.ScanSummary{StartTime: now, EndTime: now, Issues: issues},
				})
			}
			continue
		}

		tree := st.treeResults(nested, metas)
		merged, err := assembler.Merge(tree)
		if err != nil {
			log.Errorf("controller: merge results for %s: %v", pkg.ID, err)
			continue
		}
		for _, r := range merged {
			r = assembler.FilterByVCSPath(r, prov.Path(), c.licenseGlobs)
			r = assembler.FilterByIgnorePatterns(r, c.ignoreGlobs)
			r.Provenance = prov
			out[pkg.ID] = append(out[pkg.ID], r)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
