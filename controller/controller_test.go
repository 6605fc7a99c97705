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

package controller_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/scancore/scanctl/controller"
	"github.com/scancore/scanctl/identifier"
	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/plugin"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/resolver"
	"github.com/scancore/scanctl/scanner"
	"github.com/scancore/scanctl/scanresult"
	"github.com/scancore/scanctl/store"
	"github.com/scancore/scanctl/store/memstore"
	"github.com/scancore/scanctl/testing/fakescanner"
	"github.com/scancore/scanctl/workingtree"
)

type fakePackageResolver struct {
	provs map[identifier.Identifier]provenance.Provenance
	errs  map[identifier.Identifier]error
}

func (f *fakePackageResolver) Resolve(_ context.Context, pkg pkgmodel.Package, _ []resolver.Origin) (provenance.Provenance, bool, error) {
	if err := f.errs[pkg.ID]; err != nil {
		return provenance.Unknown, false, err
	}
	prov, ok := f.provs[pkg.ID]
	if !ok {
		return provenance.Unknown, false, fmt.Errorf("%w: %s", resolver.ErrProvenanceUnresolvable, pkg.ID)
	}
	return prov, true, nil
}

type fakeNestedResolver struct {
	trees map[string]provenance.NestedProvenance
}

func (f *fakeNestedResolver) Resolve(_ context.Context, known provenance.Provenance) (provenance.NestedProvenance, error) {
	known = known.WithoutPath()
	if tree, ok := f.trees[known.Key()]; ok {
		return tree, nil
	}
	return provenance.NestedProvenance{Root: known, SubRepositories: map[string]provenance.Repository{}}, nil
}

type fakeDownloader struct {
	err   error
	calls int32

	mu    sync.Mutex
	provs []provenance.Provenance
}

func (f *fakeDownloader) Download(_ context.Context, prov provenance.Provenance) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.provs = append(f.provs, prov)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	dir, err := os.MkdirTemp("", "scanctl-test-dl")
	if err != nil {
		return "", err
	}
	return dir, nil
}

func artifactProv() provenance.Provenance {
	return provenance.FromArtifact(provenance.Artifact{URL: "https://example/a.tar.gz", Hash: "md5:0123"})
}

func repoProv(path string) provenance.Provenance {
	return provenance.FromRepository(provenance.Repository{
		VCSType:          "git",
		URL:              "https://example/repo.git",
		ResolvedRevision: "abc123",
		Path:             path,
	})
}

func fakeDetails() scanresult.ScannerDetails {
	return scanresult.ScannerDetails{Name: "fake", Version: "1.0.0"}
}

func licenseFinding(path, value string) scanresult.Finding {
	return scanresult.Finding{
		Kind:     scanresult.FindingKindLicense,
		Value:    value,
		Location: scanresult.Location{Path: path, StartLine: 1, EndLine: 1},
	}
}

func findingPaths(findings []scanresult.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Location.Path)
	}
	return out
}

func newController(t *testing.T, cfg controller.Config) *controller.Controller {
	t.Helper()
	c, err := controller.New(cfg)
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	return c
}

// Fresh caches, one artifact package, one path scanner: the source is
// downloaded once, scanned once, and the result lands in both store kinds.
func TestScanArtifactPathScanner(t *testing.T) {
	id := identifier.Identifier{Type: "generic", Name: "a", Version: "1.0"}
	pkg := pkgmodel.Package{ID: id, SourceArtifact: pkgmodel.SourceArtifact{URL: "https://example/a.tar.gz", Hash: "md5:0123"}}

	path := fakescanner.NewPath("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()),
		scanresult.ScanSummary{LicenseFindings: []scanresult.Finding{licenseFinding("LICENSE", "MIT")}}, nil)
	dl := &fakeDownloader{}
	mem := memstore.New()

	c := newController(t, controller.Config{
		Scanners:         controller.ScannerSet{Path: []scanner.PathScanner{path}},
		PackageResolver:  &fakePackageResolver{provs: map[identifier.Identifier]provenance.Provenance{id: artifactProv()}},
		NestedResolver:   &fakeNestedResolver{},
		Downloader:       dl,
		PackageStores:    []store.PackageScanStore{mem.PackageScans()},
		ProvenanceStores: []store.ProvenanceScanStore{mem.ProvenanceScans()},
	})

	got, err := c.Scan(context.Background(), []pkgmodel.Package{pkg}, controller.ScanContext{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	results := got[id]
	if len(results) != 1 {
		t.Fatalf("got %d results for %s, want 1", len(results), id)
	}
	if diff := cmp.Diff([]string{"LICENSE"}, findingPaths(results[0].Summary.LicenseFindings)); diff != "" {
		t.Errorf("finding paths diff (-want +got):\n%s", diff)
	}
	if !results[0].Provenance.Equal(artifactProv()) {
		t.Errorf("result provenance = %v, want artifact", results[0].Provenance)
	}
	if dl.calls != 1 {
		t.Errorf("downloader called %d times, want 1", dl.calls)
	}
	if path.Calls != 1 {
		t.Errorf("path scanner called %d times, want 1", path.Calls)
	}

	stored, err := mem.ProvenanceScans().Read(context.Background(), artifactProv(), nil)
	if err != nil || len(stored) != 1 {
		t.Errorf("provenance store has %d results (err %v), want 1", len(stored), err)
	}
	nested := provenance.NestedProvenance{Root: artifactProv(), SubRepositories: map[string]provenance.Repository{}}
	pkgStored, err := mem.PackageScans().Read(context.Background(), id, nested, nil)
	if err != nil || len(pkgStored) != 1 {
		t.Errorf("package store has %d results (err %v), want 1", len(pkgStored), err)
	}
}

// Two packages in the same repository differing only in sub-tree path share
// one package-scanner invocation with the path cleared; each package's
// output is filtered down to its own sub-tree plus license files.
func TestScanSharedRepositoryPackageScanner(t *testing.T) {
	idA := identifier.Identifier{Type: "maven", Namespace: "org.example", Name: "a", Version: "1.0"}
	idB := identifier.Identifier{Type: "maven", Namespace: "org.example", Name: "b", Version: "1.0"}
	pkgA := pkgmodel.Package{ID: idA, VCSInfo: pkgmodel.VCSInfo{Type: "git", URL: "https://example/repo.git", Path: "subA"}}
	pkgB := pkgmodel.Package{ID: idB, VCSInfo: pkgmodel.VCSInfo{Type: "git", URL: "https://example/repo.git", Path: "subB"}}

	wholeRepo := scanresult.ScanResult{
		Provenance: repoProv(""),
		Scanner:    fakeDetails(),
		Summary: scanresult.ScanSummary{LicenseFindings: []scanresult.Finding{
			licenseFinding("subA/main.go", "MIT"),
			licenseFinding("subB/util.go", "Apache-2.0"),
			licenseFinding("LICENSE", "MIT"),
		}},
	}
	ps := fakescanner.NewPackage("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()), wholeRepo, nil)
	mem := memstore.New()

	c := newController(t, controller.Config{
		Scanners: controller.ScannerSet{Package: []scanner.PackageScanner{ps}},
		PackageResolver: &fakePackageResolver{provs: map[identifier.Identifier]provenance.Provenance{
			idA: repoProv("subA"),
			idB: repoProv("subB"),
		}},
		NestedResolver:      &fakeNestedResolver{},
		ProvenanceStores:    []store.ProvenanceScanStore{mem.ProvenanceScans()},
		LicenseFilePatterns: []string{"LICENSE"},
	})

	got, err := c.Scan(context.Background(), []pkgmodel.Package{pkgA, pkgB}, controller.ScanContext{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if ps.Calls != 1 {
		t.Fatalf("package scanner called %d times, want 1", ps.Calls)
	}
	if got := ps.Packages[0].VCSInfo.Path; got != "" {
		t.Errorf("reference package VCS path = %q, want cleared", got)
	}

	wantA := []string{"subA/main.go", "LICENSE"}
	if diff := cmp.Diff(wantA, findingPaths(got[idA][0].Summary.LicenseFindings)); diff != "" {
		t.Errorf("package A finding paths diff (-want +got):\n%s", diff)
	}
	wantB := []string{"subB/util.go", "LICENSE"}
	if diff := cmp.Diff(wantB, findingPaths(got[idB][0].Summary.LicenseFindings)); diff != "" {
		t.Errorf("package B finding paths diff (-want +got):\n%s", diff)
	}
}

// A stored result whose details pass the matcher short-circuits scanning
// entirely: no downloads, no scanner invocations, stored findings returned.
func TestScanCacheHit(t *testing.T) {
	id := identifier.Identifier{Type: "golang", Namespace: "example.com", Name: "mod", Version: "v1.0.0"}
	pkg := pkgmodel.Package{ID: id, VCSInfo: pkgmodel.VCSInfo{Type: "git", URL: "https://example/repo.git"}}

	mem := memstore.New()
	stored := scanresult.ScanResult{
		Provenance: repoProv(""),
		Scanner:    fakeDetails(),
		Summary:    scanresult.ScanSummary{LicenseFindings: []scanresult.Finding{licenseFinding("LICENSE", "BSD-3-Clause")}},
	}
	if _, err := mem.ProvenanceScans().Write(context.Background(), stored); err != nil {
		t.Fatalf("seed provenance store: %v", err)
	}

	prov := fakescanner.NewProvenance("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()),
		scanresult.ScanResult{}, errors.New("must not be called"))
	dl := &fakeDownloader{err: errors.New("must not be called")}

	c := newController(t, controller.Config{
		Scanners:         controller.ScannerSet{Provenance: []scanner.ProvenanceScanner{prov}},
		PackageResolver:  &fakePackageResolver{provs: map[identifier.Identifier]provenance.Provenance{id: repoProv("")}},
		NestedResolver:   &fakeNestedResolver{},
		Downloader:       dl,
		ProvenanceStores: []store.ProvenanceScanStore{mem.ProvenanceScans()},
	})

	got, err := c.Scan(context.Background(), []pkgmodel.Package{pkg}, controller.ScanContext{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if prov.Calls != 0 {
		t.Errorf("provenance scanner called %d times, want 0 (cache hit)", prov.Calls)
	}
	if dl.calls != 0 {
		t.Errorf("downloader called %d times, want 0", dl.calls)
	}
	results := got[id]
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if diff := cmp.Diff([]string{"LICENSE"}, findingPaths(results[0].Summary.LicenseFindings)); diff != "" {
		t.Errorf("finding paths diff (-want +got):\n%s", diff)
	}
	if !results[0].Provenance.Equal(repoProv("")) {
		t.Errorf("result provenance = %v, want rewritten to the package's provenance", results[0].Provenance)
	}
}

// A failed download synthesizes a downloader-attributed error result for
// every missing path scanner; the run still succeeds and nothing is
// persisted.
func TestScanDownloadFailure(t *testing.T) {
	id := identifier.Identifier{Type: "generic", Name: "broken", Version: "0.1"}
	pkg := pkgmodel.Package{ID: id, SourceArtifact: pkgmodel.SourceArtifact{URL: "https://example/a.tar.gz", Hash: "md5:0123"}}

	path1 := fakescanner.NewPath("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()), scanresult.ScanSummary{}, nil)
	path2 := fakescanner.NewPath("other", "2.0.0", scanresult.ExactMatcher(scanresult.ScannerDetails{Name: "other", Version: "2.0.0"}), scanresult.ScanSummary{}, nil)
	mem := memstore.New()

	c := newController(t, controller.Config{
		Scanners:         controller.ScannerSet{Path: []scanner.PathScanner{path1, path2}},
		PackageResolver:  &fakePackageResolver{provs: map[identifier.Identifier]provenance.Provenance{id: artifactProv()}},
		NestedResolver:   &fakeNestedResolver{},
		Downloader:       &fakeDownloader{err: errors.New("connection reset")},
		ProvenanceStores: []store.ProvenanceScanStore{mem.ProvenanceScans()},
	})

	got, err := c.Scan(context.Background(), []pkgmodel.Package{pkg}, controller.ScanContext{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	results := got[id]
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (one per path scanner)", len(results))
	}
	for _, r := range results {
		if len(r.Summary.LicenseFindings)+len(r.Summary.CopyrightFindings) != 0 {
			t.Errorf("scanner %s: findings present, want empty summary", r.Scanner.Name)
		}
		if len(r.Summary.Issues) != 1 {
			t.Fatalf("scanner %s: %d issues, want 1", r.Scanner.Name, len(r.Summary.Issues))
		}
		issue := r.Summary.Issues[0]
		if issue.Source != "Downloader" || issue.Severity != scanresult.SeverityError {
			t.Errorf("scanner %s: issue = %+v, want Error from Downloader", r.Scanner.Name, issue)
		}
		if !strings.Contains(issue.Message, "Could not download provenance") {
			t.Errorf("scanner %s: issue message = %q, want download failure text", r.Scanner.Name, issue.Message)
		}
	}
	if path1.Calls != 0 || path2.Calls != 0 {
		t.Errorf("path scanners called %d/%d times, want 0/0", path1.Calls, path2.Calls)
	}
	stored, err := mem.ProvenanceScans().Read(context.Background(), artifactProv(), nil)
	if err != nil || len(stored) != 0 {
		t.Errorf("provenance store has %d results (err %v), want 0", len(stored), err)
	}
}

// With one sub-repository already cached, only the root is downloaded and
// scanned; the cached sub-repository findings come back under their path
// prefix.
func TestScanNestedSubRepoCached(t *testing.T) {
	id := identifier.Identifier{Type: "golang", Namespace: "example.com", Name: "root", Version: "v2.0.0"}
	pkg := pkgmodel.Package{ID: id, VCSInfo: pkgmodel.VCSInfo{Type: "git", URL: "https://example/repo.git"}}

	subRepo := provenance.Repository{
		VCSType:          "git",
		URL:              "https://example/sub.git",
		ResolvedRevision: "def456",
		Path:             "vendor/x",
	}
	subProv := provenance.FromRepository(subRepo).WithoutPath()
	nested := provenance.NestedProvenance{
		Root:            repoProv(""),
		SubRepositories: map[string]provenance.Repository{"vendor/x": subRepo},
	}

	mem := memstore.New()
	cached := scanresult.ScanResult{
		Provenance: subProv,
		Scanner:    fakeDetails(),
		Summary:    scanresult.ScanSummary{LicenseFindings: []scanresult.Finding{licenseFinding("LICENSE", "ISC")}},
	}
	if _, err := mem.ProvenanceScans().Write(context.Background(), cached); err != nil {
		t.Fatalf("seed provenance store: %v", err)
	}

	path := fakescanner.NewPath("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()),
		scanresult.ScanSummary{LicenseFindings: []scanresult.Finding{licenseFinding("README.md", "MIT")}}, nil)
	dl := &fakeDownloader{}

	c := newController(t, controller.Config{
		Scanners:        controller.ScannerSet{Path: []scanner.PathScanner{path}},
		PackageResolver: &fakePackageResolver{provs: map[identifier.Identifier]provenance.Provenance{id: repoProv("")}},
		NestedResolver: &fakeNestedResolver{trees: map[string]provenance.NestedProvenance{
			repoProv("").Key(): nested,
		}},
		Downloader:       dl,
		ProvenanceStores: []store.ProvenanceScanStore{mem.ProvenanceScans()},
	})

	got, err := c.Scan(context.Background(), []pkgmodel.Package{pkg}, controller.ScanContext{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if dl.calls != 1 {
		t.Fatalf("downloader called %d times, want 1 (root only)", dl.calls)
	}
	if !dl.provs[0].Equal(repoProv("")) {
		t.Errorf("downloaded %v, want the root provenance", dl.provs[0])
	}
	if path.Calls != 1 {
		t.Errorf("path scanner called %d times, want 1", path.Calls)
	}

	results := got[id]
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	want := []string{"README.md", "vendor/x/LICENSE"}
	if diff := cmp.Diff(want, findingPaths(results[0].Summary.LicenseFindings)); diff != "" {
		t.Errorf("finding paths diff (-want +got):\n%s", diff)
	}

	rootStored, err := mem.ProvenanceScans().Read(context.Background(), repoProv(""), nil)
	if err != nil || len(rootStored) != 1 {
		t.Errorf("root provenance store has %d results (err %v), want 1", len(rootStored), err)
	}
}

// An unresolvable package yields one sentinel empty result per configured
// scanner, carrying the resolution issue; the run itself succeeds.
func TestScanUnresolvableProvenance(t *testing.T) {
	id := identifier.Identifier{Type: "generic", Name: "ghost", Version: "0.0.1"}
	pkg := pkgmodel.Package{ID: id}

	path := fakescanner.NewPath("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()), scanresult.ScanSummary{}, nil)

	c := newController(t, controller.Config{
		Scanners:        controller.ScannerSet{Path: []scanner.PathScanner{path}},
		PackageResolver: &fakePackageResolver{},
		NestedResolver:  &fakeNestedResolver{},
		Downloader:      &fakeDownloader{},
	})

	got, err := c.Scan(context.Background(), []pkgmodel.Package{pkg}, controller.ScanContext{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	results := got[id]
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 sentinel per scanner", len(results))
	}
	r := results[0]
	if r.Provenance.IsKnown() {
		t.Errorf("sentinel provenance = %v, want unknown", r.Provenance)
	}
	if len(r.Summary.Issues) != 1 || r.Summary.Issues[0].Source != "PackageProvenanceResolver" {
		t.Errorf("sentinel issues = %+v, want one resolver issue", r.Summary.Issues)
	}
	if path.Calls != 0 {
		t.Errorf("path scanner called %d times, want 0", path.Calls)
	}
}

func TestScanSkipsPackages(t *testing.T) {
	metadataOnly := pkgmodel.Package{
		ID:           identifier.Identifier{Type: "generic", Name: "meta", Version: "1"},
		MetadataOnly: true,
	}
	concluded := pkgmodel.Package{
		ID:               identifier.Identifier{Type: "generic", Name: "done", Version: "1"},
		ConcludedLicense: "MIT",
		Authors:          []string{"Jane Doe"},
		SourceArtifact:   pkgmodel.SourceArtifact{URL: "https://example/a.tar.gz"},
	}

	path := fakescanner.NewPath("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()), scanresult.ScanSummary{}, nil)
	c := newController(t, controller.Config{
		Scanners:        controller.ScannerSet{Path: []scanner.PathScanner{path}},
		PackageResolver: &fakePackageResolver{},
		NestedResolver:  &fakeNestedResolver{},
		Downloader:      &fakeDownloader{},
		SkipConcluded:   true,
	})

	got, err := c.Scan(context.Background(), []pkgmodel.Package{metadataOnly, concluded}, controller.ScanContext{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d entries, want 0 (both packages skipped)", len(got))
	}
}

// An unsupported VCS is fatal: the run aborts instead of degrading into
// issues.
func TestScanFatalUnsupportedVCS(t *testing.T) {
	id := identifier.Identifier{Type: "generic", Name: "cvs-relic", Version: "1"}
	pkg := pkgmodel.Package{ID: id, VCSInfo: pkgmodel.VCSInfo{Type: "cvs", URL: "https://example/cvs"}}

	path := fakescanner.NewPath("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()), scanresult.ScanSummary{}, nil)
	c := newController(t, controller.Config{
		Scanners:        controller.ScannerSet{Path: []scanner.PathScanner{path}},
		PackageResolver: &fakePackageResolver{errs: map[identifier.Identifier]error{id: fmt.Errorf("resolve: %w", workingtree.ErrUnsupportedVCS)}},
		NestedResolver:  &fakeNestedResolver{},
		Downloader:      &fakeDownloader{},
	})

	if _, err := c.Scan(context.Background(), []pkgmodel.Package{pkg}, controller.ScanContext{}); !errors.Is(err, workingtree.ErrUnsupportedVCS) {
		t.Errorf("Scan error = %v, want ErrUnsupportedVCS", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := controller.New(controller.Config{})
	if !errors.Is(err, controller.ErrConfigurationInvalid) {
		t.Errorf("New(empty config) error = %v, want ErrConfigurationInvalid", err)
	}
}

// Run wraps Scan with a durable record: timing, environment, and
// secret-redacted scanner options.
func TestRunRecord(t *testing.T) {
	id := identifier.Identifier{Type: "generic", Name: "a", Version: "1.0"}
	pkg := pkgmodel.Package{ID: id, SourceArtifact: pkgmodel.SourceArtifact{URL: "https://example/a.tar.gz", Hash: "md5:0123"}}

	path := fakescanner.NewPath("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()),
		scanresult.ScanSummary{LicenseFindings: []scanresult.Finding{licenseFinding("LICENSE", "MIT")}}, nil)

	c := newController(t, controller.Config{
		Scanners:        controller.ScannerSet{Path: []scanner.PathScanner{path}},
		PackageResolver: &fakePackageResolver{provs: map[identifier.Identifier]provenance.Provenance{id: artifactProv()}},
		NestedResolver:  &fakeNestedResolver{},
		Downloader:      &fakeDownloader{},
	})

	options := map[string]map[string]string{
		"fake": {"token": "my-secret-token", "timeout": "300"},
	}
	run, err := c.Run(context.Background(), []pkgmodel.Package{pkg}, controller.ScanContext{Labels: map[string]string{"team": "oss"}}, options)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.EndTime.Before(run.StartTime) {
		t.Errorf("EndTime %v before StartTime %v", run.EndTime, run.StartTime)
	}
	if run.Environment.OS == "" || run.Environment.RuntimeVersion == "" || run.Environment.ToolVersion == "" {
		t.Errorf("Environment = %+v, want all fields populated", run.Environment)
	}
	// The fake redacts values containing "secret".
	if got := run.ScannerOptions["fake"]["token"]; got != "REDACTED" {
		t.Errorf("token option = %q, want REDACTED", got)
	}
	if got := run.ScannerOptions["fake"]["timeout"]; got != "300" {
		t.Errorf("timeout option = %q, want passed through", got)
	}
	if len(run.Record.Results[id]) != 1 {
		t.Errorf("record has %d results for %s, want 1", len(run.Record.Results[id]), id)
	}
	if len(run.Record.Statuses) != 1 || run.Record.Statuses[0].Name != "fake" {
		t.Fatalf("record statuses = %+v, want one status for fake", run.Record.Statuses)
	}
	if got := run.Record.Statuses[0].Status.Status; got != plugin.ScanStatusSucceeded {
		t.Errorf("status = %v, want succeeded", run.Record.Statuses[0].Status)
	}
}

// A scanner whose results carry Error-severity issues is reported as
// failed in the run record.
func TestRunRecordFailingScanner(t *testing.T) {
	id := identifier.Identifier{Type: "generic", Name: "broken", Version: "0.1"}
	pkg := pkgmodel.Package{ID: id, SourceArtifact: pkgmodel.SourceArtifact{URL: "https://example/a.tar.gz", Hash: "md5:0123"}}

	path := fakescanner.NewPath("fake", "1.0.0", scanresult.ExactMatcher(fakeDetails()), scanresult.ScanSummary{}, nil)
	c := newController(t, controller.Config{
		Scanners:        controller.ScannerSet{Path: []scanner.PathScanner{path}},
		PackageResolver: &fakePackageResolver{provs: map[identifier.Identifier]provenance.Provenance{id: artifactProv()}},
		NestedResolver:  &fakeNestedResolver{},
		Downloader:      &fakeDownloader{err: errors.New("connection reset")},
	})

	run, err := c.Run(context.Background(), []pkgmodel.Package{pkg}, controller.ScanContext{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(run.Record.Statuses) != 1 {
		t.Fatalf("record has %d statuses, want 1", len(run.Record.Statuses))
	}
	status := run.Record.Statuses[0].Status
	if status.Status != plugin.ScanStatusFailed {
		t.Fatalf("status = %v, want failed", status)
	}
	if !strings.Contains(status.FailureReason, "Could not download provenance") {
		t.Errorf("failure reason = %q, want the download failure message", status.FailureReason)
	}
}
