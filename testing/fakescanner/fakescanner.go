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

// Package fakescanner provides scanner.PackageScanner,
// scanner.ProvenanceScanner and scanner.PathScanner implementations for
// use in controller and plugin/list tests.
package fakescanner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/scanner"
	"github.com/scancore/scanctl/scanresult"
)

type base struct {
	name    string
	version string
	matcher scanresult.Matcher
}

func (b *base) Name() string                { return b.name }
func (b *base) Version() string             { return b.version }
func (b *base) Matcher() scanresult.Matcher { return b.matcher }
func (b *base) FilterSecretOptions(opts map[string]string) map[string]string {
	return scanner.RedactSecrets([]string{"secret"}, opts)
}

// Package is a fake scanner.PackageScanner. Calls is the running count of
// ScanPackage invocations, for asserting dispatch deduplication.
type Package struct {
	base
	Result scanresult.ScanResult
	Err    error
	Calls  int32

	mu sync.Mutex
	// Packages records the package passed to every ScanPackage call.
	Packages []pkgmodel.Package
}

// NewPackage returns a fake PackageScanner that always returns result,
// err, attributing results to the package's resolved provenance is the
// caller's responsibility (the fake just returns what it's told to).
func NewPackage(name, version string, matcher scanresult.Matcher, result scanresult.ScanResult, err error) *Package {
	return &Package{base: base{name: name, version: version, matcher: matcher}, Result: result, Err: err}
}

// ScanPackage implements scanner.PackageScanner.
func (p *Package) ScanPackage(_ context.Context, pkg pkgmodel.Package) (scanresult.ScanResult, error) {
	atomic.AddInt32(&p.Calls, 1)
	p.mu.Lock()
	p.Packages = append(p.Packages, pkg)
	p.mu.Unlock()
	return p.Result, p.Err
}

var _ scanner.PackageScanner = (*Package)(nil)

// Provenance is a fake scanner.ProvenanceScanner.
type Provenance struct {
	base
	Result scanresult.ScanResult
	Err    error
	Calls  int32
}

// NewProvenance returns a fake ProvenanceScanner that always returns
// result, err.
func NewProvenance(name, version string, matcher scanresult.Matcher, result scanresult.ScanResult, err error) *Provenance {
	return &Provenance{base: base{name: name, version: version, matcher: matcher}, Result: result, Err: err}
}

// ScanProvenance implements scanner.ProvenanceScanner.
func (p *Provenance) ScanProvenance(_ context.Context, _ provenance.Provenance) (scanresult.ScanResult, error) {
	atomic.AddInt32(&p.Calls, 1)
	return p.Result, p.Err
}

var _ scanner.ProvenanceScanner = (*Provenance)(nil)

// Path is a fake scanner.PathScanner.
type Path struct {
	base
	Summary scanresult.ScanSummary
	Err     error
	Calls   int32

	mu sync.Mutex
	// Paths records the directory passed to every ScanPath call.
	Paths []string
}

// NewPath returns a fake PathScanner that always returns summary, err.
func NewPath(name, version string, matcher scanresult.Matcher, summary scanresult.ScanSummary, err error) *Path {
	return &Path{base: base{name: name, version: version, matcher: matcher}, Summary: summary, Err: err}
}

// ScanPath implements scanner.PathScanner.
func (p *Path) ScanPath(_ context.Context, dir string) (scanresult.ScanSummary, error) {
	atomic.AddInt32(&p.Calls, 1)
	p.mu.Lock()
	p.Paths = append(p.Paths, dir)
	p.mu.Unlock()
	return p.Summary, p.Err
}

var _ scanner.PathScanner = (*Path)(nil)
