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

// Package scanner declares the three scanner-adapter shapes: a small
// closed interface set distinguished by how the controller invokes them —
// engines that fetch their own source given a package, engines that fetch
// given a provenance, and engines that read a pre-fetched directory.
package scanner

import (
	"context"
	"strings"

	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/plugin"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/scanresult"
)

// base is embedded by all three scanner shapes.
type base interface {
	plugin.Plugin
	// Matcher returns the ScannerDetails matcher used to identify this
	// scanner's own cached results, or nil if this scanner's outputs must
	// never be persisted (they could not be re-identified later).
	Matcher() scanresult.Matcher
	// FilterSecretOptions redacts credentials from opts before they are
	// embedded in the run record.
	FilterSecretOptions(opts map[string]string) map[string]string
}

// PackageScanner downloads its own source: the controller passes the
// package through and trusts the adapter to resolve and fetch it.
type PackageScanner interface {
	base
	ScanPackage(ctx context.Context, pkg pkgmodel.Package) (scanresult.ScanResult, error)
}

// ProvenanceScanner scans given an already-resolved provenance; the
// controller never materializes source for it, so the adapter fetches
// whatever it needs itself (most provenance scanners call a remote
// service that accepts a provenance reference directly).
type ProvenanceScanner interface {
	base
	ScanProvenance(ctx context.Context, prov provenance.Provenance) (scanresult.ScanResult, error)
}

// PathScanner reads a pre-fetched local directory; the controller
// materializes source before invoking it.
type PathScanner interface {
	base
	ScanPath(ctx context.Context, dir string) (scanresult.ScanSummary, error)
}

// RedactSecrets returns a copy of opts with any value containing one of
// secretSubstrings replaced by a placeholder. Adapters with their own
// secret-list implement FilterSecretOptions by delegating to this.
func RedactSecrets(secretSubstrings []string, opts map[string]string) map[string]string {
	if len(opts) == 0 {
		return opts
	}
	out := make(map[string]string, len(opts))
	for k, v := range opts {
		redacted := v
		for _, secret := range secretSubstrings {
			if secret != "" && strings.Contains(v, secret) {
				redacted = "REDACTED"
				break
			}
		}
		out[k] = redacted
	}
	return out
}
