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

// Package identifier provides the stable package identity used throughout
// the scan controller as a map key and as a storage row key.
//
// It is a thin, comparable wrapper around package-url/packageurl-go:
// decoding/encoding is delegated to the upstream library, this package
// only adds the exact shape the controller needs.
package identifier

import (
	"fmt"

	"github.com/package-url/packageurl-go"
)

// Identifier is a stable, comparable package identity. It is intentionally a
// plain value type (no slices or maps) so it can be used directly as a Go
// map key, matching the data model's "used as map key and as storage row
// key" requirement.
type Identifier struct {
	Type      string
	Namespace string
	Name      string
	Version   string
}

// String renders the identifier in package-url form, e.g.
// "pkg:golang/github.com/foo/bar@v1.2.3". It is used as the row key for
// file- and SQL-based stores.
func (id Identifier) String() string {
	purl := packageurl.PackageURL{
		Type:      id.Type,
		Namespace: id.Namespace,
		Name:      id.Name,
		Version:   id.Version,
	}
	return (&purl).String()
}

// FromString parses a package-url string into an Identifier.
func FromString(purl string) (Identifier, error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return Identifier{}, fmt.Errorf("identifier.FromString(%q): %w", purl, err)
	}
	return Identifier{
		Type:      p.Type,
		Namespace: p.Namespace,
		Name:      p.Name,
		Version:   p.Version,
	}, nil
}
