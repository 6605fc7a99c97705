// Copyright 2025 Google LLC
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

// Package list provides the registry that maps scanner names to factories,
// plus helpers for selecting adapters by capability. The controller never
// inspects dynamic types itself; it asks this package for the
// package/provenance/path subsets of a plugin list.
package list

import (
	"fmt"
	"sort"
	"sync"

	"github.com/scancore/scanctl/plugin"
	"github.com/scancore/scanctl/scanner"
)

// Factory constructs a fresh scanner adapter instance.
type Factory func() plugin.Plugin

var (
	mu       sync.Mutex
	registry = map[string]Factory{}
)

// Register adds a named factory to the registry. It returns an error if the
// name is already taken.
func Register(name string, f Factory) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("scanner %q already registered", name)
	}
	registry[name] = f
	return nil
}

// MustRegister is Register for init-time use; it panics on a duplicate name.
func MustRegister(name string, f Factory) {
	if err := Register(name, f); err != nil {
		panic(err)
	}
}

// FromNames returns a deduplicated list of scanner adapters from a list of
// names.
func FromNames(names []string) ([]plugin.Plugin, error) {
	mu.Lock()
	defer mu.Unlock()

	resultMap := make(map[string]plugin.Plugin)
	for _, name := range names {
		f, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown scanner %q", name)
		}
		if _, seen := resultMap[name]; seen {
			continue
		}
		resultMap[name] = f()
	}

	result := make([]plugin.Plugin, 0, len(resultMap))
	for _, p := range resultMap {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result, nil
}

// FromName returns a single scanner adapter based on its exact name.
func FromName(name string) (plugin.Plugin, error) {
	plugins, err := FromNames([]string{name})
	if err != nil {
		return nil, err
	}
	if len(plugins) != 1 {
		return nil, fmt.Errorf("not an exact name for a scanner: %q", name)
	}
	return plugins[0], nil
}

// All returns one instance of every registered scanner, sorted by name.
func All() []plugin.Plugin {
	mu.Lock()
	defer mu.Unlock()

	all := make([]plugin.Plugin, 0, len(registry))
	for _, f := range registry {
		all = append(all, f())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })
	return all
}

// PackageScanners returns the plugins from a list which are PackageScanners.
func PackageScanners(plugins []plugin.Plugin) []scanner.PackageScanner {
	result := []scanner.PackageScanner{}
	for _, p := range plugins {
		if p, ok := p.(scanner.PackageScanner); ok {
			result = append(result, p)
		}
	}
	return result
}

// ProvenanceScanners returns the plugins from a list which are
// ProvenanceScanners.
func ProvenanceScanners(plugins []plugin.Plugin) []scanner.ProvenanceScanner {
	result := []scanner.ProvenanceScanner{}
	for _, p := range plugins {
		if p, ok := p.(scanner.ProvenanceScanner); ok {
			result = append(result, p)
		}
	}
	return result
}

// PathScanners returns the plugins from a list which are PathScanners.
func PathScanners(plugins []plugin.Plugin) []scanner.PathScanner {
	result := []scanner.PathScanner{}
	for _, p := range plugins {
		if p, ok := p.(scanner.PathScanner); ok {
			result = append(result, p)
		}
	}
	return result
}
