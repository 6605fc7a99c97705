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

package list_test

import (
	"testing"

	"github.com/scancore/scanctl/plugin"
	"github.com/scancore/scanctl/plugin/list"
	"github.com/scancore/scanctl/scanresult"
	"github.com/scancore/scanctl/testing/fakescanner"
)

func init() {
	list.MustRegister("fake-package", func() plugin.Plugin {
		return fakescanner.NewPackage("fake-package", "1.0.0", nil, scanresult.ScanResult{}, nil)
	})
	list.MustRegister("fake-path", func() plugin.Plugin {
		return fakescanner.NewPath("fake-path", "1.0.0", nil, scanresult.ScanSummary{}, nil)
	})
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	factory := func() plugin.Plugin {
		return fakescanner.NewPath("fake-path", "2.0.0", nil, scanresult.ScanSummary{}, nil)
	}
	if err := list.Register("fake-path", factory); err == nil {
		t.Error("Register(duplicate name) succeeded, want error")
	}
}

func TestFromNames(t *testing.T) {
	got, err := list.FromNames([]string{"fake-package", "fake-path", "fake-package"})
	if err != nil {
		t.Fatalf("FromNames: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FromNames returned %d plugins, want 2 (deduplicated)", len(got))
	}
	// Sorted by name.
	if got[0].Name() != "fake-package" || got[1].Name() != "fake-path" {
		t.Errorf("FromNames order = [%s, %s], want [fake-package, fake-path]", got[0].Name(), got[1].Name())
	}
}

func TestFromNamesUnknown(t *testing.T) {
	if _, err := list.FromNames([]string{"no-such-scanner"}); err == nil {
		t.Error("FromNames(unknown name) succeeded, want error")
	}
}

func TestFromName(t *testing.T) {
	p, err := list.FromName("fake-path")
	if err != nil {
		t.Fatalf("FromName: %v", err)
	}
	if p.Name() != "fake-path" {
		t.Errorf("FromName returned %q, want fake-path", p.Name())
	}
}

func TestCapabilityFilters(t *testing.T) {
	plugins, err := list.FromNames([]string{"fake-package", "fake-path"})
	if err != nil {
		t.Fatalf("FromNames: %v", err)
	}
	if got := list.PackageScanners(plugins); len(got) != 1 || got[0].Name() != "fake-package" {
		t.Errorf("PackageScanners = %v, want exactly fake-package", got)
	}
	if got := list.PathScanners(plugins); len(got) != 1 || got[0].Name() != "fake-path" {
		t.Errorf("PathScanners = %v, want exactly fake-path", got)
	}
	if got := list.ProvenanceScanners(plugins); len(got) != 0 {
		t.Errorf("ProvenanceScanners = %v, want none", got)
	}
}
