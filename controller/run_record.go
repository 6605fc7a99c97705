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
	"errors"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/scancore/scanctl/identifier"
	"github.com/scancore/scanctl/pkgmodel"
	"github.com/scancore/scanctl/plugin"
	"github.com/scancore/scanctl/scanresult"
)

// ToolVersion is embedded in every run record.
const ToolVersion = "0.1.0"

// Environment is a read-only snapshot of the machine a run executed on.
type Environment struct {
	OS             string
	RuntimeVersion string
	ToolVersion    string
}

// CurrentEnvironment snapshots the running process's environment.
func CurrentEnvironment() Environment {
	return Environment{
		OS:             runtime.GOOS,
		RuntimeVersion: runtime.Version(),
		ToolVersion:    ToolVersion,
	}
}

// ScanRecord is the per-package output of a run plus the per-scanner
// statuses.
type ScanRecord struct {
	Results  map[identifier.Identifier][]scanresult.ScanResult
	Statuses []*plugin.Status
}

// ScannerRun is the durable record of one scan run: when it ran, where it
// ran, the effective (secret-redacted) scanner configuration, and what it
// produced.
type ScannerRun struct {
	StartTime      time.Time
	EndTime        time.Time
	Environment    Environment
	ScannerOptions map[string]map[string]string
	Record         ScanRecord
}

type recordedAdapter interface {
	plugin.Plugin
	FilterSecretOptions(opts map[string]string) map[string]string
}

// Run executes Scan and wraps its output in a ScannerRun. options maps
// scanner names to the raw option blocks from configuration; each adapter
// redacts its own secrets before the options land in the record. A
// scanner's status is failed when any of its results carries an
// Error-severity issue.
func (c *Controller) Run(ctx context.Context, packages []pkgmodel.Package, scanCtx ScanContext, options map[string]map[string]string) (ScannerRun, error) {
	start := time.Now()
	results, err := c.Scan(ctx, packages, scanCtx)
	if err != nil {
		return ScannerRun{}, err
	}

	set := c.scannersFor(scanCtx)
	effective := map[string]map[string]string{}
	var statuses []*plugin.Status
	record := func(a recordedAdapter) {
		if opts, ok := options[a.Name()]; ok {
			effective[a.Name()] = a.FilterSecretOptions(opts)
		}
		statuses = append(statuses, plugin.StatusFromErr(a, scanError(a.Name(), results)))
	}
	for _, s := range set.Package {
		record(s)
	}
	for _, s := range set.Provenance {
		record(s)
	}
	for _, s := range set.Path {
		record(s)
	}

	return ScannerRun{
		StartTime:      start,
		EndTime:        time.Now(),
		Environment:    CurrentEnvironment(),
		ScannerOptions: effective,
		Record:         ScanRecord{Results: results, Statuses: statuses},
	}, nil
}

// scanError collapses the Error-severity issues attributed to the named
// scanner across all per-package results into one error, or nil when the
// scanner produced none.
func scanError(scannerName string, results map[identifier.Identifier][]scanresult.ScanResult) error {
	seen := map[string]bool{}
	var msgs []string
	for _, perPkg := range results {
		for _, r := range perPkg {
			if r.Scanner.Name != scannerName {
				continue
			}
			for _, issue := range r.Summary.Issues {
				if issue.Severity != scanresult.SeverityError || seen[issue.Message] {
					continue
				}
				seen[issue.Message] = true
				msgs = append(msgs, issue.Message)
			}
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}
