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

// Package sqlstore implements store.ProvenanceScanStore on top of SQLite
// (modernc.org/sqlite, pure Go, no cgo): one row per (key columns,
// scanner name/version/configuration), scan_summary stored as a
// JSON-valued column, with two partial unique indices enforcing
// (key, scanner) uniqueness — one scoped to artifact-keyed rows, one to
// vcs-keyed rows — in a single table rather than two.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	_ "modernc.org/sqlite"

	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/scanresult"
	"github.com/scancore/scanctl/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key_type TEXT NOT NULL CHECK (key_type IN ('artifact', 'vcs')),
	artifact_url TEXT,
	artifact_hash TEXT,
	vcs_type TEXT,
	vcs_url TEXT,
	vcs_resolved_revision TEXT,
	scanner_name TEXT NOT NULL,
	scanner_version TEXT NOT NULL,
	scanner_configuration TEXT NOT NULL,
	scan_summary TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_scan_results_artifact
	ON scan_results(artifact_url, artifact_hash, scanner_name, scanner_version, scanner_configuration)
	WHERE key_type = 'artifact';
CREATE UNIQUE INDEX IF NOT EXISTS idx_scan_results_vcs
	ON scan_results(vcs_type, vcs_url, vcs_resolved_revision, scanner_name, scanner_version, scanner_configuration)
	WHERE key_type = 'vcs';
`

// Store is a SQLite-backed store.ProvenanceScanStore.
type Store struct {
	db *sql.DB
}

var _ store.ProvenanceScanStore = (*Store)(nil)

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	// SQLite tolerates only a single writer; the scan controller already
	// serializes writes per provenance, but keep this conservative.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Read implements store.ProvenanceScanStore.
func (s *Store) Read(ctx context.Context, prov provenance.Provenance, matcher scanresult.Matcher) ([]scanresult.ScanResult, error) {
	if prov.Path() != "" {
		return nil, store.ErrNonWholeRepository{Path: prov.Path()}
	}

	var rows *sql.Rows
	var err error
	switch prov.Kind {
	case provenance.KindArtifact:
		rows, err = s.db.QueryContext(ctx,
			`SELECT scanner_name, scanner_version, scanner_configuration, scan_summary
			 FROM scan_results WHERE key_type = 'artifact' AND artifact_url = ? AND artifact_hash = ?`,
			prov.Artifact.URL, prov.Artifact.Hash)
	case provenance.KindRepository:
		rows, err = s.db.QueryContext(ctx,
			`SELECT scanner_name, scanner_version, scanner_configuration, scan_summary
			 FROM scan_results WHERE key_type = 'vcs' AND vcs_type = ? AND vcs_url = ? AND vcs_resolved_revision = ?`,
			prov.Repository.VCSType, prov.Repository.URL, prov.Repository.ResolvedRevision)
	default:
		return nil, fmt.Errorf("sqlstore: unknown provenance kind")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	defer rows.Close()

	var out []scanresult.ScanResult
	for rows.Next() {
		var sd scanresult.ScannerDetails
		var summaryJSON string
		if err := rows.Scan(&sd.Name, &sd.Version, &sd.Configuration, &summaryJSON); err != nil {
			return nil, fmt.Errorf("sqlstore: scan row: %w", err)
		}
		if matcher != nil && !matcher(sd) {
			continue
		}
		summary, err := unmarshalSummary(summaryJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, scanresult.ScanResult{Provenance: prov, Scanner: sd, Summary: summary})
	}
	return out, rows.Err()
}

// Write implements store.ProvenanceScanStore. It returns false if a row
// for (provenance, scanner) already exists, relying on the table's
// partial unique indices to detect the conflict.
func (s *Store) Write(ctx context.Context, result scanresult.ScanResult) (bool, error) {
	prov := result.Provenance
	if prov.Path() != "" {
		return false, store.ErrNonWholeRepository{Path: prov.Path()}
	}

	summaryJSON, err := marshalSummary(result.Summary)
	if err != nil {
		return false, err
	}

	var execErr error
	switch prov.Kind {
	case provenance.KindArtifact:
		_, execErr = s.db.ExecContext(ctx,
			`INSERT INTO scan_results
				(key_type, artifact_url, artifact_hash, scanner_name, scanner_version, scanner_configuration, scan_summary)
			 VALUES ('artifact', ?, ?, ?, ?, ?, ?)`,
			prov.Artifact.URL, prov.Artifact.Hash, result.Scanner.Name, result.Scanner.Version, result.Scanner.Configuration, summaryJSON)
	case provenance.KindRepository:
		_, execErr = s.db.ExecContext(ctx,
			`INSERT INTO scan_results
				(key_type, vcs_type, vcs_url, vcs_resolved_revision, scanner_name, scanner_version, scanner_configuration, scan_summary)
			 VALUES ('vcs', ?, ?, ?, ?, ?, ?, ?)`,
			prov.Repository.VCSType, prov.Repository.URL, prov.Repository.ResolvedRevision,
			result.Scanner.Name, result.Scanner.Version, result.Scanner.Configuration, summaryJSON)
	default:
		return false, fmt.Errorf("sqlstore: unknown provenance kind")
	}
	if execErr != nil {
		if isUniqueConstraintErr(execErr) {
			return false, nil
		}
		return false, fmt.Errorf("sqlstore: insert: %w", execErr)
	}
	return true, nil
}

func isUniqueConstraintErr(err error) bool {
	// modernc.org/sqlite surfaces SQLite's own message text rather than a
	// typed sentinel; match the phrase SQLite uses for both indices.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// marshalSummary builds the scan_summary JSON column value field by field
// via sjson. encoding/json (used internally by sjson.Set for struct
// values) escapes control bytes, NUL included, as \u00XX sequences, so
// summary strings never put a raw NUL byte in the column.
func marshalSummary(s scanresult.ScanSummary) (string, error) {
	doc := "{}"
	var err error
	if doc, err = sjson.Set(doc, "start_time", s.StartTime.Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("sqlstore: marshal start_time: %w", err)
	}
	if doc, err = sjson.Set(doc, "end_time", s.EndTime.Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("sqlstore: marshal end_time: %w", err)
	}
	doc, err = setArray(doc, "license_findings", s.LicenseFindings)
	if err != nil {
		return "", err
	}
	doc, err = setArray(doc, "copyright_findings", s.CopyrightFindings)
	if err != nil {
		return "", err
	}
	doc, err = setArray(doc, "issues", s.Issues)
	if err != nil {
		return "", err
	}
	return doc, nil
}

func setArray[T any](doc, path string, items []T) (string, error) {
	doc, err := sjson.Set(doc, path, []T{})
	if err != nil {
		return "", fmt.Errorf("sqlstore: marshal %s: %w", path, err)
	}
	for _, item := range items {
		doc, err = sjson.Set(doc, path+".-1", item)
		if err != nil {
			return "", fmt.Errorf("sqlstore: marshal %s element: %w", path, err)
		}
	}
	return doc, nil
}

// unmarshalSummary reads the scan_summary JSON column back via gjson;
// \u00XX escapes are undone as part of standard JSON string decoding.
func unmarshalSummary(doc string) (scanresult.ScanSummary, error) {
	var summary scanresult.ScanSummary
	var err error

	if t := gjson.Get(doc, "start_time"); t.Exists() {
		if summary.StartTime, err = time.Parse(time.RFC3339Nano, t.String()); err != nil {
			return summary, fmt.Errorf("sqlstore: unmarshal start_time: %w", err)
		}
	}
	if t := gjson.Get(doc, "end_time"); t.Exists() {
		if summary.EndTime, err = time.Parse(time.RFC3339Nano, t.String()); err != nil {
			return summary, fmt.Errorf("sqlstore: unmarshal end_time: %w", err)
		}
	}
	if summary.LicenseFindings, err = getFindings(doc, "license_findings"); err != nil {
		return summary, err
	}
	if summary.CopyrightFindings, err = getFindings(doc, "copyright_findings"); err != nil {
		return summary, err
	}
	if summary.Issues, err = getIssues(doc, "issues"); err != nil {
		return summary, err
	}
	return summary, nil
}

func getFindings(doc, path string) ([]scanresult.Finding, error) {
	var out []scanresult.Finding
	var unmarshalErr error
	gjson.Get(doc, path).ForEach(func(_, value gjson.Result) bool {
		var f scanresult.Finding
		if err := json.Unmarshal([]byte(value.Raw), &f); err != nil {
			unmarshalErr = fmt.Errorf("sqlstore: unmarshal %s element: %w", path, err)
			return false
		}
		out = append(out, f)
		return true
	})
	return out, unmarshalErr
}

func getIssues(doc, path string) ([]scanresult.Issue, error) {
	var out []scanresult.Issue
	var unmarshalErr error
	gjson.Get(doc, path).ForEach(func(_, value gjson.Result) bool {
		var iss scanresult.Issue
		if err := json.Unmarshal([]byte(value.Raw), &iss); err != nil {
			unmarshalErr = fmt.Errorf("sqlstore: unmarshal %s element: %w", path, err)
			return false
		}
		out = append(out, iss)
		return true
	})
	return out, unmarshalErr
}
