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

// Package config defines the scan run configuration and its TOML file
// format. Flag parsing and CLI wiring are the enclosing tool's concern;
// this package only loads and validates the file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration of a scan run.
type Config struct {
	// Origins is the ordered list of source-code origins to try when
	// resolving a package's provenance: "vcs" and "artifact".
	Origins []string `toml:"origins"`
	// SkipConcluded skips packages that already have a concluded license
	// and declared authors.
	SkipConcluded bool `toml:"skip_concluded"`
	// WorkDir is the directory under which working trees and download
	// staging directories are allocated. Defaults to the OS temp dir.
	WorkDir string `toml:"work_dir"`
	// IgnorePatterns are globs matched against finding paths; matching
	// findings are dropped from assembled results.
	IgnorePatterns []string `toml:"ignore_patterns"`
	// LicenseFilePatterns are globs for files that are always retained when
	// filtering findings down to a package's VCS sub-tree, e.g. a top-level
	// LICENSE file.
	LicenseFilePatterns []string `toml:"license_file_patterns"`
	// Scanners configures each scanner adapter by name.
	Scanners map[string]Scanner `toml:"scanners"`
	// Storage selects and parameterizes the scan-result store backends.
	Storage Storage `toml:"storage"`
}

// Scanner is the per-adapter configuration block: which scanners run and
// the opaque options forwarded to them. Options whose values contain
// scanner-declared secrets are redacted before they reach the run record.
type Scanner struct {
	Enabled bool              `toml:"enabled"`
	Options map[string]string `toml:"options"`
}

// Storage selects store backends. Kind is one of "memory", "file",
// "sqlite" or "bolt"; Path parameterizes the on-disk kinds.
type Storage struct {
	Kind string `toml:"kind"`
	Path string `toml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Origins:             []string{"vcs", "artifact"},
		LicenseFilePatterns: []string{"LICENSE*", "COPYING*", "NOTICE"},
		Storage:             Storage{Kind: "memory"},
	}
}

// Load reads a TOML configuration file, layering it over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints a TOML decode can't express.
func (c Config) Validate() error {
	for _, o := range c.Origins {
		if o != "vcs" && o != "artifact" {
			return fmt.Errorf("config: unknown origin %q", o)
		}
	}
	if len(c.Origins) == 0 {
		return fmt.Errorf("config: at least one origin is required")
	}
	switch c.Storage.Kind {
	case "memory":
	case "file", "sqlite", "bolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage kind %q requires a path", c.Storage.Kind)
		}
	default:
		return fmt.Errorf("config: unknown storage kind %q", c.Storage.Kind)
	}
	return nil
}
