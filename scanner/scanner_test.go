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

package scanner_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/scancore/scanctl/scanner"
)

func TestRedactSecretsReplacesMatchingValues(t *testing.T) {
	opts := map[string]string{
		"token":    "sk-live-deadbeef",
		"endpoint": "https://example.com",
	}
	got := scanner.RedactSecrets([]string{"sk-live-"}, opts)
	want := map[string]string{
		"token":    "REDACTED",
		"endpoint": "https://example.com",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RedactSecrets() mismatch (-want +got):\n%s", diff)
	}
}

func TestRedactSecretsNilOptsNoOp(t *testing.T) {
	if got := scanner.RedactSecrets([]string{"x"}, nil); got != nil {
		t.Errorf("RedactSecrets(nil) = %v, want nil", got)
	}
}
