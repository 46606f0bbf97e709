// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package security holds file permission checks run at startup.
package security

import (
	"fmt"
	"os"
)

// CheckPermissions returns warnings for a file or directory that other users
// can read or write. A sensitive path, such as a file holding a password,
// also warns when it is group-readable. Missing paths produce no warnings.
func CheckPermissions(path string, sensitive bool) []string {
	var warnings []string

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return warnings
		}
		return append(warnings, fmt.Sprintf("unable to check permissions for %s: %v", path, err))
	}

	perm := info.Mode().Perm()
	kind, want := "file", "0600"
	if info.IsDir() {
		kind, want = "directory", "0700"
	}

	if perm&0004 != 0 {
		warnings = append(warnings, fmt.Sprintf("%s %s is world-readable (permissions: %o), recommend chmod %s", kind, path, perm, want))
	}
	if perm&0002 != 0 {
		warnings = append(warnings, fmt.Sprintf("%s %s is world-writable (permissions: %o), recommend chmod %s", kind, path, perm, want))
	}
	if perm&0020 != 0 {
		warnings = append(warnings, fmt.Sprintf("%s %s is group-writable (permissions: %o), recommend chmod %s", kind, path, perm, want))
	}
	if sensitive && perm&0040 != 0 {
		warnings = append(warnings, fmt.Sprintf("sensitive %s %s is group-readable (permissions: %o), recommend chmod %s", kind, path, perm, want))
	}

	return warnings
}
