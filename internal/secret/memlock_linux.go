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

//go:build linux

package secret

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// LockMemory pins all current and future pages of the process in RAM so the
// secret cannot be written to swap. Failure is a soft condition: callers log
// it as a warning and continue.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}

// UnlockMemory undoes LockMemory. It is best-effort.
func UnlockMemory() error {
	return unix.Munlockall()
}
