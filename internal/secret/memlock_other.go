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

//go:build !linux

package secret

import "errors"

// ErrMemoryLockUnsupported is returned by LockMemory on platforms without
// mlockall.
var ErrMemoryLockUnsupported = errors.New("memory locking is not supported on this platform")

// LockMemory reports that pinning memory is unavailable here.
func LockMemory() error {
	return ErrMemoryLockUnsupported
}

// UnlockMemory is a no-op.
func UnlockMemory() error {
	return nil
}
