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

package reload

import "os"

// pipeCapacity falls back to PIPE_BUF, the size POSIX guarantees a single
// write can place into an empty pipe.
func pipeCapacity(f *os.File) int {
	if f == nil {
		return 0
	}
	return pipeBuf
}
