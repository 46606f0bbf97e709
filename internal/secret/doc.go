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

/*
Package secret acquires and holds the single credential the daemon feeds to
its child command.

A secret is read exactly once at startup from one origin:

	s, err := secret.Acquire(ctx, secret.Source{Origin: secret.OriginEnv, EnvVar: "FOO"})
	if err != nil {
	    // *secret.AcquisitionError, fatal
	}
	defer s.Release()

Environment secrets are replayable: the reload path can put them back into
the environment of the next process image. All other origins must be carried
over an explicit handoff channel.

LockMemory asks the kernel to keep the process resident so the value never
reaches swap.
*/
package secret
