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

// Package trigger turns external events into daemon triggers. Signals are
// the primary source; a watched trigger file is an optional second one.
package trigger

import (
	"context"
	"os"
	"sync"
)

// Kind is what the daemon is asked to do.
type Kind int

const (
	// Spawn runs one prompt session.
	Spawn Kind = iota + 1
	// Shutdown stops the daemon.
	Shutdown
	// Reload re-executes the daemon, keeping the secret.
	Reload
)

// String returns the lower-case trigger name.
func (k Kind) String() string {
	switch k {
	case Spawn:
		return "spawn"
	case Shutdown:
		return "shutdown"
	case Reload:
		return "reload"
	}
	return "unknown"
}

// Source names where a trigger came from.
const (
	SourceSignal = "signal"
	SourceFile   = "file"
)

// Trigger is a single request to the daemon.
type Trigger struct {
	Kind   Kind
	Source string
	// Signal is set for signal triggers.
	Signal os.Signal
}

// Merge fans several trigger channels into one. The result is closed once
// every input is closed or ctx is done.
func Merge(ctx context.Context, inputs ...<-chan Trigger) <-chan Trigger {
	out := make(chan Trigger)
	var wg sync.WaitGroup

	for _, in := range inputs {
		if in == nil {
			continue
		}
		wg.Add(1)
		go func(in <-chan Trigger) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- t:
					case <-ctx.Done():
						return
					}
				}
			}
		}(in)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
