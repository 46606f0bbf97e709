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

package session

// State is a step of the prompt session state machine.
type State int

const (
	Spawning State = iota
	AwaitingPrompt
	Sent
	AwaitingExit
	Completed
	Failed
)

var stateNames = [...]string{
	Spawning:       "spawning",
	AwaitingPrompt: "awaiting_prompt",
	Sent:           "sent",
	AwaitingExit:   "awaiting_exit",
	Completed:      "completed",
	Failed:         "failed",
}

// String returns the state name used in logs and errors.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}
