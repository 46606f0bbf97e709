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

import (
	"fmt"
	"time"
)

// Kind classifies a failed session.
type Kind string

const (
	// KindSpawn means the child could not be started on a pseudo-terminal.
	KindSpawn Kind = "spawn_error"
	// KindPromptTimeout means the prompt did not appear within the timeout.
	KindPromptTimeout Kind = "prompt_timeout"
	// KindPromptNotFound means output ended without the prompt appearing.
	KindPromptNotFound Kind = "prompt_not_found"
	// KindExitWaitTimeout means output did not end within the timeout after
	// the secret was sent.
	KindExitWaitTimeout Kind = "exit_wait_timeout"
	// KindCancelled means the session was aborted by the daemon, usually on
	// shutdown.
	KindCancelled Kind = "cancelled"
)

// SessionError is returned by Runner.Run for every failed session. It never
// carries the secret or the child's output.
type SessionError struct {
	Kind    Kind
	Phase   State
	Timeout time.Duration
	Cause   error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	msg := fmt.Sprintf("prompt session failed while %s: %s", e.Phase, e.Kind)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SessionError) Unwrap() error { return e.Cause }

// ErrorType implements errors.ErrorClassifier.
func (e *SessionError) ErrorType() string { return "session" }

// IsRetryable implements errors.ErrorClassifier. A later trigger may
// succeed after a prompt or exit problem, but not after a spawn failure.
func (e *SessionError) IsRetryable() bool {
	return e.Kind != KindSpawn && e.Kind != KindCancelled
}

// Suggestion implements errors.UserVisibleError.
func (e *SessionError) Suggestion() string {
	switch e.Kind {
	case KindSpawn:
		return "Check that the command exists and is executable"
	case KindPromptTimeout, KindPromptNotFound:
		return "Check --reply-to-prompt against the command's actual prompt text"
	case KindExitWaitTimeout:
		return "Increase --timeout or check why the command keeps running after reading the password"
	}
	return ""
}
