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

package errors

import (
	"fmt"
	"time"
)

// ConfigError represents configuration problems.
// Use this for a bad config file, conflicting flags, or invalid setting values.
type ConfigError struct {
	// Key is the setting that has the problem (e.g., "command", "secret.env")
	Key string

	// Reason explains what's wrong with the setting
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error

	// Hint replaces the default suggestion when set.
	Hint string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s", e.Key)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// Suggestion implements UserVisibleError. A setting can come from the
// config file, a FEEDPASS_ variable or a flag, so all three are named.
func (e *ConfigError) Suggestion() string {
	switch {
	case e.Hint != "":
		return e.Hint
	case e.Key != "":
		return fmt.Sprintf("Check %s in the config file, FEEDPASS_* environment and flags", e.Key)
	default:
		return "Run 'feedpassd --help' for usage"
	}
}

// TimeoutError represents a bounded wait that ran out.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "await prompt")
	Operation string

	// Duration is the limit that was exceeded
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier. A timed out wait may succeed on
// the next trigger.
func (e *TimeoutError) IsRetryable() bool { return true }
