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

package secret

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned by ReadLine when the source ends before any
// byte was read.
var ErrEmptyInput = errors.New("no input before end of stream")

// AcquisitionKind classifies why a secret could not be acquired.
type AcquisitionKind string

const (
	// SourceUnreadable means the configured source could not supply a value.
	SourceUnreadable AcquisitionKind = "source_unreadable"
	// ConfirmationMismatch means the two interactive entries differed.
	ConfirmationMismatch AcquisitionKind = "confirmation_mismatch"
)

// AcquisitionError is returned by Acquire. It is always fatal to startup.
type AcquisitionError struct {
	Kind   AcquisitionKind
	Origin Origin
	Cause  error
}

// Error implements the error interface.
func (e *AcquisitionError) Error() string {
	var msg string
	switch e.Kind {
	case ConfirmationMismatch:
		msg = "passwords are different"
	default:
		msg = fmt.Sprintf("cannot read secret from %s", e.Origin)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AcquisitionError) Unwrap() error { return e.Cause }

// ErrorType implements errors.ErrorClassifier.
func (e *AcquisitionError) ErrorType() string { return "acquisition" }

// IsRetryable implements errors.ErrorClassifier. Acquisition is never
// retried.
func (e *AcquisitionError) IsRetryable() bool { return false }

// Suggestion implements errors.UserVisibleError.
func (e *AcquisitionError) Suggestion() string {
	if e.Kind == ConfirmationMismatch {
		return "Restart and type the same password twice"
	}
	switch e.Origin {
	case OriginEnv:
		return "Export the variable before starting the daemon"
	case OriginPrompt:
		return "Run from a terminal, or use --password-from-stdin"
	case OriginKeyring:
		return "Check that the keyring is unlocked and the entry exists"
	}
	return ""
}

func unreadable(origin Origin, cause error) error {
	return &AcquisitionError{Kind: SourceUnreadable, Origin: origin, Cause: cause}
}
