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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/feedpass/pkg/errors"
)

// Exit codes for feedpassd
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitConfig       = 2 // usage or configuration error
	ExitAcquisition  = 3 // the secret could not be read
	ExitStartupCheck = 4 // the check-at-start session failed
	ExitReload       = 5 // the re-exec failed
	ExitShutdown     = 130
)

// exitCodes maps errors.ErrorClassifier types to exit codes.
var exitCodes = map[string]int{
	"config":        ExitConfig,
	"acquisition":   ExitAcquisition,
	"startup_check": ExitStartupCheck,
	"reload":        ExitReload,
}

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewUsageError creates an error for invalid command-line usage
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitConfig,
		Message: msg,
		Cause:   cause,
	}
}

// NewShutdownExit reports an operator shutdown. It prints nothing.
func NewShutdownExit() *ExitError {
	return &ExitError{Code: ExitShutdown}
}

// ExitCodeFor returns the process exit code for err.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if code, ok := exitCodes[pkgerrors.TypeOf(err)]; ok {
		return code
	}
	return ExitFailure
}

// ReportError writes err and any suggestion to w and returns the exit code.
func ReportError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}

	if msg := err.Error(); msg != "" {
		NewPrinter(w).Error("Error: %s", msg)
	}
	if suggestion := pkgerrors.SuggestionOf(err); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
	return ExitCodeFor(err)
}

// HandleExitError reports err on stderr and exits with its code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(ReportError(os.Stderr, err))
}
