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
	"bytes"
	"log/slog"
)

// Origin identifies where a secret was acquired from.
type Origin string

const (
	// OriginEnv reads the secret from a named environment variable.
	OriginEnv Origin = "env"
	// OriginFile reads the first line of a file.
	OriginFile Origin = "file"
	// OriginStdin reads one line from standard input.
	OriginStdin Origin = "stdin"
	// OriginPrompt asks on the controlling terminal with echo disabled.
	OriginPrompt Origin = "prompt"
	// OriginKeyring reads from the OS keyring.
	OriginKeyring Origin = "keyring"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginEnv, OriginFile, OriginStdin, OriginPrompt, OriginKeyring:
		return true
	}
	return false
}

// Secret holds the acquired credential. The zero value is empty and not
// usable; construct with Acquire or New.
//
// String and LogValue never render the value; callers get copies of it only
// through Line and Value.
type Secret struct {
	value     []byte
	origin    Origin
	envVar    string
	confirmed bool
}

// New wraps value as a secret of the given origin. The secret takes
// ownership of value.
func New(value []byte, origin Origin) *Secret {
	return &Secret{value: value, origin: origin}
}

// NewFromEnv wraps value as a secret read from the named variable, which
// makes it replayable.
func NewFromEnv(value []byte, envVar string) *Secret {
	return &Secret{value: value, origin: OriginEnv, envVar: envVar}
}

// Origin returns where the secret came from.
func (s *Secret) Origin() Origin { return s.origin }

// Confirmed reports whether an interactive confirmation prompt matched.
func (s *Secret) Confirmed() bool { return s.confirmed }

// Replayable reports whether the secret can be handed to a new process image
// through its original source. Only environment secrets can: the value is
// put back into the named variable of the new image's environment.
func (s *Secret) Replayable() bool {
	return s.origin == OriginEnv && s.envVar != ""
}

// EnvVar returns the variable name of a replayable secret.
func (s *Secret) EnvVar() string { return s.envVar }

// Len returns the length of the secret value in bytes.
func (s *Secret) Len() int { return len(s.value) }

// Line returns a fresh copy of the value followed by a newline. Callers
// should clear the returned slice once written.
func (s *Secret) Line() []byte {
	line := make([]byte, 0, len(s.value)+1)
	line = append(line, s.value...)
	return append(line, '\n')
}

// Value returns a fresh copy of the raw value.
func (s *Secret) Value() []byte {
	return bytes.Clone(s.value)
}

// Equal reports whether the secret value equals b, without exposing it.
func (s *Secret) Equal(b []byte) bool {
	return bytes.Equal(s.value, b)
}

// Release zeroes the value. The secret must not be used afterwards.
func (s *Secret) Release() {
	clear(s.value)
	s.value = nil
}

// String implements fmt.Stringer and never prints the value.
func (s *Secret) String() string {
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer so a secret passed to a logger is
// rendered as its metadata only.
func (s *Secret) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("origin", string(s.origin)),
		slog.Int("length", len(s.value)),
		slog.Bool("replayable", s.Replayable()),
	)
}
