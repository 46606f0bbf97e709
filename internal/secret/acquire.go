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
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
)

// Source describes where and how to acquire the secret. Exactly one origin
// applies; the remaining fields are read according to Origin.
type Source struct {
	Origin Origin

	// EnvVar names the variable for OriginEnv.
	EnvVar string

	// File is the path for OriginFile.
	File string

	// Stdin is read for OriginStdin. Defaults to os.Stdin.
	Stdin io.Reader

	// KeyringService and KeyringUser address the entry for OriginKeyring.
	KeyringService string
	KeyringUser    string

	// Confirm asks twice for OriginPrompt.
	Confirm bool

	// Label names what the secret is for in the interactive prompt.
	Label string

	// OpenTerminal returns the terminal used for OriginPrompt. Defaults to
	// the controlling terminal.
	OpenTerminal func() (Terminal, error)

	// Environment access for OriginEnv. Defaults to the process environment.
	LookupEnv func(string) (string, bool)
	Unsetenv  func(string) error

	// Keyring access for OriginKeyring. Defaults to the OS keyring.
	Keyring KeyringReader
}

// Acquire reads the secret once from src. Failures are *AcquisitionError.
func Acquire(ctx context.Context, src Source) (*Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, unreadable(src.Origin, err)
	}

	switch src.Origin {
	case OriginEnv:
		return acquireEnv(src)
	case OriginFile:
		return acquireFile(src)
	case OriginStdin:
		return acquireStdin(src)
	case OriginPrompt:
		return acquirePrompt(src)
	case OriginKeyring:
		return acquireKeyring(ctx, src)
	default:
		return nil, unreadable(src.Origin, fmt.Errorf("unknown origin %q", src.Origin))
	}
}

// acquireEnv reads and removes the variable. Removing it only narrows the
// window in which the value is visible in this process's environment; it
// stays readable through /proc/<pid>/environ of the original exec.
func acquireEnv(src Source) (*Secret, error) {
	if src.EnvVar == "" {
		return nil, unreadable(OriginEnv, errors.New("no variable name given"))
	}
	lookup := src.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	unset := src.Unsetenv
	if unset == nil {
		unset = os.Unsetenv
	}

	value, ok := lookup(src.EnvVar)
	if !ok {
		return nil, unreadable(OriginEnv, fmt.Errorf("variable %s is not set", src.EnvVar))
	}
	if err := unset(src.EnvVar); err != nil {
		return nil, unreadable(OriginEnv, fmt.Errorf("unset %s: %w", src.EnvVar, err))
	}
	return NewFromEnv([]byte(value), src.EnvVar), nil
}

func acquireFile(src Source) (*Secret, error) {
	f, err := os.Open(src.File)
	if err != nil {
		return nil, unreadable(OriginFile, err)
	}
	defer f.Close()

	value, err := ReadLine(bufio.NewReader(f))
	if err != nil {
		return nil, unreadable(OriginFile, fmt.Errorf("%s: %w", src.File, err))
	}
	return New(value, OriginFile), nil
}

func acquireStdin(src Source) (*Secret, error) {
	r := src.Stdin
	if r == nil {
		r = os.Stdin
	}
	value, err := ReadLine(r)
	if err != nil {
		return nil, unreadable(OriginStdin, err)
	}
	return New(value, OriginStdin), nil
}

func acquirePrompt(src Source) (*Secret, error) {
	open := src.OpenTerminal
	if open == nil {
		open = OpenControllingTerminal
	}
	term, err := open()
	if err != nil {
		return nil, unreadable(OriginPrompt, err)
	}
	defer term.Close()

	first, err := term.ReadPassword(fmt.Sprintf("Password to feed to '%s': ", src.Label))
	if err != nil {
		return nil, unreadable(OriginPrompt, err)
	}
	if !src.Confirm {
		return New(first, OriginPrompt), nil
	}

	second, err := term.ReadPassword("Confirm password: ")
	defer clear(second)
	if err != nil {
		clear(first)
		return nil, unreadable(OriginPrompt, err)
	}
	if subtle.ConstantTimeCompare(first, second) != 1 {
		clear(first)
		return nil, &AcquisitionError{Kind: ConfirmationMismatch, Origin: OriginPrompt}
	}

	s := New(first, OriginPrompt)
	s.confirmed = true
	return s, nil
}

func acquireKeyring(ctx context.Context, src Source) (*Secret, error) {
	kr := src.Keyring
	if kr == nil {
		kr = OSKeyring{}
	}
	value, err := kr.Get(ctx, src.KeyringService, src.KeyringUser)
	if err != nil {
		return nil, unreadable(OriginKeyring, err)
	}
	return New(value, OriginKeyring), nil
}

// ReadLine reads exactly one line from r, one byte at a time so that nothing
// past the newline is consumed. The trailing "\n" (and a preceding "\r") is
// stripped. A stream that ends after some bytes without a newline yields
// those bytes; a stream that ends before any byte yields ErrEmptyInput.
func ReadLine(r io.Reader) ([]byte, error) {
	var (
		line []byte
		buf  [1]byte
		read bool
	)
	for {
		n, err := r.Read(buf[:])
		if n == 1 {
			read = true
			if buf[0] == '\n' {
				break
			}
			line = append(line, buf[0])
		}
		if err == io.EOF {
			if !read {
				return nil, ErrEmptyInput
			}
			break
		}
		if err != nil {
			clear(line)
			return nil, err
		}
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line[n-1] = 0
		line = line[:n-1]
	}
	if line == nil {
		line = []byte{}
	}
	return line, nil
}
