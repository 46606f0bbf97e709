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
	"fmt"
	"os"

	"golang.org/x/term"
)

// Terminal reads passwords with echo disabled.
type Terminal interface {
	ReadPassword(prompt string) ([]byte, error)
	Close() error
}

// ttyTerminal prompts on the controlling terminal, independent of where
// stdin and stdout point.
type ttyTerminal struct {
	f *os.File
}

// OpenControllingTerminal opens /dev/tty for prompting.
func OpenControllingTerminal() (Terminal, error) {
	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("no controlling terminal: %w", err)
	}
	if !term.IsTerminal(int(f.Fd())) {
		f.Close()
		return nil, fmt.Errorf("/dev/tty is not a terminal")
	}
	return &ttyTerminal{f: f}, nil
}

func (t *ttyTerminal) ReadPassword(prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(t.f, prompt); err != nil {
		return nil, err
	}
	b, err := term.ReadPassword(int(t.f.Fd()))
	// New line after hidden input
	fmt.Fprintln(t.f)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (t *ttyTerminal) Close() error {
	return t.f.Close()
}
