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

package reload

import (
	"fmt"
	"os"

	"github.com/tombee/feedpass/internal/secret"
)

// pipeBuf is PIPE_BUF on every supported platform.
const pipeBuf = 4096

// Handoff carries the secret to the next process image through an
// anonymous pipe. Nothing is written to a path another process could open.
type Handoff struct {
	r *os.File
	w *os.File
}

// NewHandoff creates the pipe.
func NewHandoff() (*Handoff, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create handoff pipe: %w", err)
	}
	return &Handoff{r: r, w: w}, nil
}

// Capacity returns how many bytes can be written before a write blocks.
func (h *Handoff) Capacity() int {
	return pipeCapacity(h.w)
}

// Send writes the secret and a newline, then closes the write end. It
// refuses secrets that do not fit into the pipe, since with no reader
// until after exec the write would block forever.
func (h *Handoff) Send(s *secret.Secret) error {
	defer h.closeWriter()

	need := s.Len() + 1
	if capacity := h.Capacity(); need > capacity {
		return fmt.Errorf("secret of %d bytes exceeds handoff capacity of %d bytes", need, capacity)
	}

	line := s.Line()
	defer clear(line)

	n, err := h.w.Write(line)
	if err != nil {
		return fmt.Errorf("failed to write handoff: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("short handoff write: %d of %d bytes", n, len(line))
	}
	return nil
}

// ReadLine reads the handed-off secret back from the read end.
func (h *Handoff) ReadLine() ([]byte, error) {
	return secret.ReadLine(h.r)
}

// ReadFd returns the read end descriptor in blocking mode, ready to be
// installed as the next image's standard input.
func (h *Handoff) ReadFd() int {
	return int(h.r.Fd())
}

// Close releases both ends.
func (h *Handoff) Close() error {
	h.closeWriter()
	return h.r.Close()
}

func (h *Handoff) closeWriter() {
	if h.w != nil {
		h.w.Close()
		h.w = nil
	}
}
