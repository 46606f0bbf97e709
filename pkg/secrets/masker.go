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

// Package secrets provides helpers that keep secret values out of output
// streams and log lines.
package secrets

import (
	"bytes"
	"io"
	"sync"
)

// Mask is the replacement text for every masked secret occurrence.
const Mask = "***"

// Masker replaces registered secret values with Mask.
type Masker struct {
	mu      sync.RWMutex
	secrets [][]byte
}

// NewMasker creates a masker for the given secret values. Empty values are
// ignored.
func NewMasker(values ...[]byte) *Masker {
	m := &Masker{}
	for _, v := range values {
		m.AddSecret(v)
	}
	return m
}

// AddSecret registers a value to be masked. The masker keeps its own copy.
func (m *Masker) AddSecret(value []byte) {
	if len(value) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets = append(m.secrets, bytes.Clone(value))
}

// Wipe zeroes every registered value and forgets them.
func (m *Masker) Wipe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.secrets {
		clear(s)
	}
	m.secrets = nil
}

// MaskString replaces all known secrets in s with Mask.
func (m *Masker) MaskString(s string) string {
	return string(m.MaskBytes([]byte(s)))
}

// MaskBytes returns a copy of b with all known secrets replaced by Mask.
func (m *Masker) MaskBytes(b []byte) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := bytes.Clone(b)
	for _, secret := range m.secrets {
		out = bytes.ReplaceAll(out, secret, []byte(Mask))
	}
	return out
}

// NewWriter returns a writer that forwards to w with every secret occurrence
// replaced, including occurrences split across Write calls. Bytes that could
// be the start of a secret are held back until the next Write or Flush.
func (m *Masker) NewWriter(w io.Writer) *MaskingWriter {
	return &MaskingWriter{masker: m, out: w}
}

// MaskingWriter is the streaming form of Masker. It is safe for use by a
// single writer goroutine.
type MaskingWriter struct {
	masker  *Masker
	out     io.Writer
	pending []byte
}

// Write implements io.Writer. It always reports len(p) on success since the
// caller's bytes are either forwarded or buffered.
func (w *MaskingWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)

	w.masker.mu.RLock()
	secrets := w.masker.secrets
	var emit []byte
	for {
		idx, n := earliest(w.pending, secrets)
		if idx < 0 {
			break
		}
		emit = append(emit, w.pending[:idx]...)
		emit = append(emit, Mask...)
		w.pending = w.pending[idx+n:]
	}
	hold := heldSuffix(w.pending, secrets)
	w.masker.mu.RUnlock()

	emit = append(emit, w.pending[:len(w.pending)-hold]...)
	w.pending = append(w.pending[:0:0], w.pending[len(w.pending)-hold:]...)

	if len(emit) > 0 {
		if _, err := w.out.Write(emit); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes any held-back bytes. A held-back tail is never a complete
// secret, so it is written as is.
func (w *MaskingWriter) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	_, err := w.out.Write(w.pending)
	clear(w.pending)
	w.pending = nil
	return err
}

// earliest returns the index and length of the first secret occurrence in b.
func earliest(b []byte, secrets [][]byte) (int, int) {
	best, bestLen := -1, 0
	for _, s := range secrets {
		if i := bytes.Index(b, s); i >= 0 && (best < 0 || i < best || (i == best && len(s) > bestLen)) {
			best, bestLen = i, len(s)
		}
	}
	return best, bestLen
}

// heldSuffix returns the length of the longest suffix of b that is a proper
// prefix of some secret.
func heldSuffix(b []byte, secrets [][]byte) int {
	hold := 0
	for _, s := range secrets {
		limit := min(len(s)-1, len(b))
		for n := limit; n > hold; n-- {
			if bytes.Equal(b[len(b)-n:], s[:n]) {
				hold = n
				break
			}
		}
	}
	return hold
}
