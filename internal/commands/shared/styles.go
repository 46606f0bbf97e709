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
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Symbols prefixed to status lines.
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
	SymbolInfo  = "•"
)

// Printer writes status lines to one writer. Colour is used only when the
// writer is a terminal that supports it.
type Printer struct {
	w     io.Writer
	ok    lipgloss.Style
	warn  lipgloss.Style
	err   lipgloss.Style
	info  lipgloss.Style
	muted lipgloss.Style
	bold  lipgloss.Style
}

// NewPrinter creates a Printer whose colour profile is detected from w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:     w,
		ok:    r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("214")),
		err:   r.NewStyle().Foreground(lipgloss.Color("196")),
		info:  r.NewStyle().Foreground(lipgloss.Color("39")),
		muted: r.NewStyle().Foreground(lipgloss.Color("245")),
		bold:  r.NewStyle().Bold(true),
	}
}

// OK prints a success line.
func (p *Printer) OK(format string, args ...any) {
	p.line(p.ok, SymbolOK, format, args...)
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	p.line(p.warn, SymbolWarn, format, args...)
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	p.line(p.err, SymbolError, format, args...)
}

// Info prints an informational line.
func (p *Printer) Info(format string, args ...any) {
	p.line(p.info, SymbolInfo, format, args...)
}

// KV prints "label: value" with a dim label.
func (p *Printer) KV(label string, value any) {
	fmt.Fprintln(p.w, p.muted.Render(label+":")+" "+p.bold.Render(fmt.Sprint(value)))
}

func (p *Printer) line(style lipgloss.Style, symbol, format string, args ...any) {
	fmt.Fprintln(p.w, style.Render(symbol)+" "+fmt.Sprintf(format, args...))
}
