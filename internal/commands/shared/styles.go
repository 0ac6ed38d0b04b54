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
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// CLI styles
var (
	StatusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	StatusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	Muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	Header      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
)

// IsTerminal reports whether w is a terminal that understands colour.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if t := os.Getenv("TERM"); t == "" || t == "dumb" {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Printer renders status lines, styled only when writing to a terminal.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: IsTerminal(w)}
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// Header writes a section header.
func (p *Printer) Header(text string) {
	io.WriteString(p.w, p.render(Header, text)+"\n")
}

// Check writes one check line: a status symbol, the name and detail.
func (p *Printer) Check(ok, warn bool, name, detail string) {
	symbol := p.render(StatusOK, SymbolOK)
	switch {
	case !ok:
		symbol = p.render(StatusError, SymbolError)
	case warn:
		symbol = p.render(StatusWarn, SymbolWarn)
	}
	line := "  " + symbol + " " + name
	if detail != "" {
		line += " " + p.render(Muted, detail)
	}
	io.WriteString(p.w, line+"\n")
}

// Line writes unstyled text.
func (p *Printer) Line(text string) {
	io.WriteString(p.w, text+"\n")
}
