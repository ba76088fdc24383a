// Package output renders recovery results and errors for the keyward CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// Format selects how command results are written.
type Format string

// Output formats. FormatAuto resolves to text on a terminal and JSON when
// output is piped, so scripts get machine-readable recoveries by default.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatAuto Format = "auto"
)

// ParseFormat parses a format name. Empty means FormatAuto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatAuto:
		return f, nil
	case "":
		return FormatAuto, nil
	default:
		return "", kwerr.WithSuggestion(
			kwerr.WithDetails(kwerr.ErrInvalidInput, map[string]string{"format": s}),
			"use text, json or auto",
		)
	}
}

// Resolve returns f, turning FormatAuto into text when w is a terminal and
// JSON otherwise.
func (f Format) Resolve(w io.Writer) Format {
	if f != FormatAuto {
		return f
	}
	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) { //nolint:gosec // G115: Fd() fits in int on supported platforms
		return FormatText
	}
	return FormatJSON
}

// TextRenderer is implemented by results with their own human-readable
// layout, such as a recovery summary or a coin table.
type TextRenderer interface {
	RenderText(w io.Writer) error
}

// Formatter writes command results in one resolved format.
type Formatter struct {
	format Format
	out    io.Writer
}

// NewFormatter creates a formatter writing to w. FormatAuto is resolved
// against w.
func NewFormatter(format Format, w io.Writer) *Formatter {
	return &Formatter{format: format.Resolve(w), out: w}
}

// Format returns the resolved output format.
func (f *Formatter) Format() Format {
	return f.format
}

// IsJSON returns true if the formatter outputs JSON.
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// Print writes v as indented JSON, or in text mode through its RenderText
// layout. Values without one are printed as a single line.
func (f *Formatter) Print(v any) error {
	if f.format == FormatJSON {
		return WriteJSON(f.out, v)
	}
	if r, ok := v.(TextRenderer); ok {
		return r.RenderText(f.out)
	}
	_, err := fmt.Fprintln(f.out, v)
	return err
}

// WriteJSON encodes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
