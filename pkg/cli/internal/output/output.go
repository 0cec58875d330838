// Package output provides common output formatting utilities.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Stdout and Stderr are swapped out by tests.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// JSON writes indented JSON to Stdout.
func JSON(v any) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table creates an aligned table writer for Stdout.
// Remember to call Flush() when done writing.
func Table() *tabwriter.Writer {
	return tabwriter.NewWriter(Stdout, 0, 0, 2, ' ', 0)
}

// Warn prints a warning message to Stderr.
func Warn(format string, args ...any) {
	fmt.Fprintln(Stderr, color.YellowString("Warning: ")+fmt.Sprintf(format, args...))
}

// Success prints a confirmation line to Stdout.
func Success(format string, args ...any) {
	fmt.Fprintln(Stdout, color.GreenString("✓ ")+fmt.Sprintf(format, args...))
}

// Status colors a lifecycle status for terminal output.
func Status(s string) string {
	switch s {
	case "complete", "success", "closed", "active":
		return color.GreenString(s)
	case "running":
		return color.CyanString(s)
	case "error", "failed":
		return color.RedString(s)
	default:
		return s
	}
}
