// Package diag holds process-wide diagnostic switches and the stderr
// formatting helpers shared by every compiler stage. Verbose is the only
// global the whole compiler consults; everything else (sections, symbols,
// the PE builder) is threaded through explicit arguments rather than
// ambient singletons.
package diag

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Verbose gates the emitter/linker byte-trace output enabled by -v/--verbose.
var Verbose bool

var errPrefix = color.New(color.FgRed, color.Bold)

// Tracef writes a verbose diagnostic line to stderr when Verbose is set.
func Tracef(format string, args ...interface{}) {
	if !Verbose {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// SourceError formats a fatal diagnostic in the required
// "<file>[<line>:<col>] <message>" shape.
func SourceError(file string, line, col int, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s[%d:%d] %s", file, line, col, msg)
}

// PrintFatal prints a top-level fatal diagnostic to stderr. Unless color
// output is disabled (color.NoColor), the diagnostic is preceded by a bold
// red "error: " prefix; the message itself is printed uncolored.
func PrintFatal(err error) {
	if color.NoColor {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	errPrefix.Fprint(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err)
}
