// Package diag provides the package-level loggers used across squashserve's
// commands and libraries, following the plain *log.Logger style used
// in this codebase's storage backends (pkg/sorted/kvfile) rather than a
// structured-logging framework.
package diag

import (
	"io"
	"log"
	"os"
)

// New returns a *log.Logger writing to stderr with a prefix and the
// standard date/time/microsecond flags, matching the prefix-per-component
// convention seen in blobserver/blobpacked ("blobpacked: ").
func New(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix+": ", log.LstdFlags|log.Lmicroseconds)
}

// L is the default logger for code that has no more specific component
// identity of its own (e.g. ad hoc package-level diagnostics).
var L = New("squashserve")

// Discard returns a logger that drops everything written to it, useful in
// tests that want to silence a component's logging without nil-checking a
// *log.Logger everywhere.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
