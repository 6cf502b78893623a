// Package log provides logging utilities including colored console output
// and a debug gate for the verbose operation trace.
package log

import (
	"os"
	"sync/atomic"

	"github.com/fatih/color"
)

var red = color.New(color.FgRed).FprintfFunc()
var blue = color.New(color.FgBlue).FprintfFunc()
var yellow = color.New(color.FgYellow).FprintfFunc()
var faint = color.New(color.Faint).FprintfFunc()

var debug atomic.Bool

// SetDebug enables or disables debug output globally.
func SetDebug(on bool) {
	debug.Store(on)
}

// Debugging reports whether debug output is enabled.
func Debugging() bool {
	return debug.Load()
}

// ErrorMsg prints an error message to stderr in red color.
func ErrorMsg(format string, a ...interface{}) {
	red(os.Stderr, "[!] Error: "+format, a...)
}

// InfoMsg prints an informational message to stderr in blue color.
func InfoMsg(format string, a ...interface{}) {
	blue(os.Stderr, "[+] "+format, a...)
}

// WarnMsg prints a warning message to stderr in yellow color.
func WarnMsg(format string, a ...interface{}) {
	yellow(os.Stderr, "[~] "+format, a...)
}

// DebugMsg prints a dimmed message to stderr. It is a no-op unless
// SetDebug(true) was called.
func DebugMsg(format string, a ...interface{}) {
	if !debug.Load() {
		return
	}
	faint(os.Stderr, "[*] "+format, a...)
}
