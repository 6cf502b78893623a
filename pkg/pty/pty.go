// Package pty provides pseudo-terminal (PTY) functionality for running
// sandboxed commands on their own terminal. It supports Unix systems
// (Linux, Darwin) via standard PTY operations.
package pty

// TerminalSize represents the dimensions of a terminal window in rows and columns.
type TerminalSize struct {
	Rows int // Number of rows (height) in the terminal
	Cols int // Number of columns (width) in the terminal
}
