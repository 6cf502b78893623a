// Package audit captures the file access trace of a sandboxed process.
// The filesystem layer emits one Event per observed operation; a Worker
// moves them off the serve path into a Store.
package audit

import (
	"fmt"
	"time"
)

// Op names an observed filesystem operation in the access trace.
type Op string

const (
	OpOpen    Op = "OPEN"
	OpOpendir Op = "OPENDIR"
	OpRead    Op = "READ"
	OpWrite   Op = "WRITE"
	OpCreate  Op = "CREATE"
	OpMkdir   Op = "MKDIR"
	OpRmdir   Op = "RMDIR"
	OpUnlink  Op = "UNLINK"
	OpLink    Op = "LINK"
	OpSymlink Op = "SYMLINK"
	OpRename  Op = "RENAME"
	OpSetattr Op = "SETATTR"
)

// Event is one observed file access. Keep it transport-agnostic so
// stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	Op        Op
	Path      string
	Target    string
	PID       uint32
	UID       uint32
	Allowed   bool
}

// Line renders the event in the access trace format, `OPEN: /path`.
// Two-path operations render as `RENAME: /old -> /new`.
func (e Event) Line() string {
	verdict := ""
	if !e.Allowed {
		verdict = " (denied)"
	}
	if e.Target != "" {
		return fmt.Sprintf("%s: %s -> %s%s", e.Op, e.Path, e.Target, verdict)
	}
	return fmt.Sprintf("%s: %s%s", e.Op, e.Path, verdict)
}
