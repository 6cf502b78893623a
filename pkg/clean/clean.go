// Package clean detects and detaches stale mounts, useful when a
// previous sandbox died without unmounting and left the mountpoint
// disconnected.
package clean

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"fusebox/pkg/log"
)

// IsStale reports whether path is the mountpoint of a dead FUSE
// filesystem. Stat on such a mountpoint fails with ENOTCONN once the
// serving process is gone.
func IsStale(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, syscall.ENOTCONN)
}

// Detach lazily unmounts the filesystem at path through the platform
// unmount helper.
func Detach(path string) error {
	cmd := detachCommand(path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %s (%s)", strings.Join(cmd.Args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// EnsureDetached detaches the mount at path if a previous process left
// it behind. On a healthy path it is a no-op.
func EnsureDetached(path string) error {
	if !IsStale(path) {
		return nil
	}

	log.WarnMsg("Detaching stale mount at %s\n", path)
	return Detach(path)
}
