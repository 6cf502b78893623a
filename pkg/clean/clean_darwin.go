//go:build darwin
// +build darwin

package clean

import (
	"os/exec"
)

func detachCommand(path string) *exec.Cmd {
	return exec.Command("umount", "-f", path)
}
