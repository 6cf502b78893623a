//go:build linux
// +build linux

package clean

import (
	"os/exec"
)

func detachCommand(path string) *exec.Cmd {
	return exec.Command("fusermount", "-uz", path)
}
