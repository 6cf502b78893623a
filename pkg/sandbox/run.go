package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"fusebox/pkg/config"
	"fusebox/pkg/exec"
	"fusebox/pkg/log"
	"fusebox/pkg/metrics"
)

// Run mounts the sandbox, executes one command against the mounted view
// and writes the access report. The command's working directory is the
// caller's, remapped into the mountpoint. It returns the child's exit
// code.
func Run(ctx context.Context, cfg *config.Sandbox, deps *config.Dependencies, fsm *metrics.FS, command *exec.Command, usePty bool) (int, error) {
	s, err := New(cfg, deps, fsm)
	if err != nil {
		return 0, err
	}

	if err := s.Mount(); err != nil {
		return 0, err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.ErrorMsg("Tearing down the sandbox: %s\n", err)
		}
	}()

	if command.Dir == "" {
		command.Dir = s.rebase(workingDir(deps))
	}

	log.InfoMsg("Running %s in %s\n", command.Program, command.Dir)

	var code int
	if usePty {
		code, err = exec.RunWithPTY(ctx, command)
	} else {
		code, err = exec.Run(ctx, command, deps)
	}
	if err != nil {
		return 0, fmt.Errorf("running %s: %s", command.Program, err)
	}

	s.Quiesce()
	if err := s.Report(config.GetStdoutFunc(deps)()); err != nil {
		log.ErrorMsg("Writing the access report: %s\n", err)
	}

	return code, nil
}

// rebase maps a path inside the source tree to its sandboxed twin.
// Paths outside the tree map to the mountpoint root.
func (s *Sandbox) rebase(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return s.mountpoint
	}
	return filepath.Join(s.mountpoint, rel)
}

func workingDir(deps *config.Dependencies) string {
	wd, err := config.GetGetwdFunc(deps)()
	if err != nil {
		return ""
	}
	return wd
}
