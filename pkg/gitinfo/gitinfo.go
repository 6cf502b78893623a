// Package gitinfo reads build metadata from the workspace repository.
package gitinfo

import (
	"fmt"

	git "github.com/go-git/go-git/v5"
)

// Info describes the workspace HEAD.
type Info struct {
	SHA    string
	Branch string // empty on a detached HEAD
	Dirty  bool
}

// Read resolves HEAD of the repository containing dir. dir may be any
// directory inside the worktree.
func Read(dir string) (*Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("git.PlainOpen(%s): %s", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %s", err)
	}

	info := &Info{SHA: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %s", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %s", err)
	}
	info.Dirty = !status.IsClean()

	return info, nil
}

// IsRepository reports whether dir sits inside a git worktree.
func IsRepository(dir string) bool {
	_, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	return err == nil
}
