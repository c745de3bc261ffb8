package avforge

import (
	"fmt"
	"os/exec"
	"strings"
)

// GitError represents an error that occurred during a Git operation
type GitError struct {
	Op  string
	Err error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git operation %s failed: %v", e.Op, e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// executeGitCommand is a helper function to execute Git commands and handle their output
func executeGitCommand(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", &GitError{
			Op:  strings.Join(args, " "),
			Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))),
		}
	}
	return strings.TrimSpace(string(out)), nil
}

// cloneArgs produces the arguments of a shallow clone. History is limited to the
// latest revision to keep the transfer small - we only ever build HEAD.
func cloneArgs(repository, ref, dest string) []string {
	args := []string{"clone", "--depth=1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	return append(args, repository, dest)
}

// CloneShallow performs a depth-1 clone of the upstream repository into dest and
// returns the commit hash of the checked-out revision. A network failure or bad
// URL is fatal to the build; there is no retry.
func (c *buildContext) cloneShallow(repository, ref, dest string) (commit string, err error) {
	args := cloneArgs(repository, ref, dest)
	err = c.run(StageClone, "", nil, "git", args...)
	if err != nil {
		return "", &GitError{
			Op:  "clone " + repository,
			Err: err,
		}
	}

	return executeGitCommand(dest, "rev-parse", "HEAD")
}
