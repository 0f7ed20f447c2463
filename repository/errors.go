package repository

import (
	"fmt"
	"strings"

	"github.com/utilitywarehouse/gitlab-mirror/giturl"
)

// GitError is returned when git command exits with non-zero status.
// Credentials embedded in remote URLs are redacted from Args and Stderr.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func newGitError(args []string, stderr string, err error) *GitError {
	redacted := make([]string, len(args))
	for i, a := range args {
		redacted[i] = giturl.Redact(a)
	}
	return &GitError{Args: redacted, Stderr: giturl.Redact(stderr), Err: err}
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }
