package repository

import (
	"path/filepath"
	"slices"
	"strings"
)

const remoteBranchPrefix = "remotes/" + originRemote + "/"

// BranchSet is the parsed output of `git branch --all`
type BranchSet struct {
	// Local branch names
	Local []string
	// Remote branch names of origin without `origin/` prefix
	Remote []string
	// Current is the checked out branch, empty if HEAD is detached
	Current string
	// RemoteHead is the branch origin/HEAD points to
	RemoteHead string
}

// Default returns the checked out branch, falling back to remote HEAD
func (b BranchSet) Default() string {
	if b.Current != "" {
		return b.Current
	}
	return b.RemoteHead
}

// DefaultMoved reports whether the checked out branch is gone from the
// remote while the branch remote HEAD points to exists
func (b BranchSet) DefaultMoved() bool {
	return b.Current != "" &&
		b.RemoteHead != "" &&
		b.Current != b.RemoteHead &&
		!slices.Contains(b.Remote, b.Current) &&
		slices.Contains(b.Remote, b.RemoteHead)
}

// ParseBranches parses output of `git branch --all --no-color`
//
//	* main
//	  feature
//	  remotes/origin/HEAD -> origin/main
//	  remotes/origin/feature
//	  remotes/origin/main
func ParseBranches(out string) BranchSet {
	var bs BranchSet
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		current := strings.HasPrefix(line, "* ")
		// branches checked out in other worktrees are marked with '+'
		name := strings.TrimSpace(strings.TrimLeft(line, "*+ "))

		switch {
		case strings.HasPrefix(name, "("):
			// (HEAD detached at 1a2b3c4)
			continue
		case strings.HasPrefix(name, remoteBranchPrefix):
			name = strings.TrimPrefix(name, remoteBranchPrefix)
			if head, target, ok := strings.Cut(name, " -> "); ok {
				if head == "HEAD" {
					bs.RemoteHead = strings.TrimPrefix(target, originRemote+"/")
				}
				continue
			}
			bs.Remote = append(bs.Remote, name)
		case strings.HasPrefix(name, "remotes/"):
			// other remotes ie backup
			continue
		default:
			bs.Local = append(bs.Local, name)
			if current {
				bs.Current = name
			}
		}
	}
	return bs
}

// Plan is the set of branch operations needed to reconcile local branches
// with the remote
type Plan struct {
	// Track are remote branches without local branch
	Track []string
	// Reset are local branches which exists on remote
	Reset []string
	// Delete are local branches removed from remote
	Delete []string
}

// Reconcile returns plan for given branch set. Default branch is never
// part of the plan as it's updated with pull.
func Reconcile(bs BranchSet) Plan {
	var p Plan
	def := bs.Default()

	for _, r := range bs.Remote {
		if r == def || r == "HEAD" {
			continue
		}
		if slices.Contains(bs.Local, r) {
			p.Reset = append(p.Reset, r)
		} else {
			p.Track = append(p.Track, r)
		}
	}

	for _, l := range bs.Local {
		if l == def || l == bs.Current {
			continue
		}
		if !slices.Contains(bs.Remote, l) {
			p.Delete = append(p.Delete, l)
		}
	}
	return p
}

// sameDir returns true if both paths point to the same dir
func sameDir(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		return false
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		return false
	}
	return ra == rb
}
