package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/utilitywarehouse/gitlab-mirror/internal/utils"
)

var gitExecutablePath string

func init() {
	gitExecutablePath = exec.Command("git").String()
}

// Git is the set of git operations used to sync a working clone.
// Every method except IsWorkTree returns *GitError if git exits non-zero.
type Git interface {
	// IsWorkTree reports whether dir is the top level dir of a valid working tree
	IsWorkTree(ctx context.Context, dir string) bool
	// Clone clones remote into dir and configures non-rebasing pulls
	Clone(ctx context.Context, dir, remote string, singleBranch bool) error
	RenameRemote(ctx context.Context, dir, from, to string) error
	// SetRemoteURL updates URL of an existing remote
	SetRemoteURL(ctx context.Context, dir, name, url string) error
	// ReplaceRemote removes remote (if present) and adds it with given url
	ReplaceRemote(ctx context.Context, dir, name, url string) error
	// Fetch fetches origin, if all is set every branch and tag is fetched
	// and origin/HEAD is refreshed. Stale remote tracking branches and
	// (with all) tags are pruned.
	Fetch(ctx context.Context, dir string, all bool) error
	// ListBranches returns the raw output of `git branch --all`
	ListBranches(ctx context.Context, dir string) (string, error)
	// TrackBranch creates (or with force resets) local branch name
	// tracking remoteRef
	TrackBranch(ctx context.Context, dir, name, remoteRef string, force bool) error
	DeleteBranch(ctx context.Context, dir, name string) error
	// Checkout creates or resets branch name to remoteRef and checks it out
	Checkout(ctx context.Context, dir, name, remoteRef string) error
	// Pull merges branch of remote into the checked out branch
	Pull(ctx context.Context, dir, remote, branch string) error
	ListTags(ctx context.Context, dir string) ([]string, error)
	// Push pushes refspec to remote, setUpstream sets tracking of the
	// pushed branch
	Push(ctx context.Context, dir, remote, refspec string, setUpstream bool) error
}

type execGit struct {
	envs []string
	log  *slog.Logger
}

// NewGit returns Git which runs git binary found on PATH.
// envs are passed to every git command along with auth envs.
func NewGit(auth Auth, envs []string, log *slog.Logger) Git {
	if log == nil {
		log = slog.Default()
	}
	return &execGit{
		envs: append(auth.envs(), envs...),
		log:  log,
	}
}

func (g *execGit) run(ctx context.Context, cwd string, args ...string) (string, error) {
	stdout, stderr, err := utils.RunCommand(ctx, g.log, g.envs, cwd, gitExecutablePath, args...)
	if err != nil {
		return "", newGitError(args, stderr, err)
	}
	return stdout, nil
}

// IsWorkTree tries to make sure that the dir is a valid git working tree.
func (g *execGit) IsWorkTree(ctx context.Context, dir string) bool {
	// If it is empty or missing, we are done.
	if empty, err := utils.DirIsEmpty(dir); err != nil {
		if !os.IsNotExist(err) {
			g.log.Error("can't list repo directory", "path", dir, "err", err)
		}
		return false
	} else if empty {
		g.log.Debug("repo directory is empty", "path", dir)
		return false
	}

	// git rev-parse --is-inside-work-tree
	if ok, err := g.run(ctx, dir, "rev-parse", "--is-inside-work-tree"); err != nil {
		g.log.Debug("unable to verify work tree", "path", dir, "err", err)
		return false
	} else if ok != "true" {
		g.log.Debug("repo directory is not a work tree", "path", dir)
		return false
	}

	// Check that this is actually the root of the repo.
	// git rev-parse --show-toplevel
	if root, err := g.run(ctx, dir, "rev-parse", "--show-toplevel"); err != nil {
		g.log.Debug("can't get repo top level dir", "path", dir, "err", err)
		return false
	} else if !sameDir(root, dir) {
		g.log.Error("repo directory is under another repo", "path", dir, "parent", root)
		return false
	}

	return true
}

func (g *execGit) Clone(ctx context.Context, dir, remote string, singleBranch bool) error {
	parent, _ := utils.SplitAbs(dir)
	if err := os.MkdirAll(parent, utils.DefaultDirMode); err != nil {
		return fmt.Errorf("unable to create parent dir err:%w", err)
	}

	args := []string{"clone", "--no-progress"}
	if singleBranch {
		args = append(args, "--single-branch")
	}
	args = append(args, remote, dir)

	// git clone --no-progress [--single-branch] <remote> <dir>
	if _, err := g.run(ctx, parent, args...); err != nil {
		return err
	}

	// git config pull.rebase false
	_, err := g.run(ctx, dir, "config", "pull.rebase", "false")
	return err
}

func (g *execGit) RenameRemote(ctx context.Context, dir, from, to string) error {
	// git remote rename <from> <to>
	_, err := g.run(ctx, dir, "remote", "rename", from, to)
	return err
}

func (g *execGit) SetRemoteURL(ctx context.Context, dir, name, url string) error {
	// git remote set-url <name> <url>
	_, err := g.run(ctx, dir, "remote", "set-url", name, url)
	return err
}

func (g *execGit) ReplaceRemote(ctx context.Context, dir, name, url string) error {
	// git remote remove <name>
	if _, err := g.run(ctx, dir, "remote", "remove", name); err != nil {
		g.log.Log(ctx, utils.LevelTrace, "remote not removed", "remote", name, "err", err)
	}
	// git remote add <name> <url>
	_, err := g.run(ctx, dir, "remote", "add", name, url)
	return err
}

func (g *execGit) Fetch(ctx context.Context, dir string, all bool) error {
	// only origin is fetched, backup remote must not feed refs back
	args := []string{"fetch", originRemote, "--prune", "--no-progress"}
	if all {
		args = append(args, "--prune-tags", "--tags")
	}
	// git fetch origin --prune --no-progress [--prune-tags --tags]
	if _, err := g.run(ctx, dir, args...); err != nil {
		return err
	}
	if !all {
		return nil
	}
	// default branch of the source may have changed since clone
	// git remote set-head origin --auto
	if _, err := g.run(ctx, dir, "remote", "set-head", originRemote, "--auto"); err != nil {
		g.log.Warn("unable to update remote HEAD", "path", dir, "err", err)
	}
	return nil
}

func (g *execGit) ListBranches(ctx context.Context, dir string) (string, error) {
	// git branch --all --no-color
	return g.run(ctx, dir, "branch", "--all", "--no-color")
}

func (g *execGit) TrackBranch(ctx context.Context, dir, name, remoteRef string, force bool) error {
	args := []string{"branch", "--track"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, name, remoteRef)
	// git branch --track [--force] <name> <remoteRef>
	_, err := g.run(ctx, dir, args...)
	return err
}

func (g *execGit) DeleteBranch(ctx context.Context, dir, name string) error {
	// git branch -D <name>
	_, err := g.run(ctx, dir, "branch", "-D", name)
	return err
}

func (g *execGit) Checkout(ctx context.Context, dir, name, remoteRef string) error {
	// git checkout -q -B <name> --track <remoteRef>
	_, err := g.run(ctx, dir, "checkout", "-q", "-B", name, "--track", remoteRef)
	return err
}

func (g *execGit) Pull(ctx context.Context, dir, remote, branch string) error {
	// git pull --no-rebase -q <remote> <branch>
	_, err := g.run(ctx, dir, "pull", "--no-rebase", "-q", remote, branch)
	return err
}

func (g *execGit) ListTags(ctx context.Context, dir string) ([]string, error) {
	// git tag --list
	out, err := g.run(ctx, dir, "tag", "--list")
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, line := range strings.Split(out, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}

func (g *execGit) Push(ctx context.Context, dir, remote, refspec string, setUpstream bool) error {
	args := []string{"push", "--force", "--no-progress"}
	if setUpstream {
		args = append(args, "--set-upstream")
	}
	args = append(args, remote, refspec)
	// git push --force --no-progress [--set-upstream] <remote> <refspec>
	_, err := g.run(ctx, dir, args...)
	return err
}
