package utils

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/utilitywarehouse/gitlab-mirror/giturl"
)

const DefaultDirMode fs.FileMode = os.FileMode(0755) // 'rwxr-xr-x'

// LevelTrace is the log level used for command tracing.
const LevelTrace = slog.Level(-8)

// SplitAbs splits given path into dir and base without trailing separators
func SplitAbs(abs string) (string, string) {
	if abs == "" {
		return "", ""
	}

	// filepath.Split promises that dir+base == input, but trailing slashes on
	// the dir is confusing and ugly.
	pathSep := string(os.PathSeparator)
	dir, base := filepath.Split(strings.TrimRight(abs, pathSep))
	dir = strings.TrimRight(dir, pathSep)
	if len(dir) == 0 {
		dir = string(os.PathSeparator)
	}

	return dir, base
}

// DirIsEmpty returns true if given dir has no entries
func DirIsEmpty(path string) (bool, error) {
	dirents, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(dirents) == 0, nil
}

// RemoveDirContents iterates the specified dir and removes all contents.
// The dir itself is kept as it might be a mount point.
func RemoveDirContents(dir string, log *slog.Logger) error {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	// Save errors until the end.
	var errs []error
	for _, fi := range dirents {
		p := filepath.Join(dir, fi.Name())
		log.Debug("removing path", "path", p)
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("%s", errs)
	}
	return nil
}

// RunCommand runs given command with given arguments on given CWD.
// envs are appended to the current process environment. It returns trimmed
// stdout and stderr, err is set if command could not be run or exited non-zero.
// Credentials embedded in URLs are redacted from the logs.
func RunCommand(ctx context.Context, log *slog.Logger, envs []string, cwd string, command string, args ...string) (string, string, error) {
	cmdStr := giturl.Redact(command + " " + strings.Join(args, " "))
	log.Log(ctx, LevelTrace, "running command", "cwd", cwd, "cmd", cmdStr)

	cmd := exec.CommandContext(ctx, command, args...)
	// force kill git & child process 5 seconds after sending it sigterm (when ctx is cancelled)
	cmd.WaitDelay = 5 * time.Second
	if cwd != "" {
		cmd.Dir = cwd
	}
	outbuf := bytes.NewBuffer(nil)
	errbuf := bytes.NewBuffer(nil)
	cmd.Stdout = outbuf
	cmd.Stderr = errbuf

	cmd.Env = append(os.Environ(), envs...)

	start := time.Now()
	err := cmd.Run()
	runTime := time.Since(start)

	stdout := strings.TrimSpace(outbuf.String())
	stderr := strings.TrimSpace(errbuf.String())
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	log.Log(ctx, LevelTrace, "command result",
		"stdout", giturl.Redact(stdout), "stderr", giturl.Redact(stderr), "time", runTime, "err", err)

	return stdout, stderr, err
}
