package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/utilitywarehouse/gitlab-mirror/internal/utils"
)

// Syncer keeps working clones in sync with their remotes.
// A Syncer is safe for concurrent use as long as every call uses a
// different dir.
type Syncer struct {
	git               Git
	onlyDefaultBranch bool
	log               *slog.Logger
}

// NewSyncer returns Syncer running given git operations
func NewSyncer(git Git, conf Config, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{
		git:               git,
		onlyDefaultBranch: conf.OnlyDefaultBranch,
		log:               log,
	}
}

// Download brings working clone at dir in sync with the remote
//  1. clone if dir is not a valid work tree
//  2. point origin to the remote
//  3. fetch and reconcile local branches with remote ones
//  4. pull default branch
func (s *Syncer) Download(ctx context.Context, dir, remote string) error {
	log := s.log.With("path", dir)

	if err := s.init(ctx, log, dir, remote); err != nil {
		return fmt.Errorf("unable to init repo err:%w", err)
	}

	// older versions used to rename origin to 'upstream', rename it back
	if err := s.git.RenameRemote(ctx, dir, legacyRemote, originRemote); err == nil {
		log.Info("renamed legacy remote", "from", legacyRemote, "to", originRemote)
	}

	// credentials in the remote URL may have changed since clone
	if err := s.git.SetRemoteURL(ctx, dir, originRemote, remote); err != nil {
		return fmt.Errorf("unable to set remote url err:%w", err)
	}

	if s.onlyDefaultBranch {
		return s.syncDefaultBranch(ctx, log, dir)
	}
	return s.syncAllBranches(ctx, log, dir)
}

// init clones remote into dir unless dir already contains valid work tree
func (s *Syncer) init(ctx context.Context, log *slog.Logger, dir, remote string) error {
	if s.git.IsWorkTree(ctx, dir) {
		log.Log(ctx, utils.LevelTrace, "existing repo directory is valid")
		return nil
	}

	empty, err := utils.DirIsEmpty(dir)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("unable to verify repo dir err:%w", err)
	case !empty:
		// Maybe a previous run crashed? Git won't use this dir.
		log.Warn("repo directory failed checks, cleaning it up")
		if err := utils.RemoveDirContents(dir, log); err != nil {
			return fmt.Errorf("unable to clean repo dir err:%w", err)
		}
	}

	log.Info("cloning repository")
	return s.git.Clone(ctx, dir, remote, s.onlyDefaultBranch)
}

func (s *Syncer) syncDefaultBranch(ctx context.Context, log *slog.Logger, dir string) error {
	if err := s.git.Fetch(ctx, dir, false); err != nil {
		return fmt.Errorf("unable to fetch err:%w", err)
	}

	bs, err := s.branches(ctx, dir)
	if err != nil {
		return err
	}

	if err := s.pull(ctx, dir, bs); err != nil {
		return err
	}
	log.Debug("default branch synced", "branch", bs.Default())
	return nil
}

func (s *Syncer) syncAllBranches(ctx context.Context, log *slog.Logger, dir string) error {
	if err := s.git.Fetch(ctx, dir, true); err != nil {
		return fmt.Errorf("unable to fetch err:%w", err)
	}

	bs, err := s.branches(ctx, dir)
	if err != nil {
		return err
	}

	if bs, err = s.followRemoteHead(ctx, log, dir, bs); err != nil {
		return err
	}

	plan := Reconcile(bs)

	for _, b := range plan.Track {
		if err := s.git.TrackBranch(ctx, dir, b, originRemote+"/"+b, false); err != nil {
			return fmt.Errorf("unable to create branch %s err:%w", b, err)
		}
	}
	for _, b := range plan.Reset {
		if err := s.git.TrackBranch(ctx, dir, b, originRemote+"/"+b, true); err != nil {
			return fmt.Errorf("unable to reset branch %s err:%w", b, err)
		}
	}
	for _, b := range plan.Delete {
		if err := s.git.DeleteBranch(ctx, dir, b); err != nil {
			return fmt.Errorf("unable to delete branch %s err:%w", b, err)
		}
	}

	if err := s.pull(ctx, dir, bs); err != nil {
		return err
	}

	log.Debug("branches synced",
		"default", bs.Default(), "created", len(plan.Track), "reset", len(plan.Reset), "deleted", len(plan.Delete))
	return nil
}

// followRemoteHead checks out the branch origin/HEAD points to when the
// checked out branch was removed from the remote. The old branch is then
// no longer current and is deleted by reconciliation.
func (s *Syncer) followRemoteHead(ctx context.Context, log *slog.Logger, dir string, bs BranchSet) (BranchSet, error) {
	if !bs.DefaultMoved() {
		return bs, nil
	}
	if err := s.git.Checkout(ctx, dir, bs.RemoteHead, originRemote+"/"+bs.RemoteHead); err != nil {
		return bs, fmt.Errorf("unable to checkout default branch %s err:%w", bs.RemoteHead, err)
	}
	log.Info("default branch changed on remote", "from", bs.Current, "to", bs.RemoteHead)

	if !slices.Contains(bs.Local, bs.RemoteHead) {
		bs.Local = append(bs.Local, bs.RemoteHead)
	}
	bs.Current = bs.RemoteHead
	return bs, nil
}

func (s *Syncer) branches(ctx context.Context, dir string) (BranchSet, error) {
	out, err := s.git.ListBranches(ctx, dir)
	if err != nil {
		return BranchSet{}, fmt.Errorf("unable to list branches err:%w", err)
	}
	return ParseBranches(out), nil
}

// pull fast-forwards the default branch
func (s *Syncer) pull(ctx context.Context, dir string, bs BranchSet) error {
	def := bs.Default()
	if def == "" {
		return fmt.Errorf("unable to identify default branch")
	}
	if err := s.git.Pull(ctx, dir, originRemote, def); err != nil {
		return fmt.Errorf("unable to pull branch %s err:%w", def, err)
	}
	return nil
}

// Upload pushes all local branches and tags of the working clone at dir to
// the remote. Failure of a single ref is logged and does not stop others,
// error is returned only if none of the refs could be pushed.
func (s *Syncer) Upload(ctx context.Context, dir, remote string) error {
	log := s.log.With("path", dir)

	if err := s.git.ReplaceRemote(ctx, dir, backupRemote, remote); err != nil {
		return fmt.Errorf("unable to set backup remote err:%w", err)
	}

	bs, err := s.branches(ctx, dir)
	if err != nil {
		return err
	}
	tags, err := s.git.ListTags(ctx, dir)
	if err != nil {
		return fmt.Errorf("unable to list tags err:%w", err)
	}

	var errs []error
	pushed := 0

	for _, b := range bs.Local {
		if err := s.git.Push(ctx, dir, backupRemote, "refs/heads/"+b, true); err != nil {
			log.Error("unable to push branch", "branch", b, "err", err)
			errs = append(errs, err)
			continue
		}
		pushed++
	}
	for _, t := range tags {
		if err := s.git.Push(ctx, dir, backupRemote, "refs/tags/"+t, false); err != nil {
			log.Error("unable to push tag", "tag", t, "err", err)
			errs = append(errs, err)
			continue
		}
		pushed++
	}

	if pushed == 0 && len(errs) > 0 {
		return fmt.Errorf("unable to push any ref err:%w", errors.Join(errs...))
	}

	log.Debug("pushed to backup", "branches", len(bs.Local), "tags", len(tags), "failed", len(errs))
	return nil
}
