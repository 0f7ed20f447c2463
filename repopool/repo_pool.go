package repopool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/utilitywarehouse/gitlab-mirror/filter"
	"github.com/utilitywarehouse/gitlab-mirror/gitlab"
	"github.com/utilitywarehouse/gitlab-mirror/giturl"
	"github.com/utilitywarehouse/gitlab-mirror/internal/lock"
	"github.com/utilitywarehouse/gitlab-mirror/internal/utils"
	"github.com/utilitywarehouse/gitlab-mirror/namespace"
	"github.com/utilitywarehouse/gitlab-mirror/repository"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoProjects is returned when source has no projects visible to the token
	ErrNoProjects = errors.New("projects not found in GitLab")
	// ErrAllFiltered is returned when all the projects are filtered out
	ErrAllFiltered = errors.New("all projects filtered out")
)

// Directory is the GitLab API used by the pool, *gitlab.Client implements it
type Directory interface {
	ListProjects(ctx context.Context, opts gitlab.ListOptions) ([]gitlab.Project, error)
	GetGroup(ctx context.Context, path string) (*gitlab.Group, error)
	GroupExists(ctx context.Context, path string) (*gitlab.Group, bool, error)
	CreateGroup(ctx context.Context, name, path string, parentID *int) (*gitlab.Group, error)
	ProjectExists(ctx context.Context, path string) (*gitlab.Project, bool, error)
	CreateProject(ctx context.Context, slug string, namespaceID int, src *gitlab.Project) (*gitlab.Project, error)
	UpdateProject(ctx context.Context, target, src *gitlab.Project) (*gitlab.Project, error)
	CurrentUser(ctx context.Context) (*gitlab.User, error)
}

// Syncer syncs local working clones, *repository.Syncer implements it
type Syncer interface {
	Download(ctx context.Context, dir, remote string) error
	Upload(ctx context.Context, dir, remote string) error
}

// Option overrides dependencies of the pool
type Option func(*RepoPool)

func WithSource(d Directory) Option { return func(rp *RepoPool) { rp.source = d } }
func WithBackup(d Directory) Option { return func(rp *RepoPool) { rp.backup = d } }
func WithSyncer(s Syncer) Option    { return func(rp *RepoPool) { rp.syncer = s } }

// WithOutput sets writer for the dry run report, default is stdout
func WithOutput(w io.Writer) Option { return func(rp *RepoPool) { rp.out = w } }

// WithGitEnvs sets envs passed to every git command
func WithGitEnvs(envs []string) Option { return func(rp *RepoPool) { rp.gitENVs = envs } }

// RepoPool mirrors all projects of the source instance to local disk
// and optionally to the backup instance.
// A RepoPool is safe for concurrent use by multiple goroutines, runs
// never overlap.
type RepoPool struct {
	conf    Config
	filter  *filter.Patterns
	source  Directory
	backup  Directory
	syncer  Syncer
	gitENVs []string
	out     io.Writer
	log     *slog.Logger

	lock  lock.Mutex // held for the duration of a run
	queue chan struct{}
}

// New validates config and creates pool. Projects are not mirrored
// until either Run() or StartLoop() is called.
func New(conf Config, log *slog.Logger, opts ...Option) (*RepoPool, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	patterns, err := filter.New(conf.Include, conf.Exclude)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	rp := &RepoPool{
		conf:   conf,
		filter: patterns,
		out:    os.Stdout,
		log:    log,
		queue:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(rp)
	}

	if rp.source == nil {
		rp.source, err = gitlab.New(gitlab.Options{
			BaseURL: conf.Source.URL,
			Token:   conf.Source.Token,
			PerPage: conf.ObjectsPerPage,
			Timeout: conf.Timeout,
			Logger:  log.With("instance", "source"),
		})
		if err != nil {
			return nil, fmt.Errorf("unable to create source client err:%w", err)
		}
	}

	if rp.backup == nil && conf.HasBackup() {
		rp.backup, err = gitlab.New(gitlab.Options{
			BaseURL:         conf.Backup.URL,
			Token:           conf.Backup.Token,
			Timeout:         conf.Timeout,
			DisableSyncDate: conf.DisableSyncDate,
			Logger:          log.With("instance", "backup"),
		})
		if err != nil {
			return nil, fmt.Errorf("unable to create backup client err:%w", err)
		}
	}

	if rp.syncer == nil {
		git := repository.NewGit(conf.Auth, rp.gitENVs, log)
		rp.syncer = repository.NewSyncer(git, repository.Config{
			OnlyDefaultBranch: conf.OnlyDefaultBranch,
			Auth:              conf.Auth,
		}, log)
	}

	return rp, nil
}

// runState is the per run data shared by all project pipelines
type runState struct {
	log         *slog.Logger
	sourceCreds *giturl.Credentials
	backupCreds *giturl.Credentials
	resolver    *namespace.Resolver // nil without backup
	total       int
	completed   atomic.Int64
}

// Run mirrors all matching projects once
func (rp *RepoPool) Run(ctx context.Context) error {
	rp.lock.Lock()
	defer rp.lock.Unlock()

	log := rp.log.With("run", uuid.NewString())
	start := time.Now()

	err := rp.run(ctx, log)
	recordRun(err == nil)
	if err != nil {
		return err
	}

	log.Info("mirror run complete", "time", time.Since(start))
	return nil
}

func (rp *RepoPool) run(ctx context.Context, log *slog.Logger) error {
	projects, err := rp.projects(ctx)
	if err != nil {
		return err
	}

	state := &runState{log: log, total: len(projects)}

	var rootGroup *gitlab.Group
	if rp.backup != nil {
		if rp.conf.Backup.Group != "" {
			rootGroup, err = rp.backup.GetGroup(ctx, rp.conf.Backup.Group)
			if err != nil {
				return fmt.Errorf("unable to get backup group %s err:%w", rp.conf.Backup.Group, err)
			}
		}
		if !rp.conf.UploadSSH {
			state.backupCreds, err = credentials(ctx, rp.backup, rp.conf.Backup.Token)
			if err != nil {
				return fmt.Errorf("unable to get backup user err:%w", err)
			}
		}
		state.resolver = namespace.New(rp.backup, rootGroup,
			namespace.WithSource(rp.source), namespace.WithLogger(log))
	}

	if !rp.conf.DownloadSSH {
		state.sourceCreds, err = credentials(ctx, rp.source, rp.conf.Source.Token)
		if err != nil {
			return fmt.Errorf("unable to get source user err:%w", err)
		}
	}

	if rp.conf.DryRun {
		return rp.printDryRun(rootGroup, projects)
	}

	if rp.conf.ClearDestination {
		if err := clearDestination(rp.conf.Destination, log); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(rp.conf.Destination, utils.DefaultDirMode); err != nil {
		return fmt.Errorf("unable to create destination dir err:%w", err)
	}
	logDiskUsage(rp.conf.Destination, log)

	log.Info("start mirroring", "projects", len(projects), "concurrency", rp.conf.ConcurrencyLimit)
	updateRunProgress(0, len(projects))

	// every batch must finish before next one starts
	for i := 0; i < len(projects); i += rp.conf.ConcurrencyLimit {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := projects[i:min(i+rp.conf.ConcurrencyLimit, len(projects))]

		var g errgroup.Group
		for _, p := range batch {
			g.Go(func() error {
				return rp.mirrorProject(ctx, state, p)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	return nil
}

// projects lists source projects and applies filters
func (rp *RepoPool) projects(ctx context.Context) ([]gitlab.Project, error) {
	projects, err := rp.source.ListProjects(ctx, gitlab.ListOptions{
		Group:           rp.conf.Group,
		OnlyOwned:       rp.conf.OnlyOwned,
		OnlyMembership:  rp.conf.OnlyMembership,
		ExcludeArchived: rp.conf.ExcludeArchived,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list projects err:%w", err)
	}
	if len(projects) == 0 {
		return nil, ErrNoProjects
	}

	filtered := rp.filter.Apply(projects, rp.conf.Limit)
	if len(filtered) == 0 {
		return nil, ErrAllFiltered
	}

	if rp.conf.DisableHierarchy {
		if err := checkDuplicateSlugs(filtered); err != nil {
			return nil, err
		}
	}

	rp.log.Debug("projects to mirror", "found", len(projects), "selected", len(filtered))
	return filtered, nil
}

// mirrorProject runs the pipeline of a single project, returned error is
// nil if continue on error is set
func (rp *RepoPool) mirrorProject(ctx context.Context, state *runState, p gitlab.Project) error {
	log := state.log.With("project", p.PathWithNamespace)
	start := time.Now()

	err := rp.mirror(ctx, log, state, &p)
	recordProjectMirror(p.PathWithNamespace, err == nil, start)

	completed := state.completed.Add(1)
	updateRunProgress(int(completed), state.total)
	log.Info("mirror progress", "completed", completed, "total", state.total)

	if err == nil {
		log.Debug("project mirrored", "time", time.Since(start))
		return nil
	}

	err = fmt.Errorf("%s: %w", p.PathWithNamespace, err)
	if rp.conf.ContinueOnError {
		log.Error("error while mirroring project (please run with -vvv for more details)", "err", err)
		return nil
	}
	return err
}

func (rp *RepoPool) mirror(ctx context.Context, log *slog.Logger, state *runState, p *gitlab.Project) error {
	localPath := p.PathWithNamespace
	if rp.conf.DisableHierarchy {
		localPath = p.Path
	}
	dir := filepath.Join(rp.conf.Destination, filepath.FromSlash(localPath))

	src, err := remoteURL(p, state.sourceCreds, rp.conf.DownloadProtocol)
	if err != nil {
		return err
	}

	if state.sourceCreds == nil {
		warnNonSSHRemote(log, src)
	}

	log.Debug("downloading", "path", dir)
	if err := rp.syncer.Download(ctx, dir, src); err != nil {
		return fmt.Errorf("unable to download err:%w", err)
	}

	if rp.backup == nil {
		return nil
	}

	segments := strings.Split(p.PathWithNamespace, "/")
	if rp.conf.DisableHierarchy {
		segments = []string{p.Path}
	}
	res, err := state.resolver.Resolve(ctx, segments)
	if err != nil {
		return err
	}

	target, err := rp.ensureBackupProject(ctx, res, p)
	if err != nil {
		return err
	}

	dst, err := remoteURL(target, state.backupCreds, rp.conf.UploadProtocol)
	if err != nil {
		return err
	}

	if state.backupCreds == nil {
		warnNonSSHRemote(log, dst)
	}

	log.Debug("uploading", "backup", target.PathWithNamespace)
	if err := rp.syncer.Upload(ctx, dir, dst); err != nil {
		return fmt.Errorf("unable to upload err:%w", err)
	}
	return nil
}

// ensureBackupProject creates project on backup or updates existing one
func (rp *RepoPool) ensureBackupProject(ctx context.Context, res *namespace.Result, src *gitlab.Project) (*gitlab.Project, error) {
	existing, found, err := rp.backup.ProjectExists(ctx, res.ProjectPath())
	if err != nil {
		return nil, fmt.Errorf("unable to get backup project err:%w", err)
	}
	if found {
		p, err := rp.backup.UpdateProject(ctx, existing, src)
		if err != nil {
			return nil, fmt.Errorf("unable to update backup project err:%w", err)
		}
		return p, nil
	}

	p, err := rp.backup.CreateProject(ctx, res.Slug, res.ParentID, src)
	if err != nil {
		return nil, fmt.Errorf("unable to create backup project err:%w", err)
	}
	return p, nil
}

func (rp *RepoPool) printDryRun(rootGroup *gitlab.Group, projects []gitlab.Project) error {
	var b strings.Builder
	if rootGroup != nil {
		fmt.Fprintf(&b, "Backup group:   %s (id: %d, path: %s)\n", rootGroup.Name, rootGroup.ID, rootGroup.FullPath)
	}
	fmt.Fprintf(&b, "Local out dir: %s\n\n", rp.conf.Destination)
	for _, p := range projects {
		fmt.Fprintf(&b, "%-32s (id: %d, path: %s)\n", p.Name, p.ID, p.PathWithNamespace)
	}
	_, err := io.WriteString(rp.out, b.String())
	return err
}

// credentials returns http credentials of the token owner
func credentials(ctx context.Context, d Directory, token string) (*giturl.Credentials, error) {
	user, err := d.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return &giturl.Credentials{Username: user.Username, Token: token}, nil
}

// remoteURL returns ssh URL of the project if creds are not set
func remoteURL(p *gitlab.Project, creds *giturl.Credentials, force giturl.Protocol) (string, error) {
	if creds == nil {
		if p.SSHURLToRepo == "" {
			return "", fmt.Errorf("project %s has no ssh url", p.PathWithNamespace)
		}
		return p.SSHURLToRepo, nil
	}
	return giturl.WithCredentials(p.HTTPURLToRepo, *creds, force)
}

// warnNonSSHRemote logs remotes which are used without credentials but are
// not ssh URLs, ssh auth config will not apply to them
func warnNonSSHRemote(log *slog.Logger, remote string) {
	if giturl.IsSCPURL(remote) || giturl.IsSSHURL(remote) {
		return
	}
	log.Warn("ssh transport requested but remote is not an ssh url", "remote", giturl.Redact(remote))
}

func logDiskUsage(path string, log *slog.Logger) {
	usage, err := disk.Usage(path)
	if err != nil {
		log.Warn("unable to get destination disk usage", "path", path, "err", err)
		return
	}
	log.Info("destination disk usage",
		"path", path, "free-bytes", usage.Free, "total-bytes", usage.Total, "used-percent", fmt.Sprintf("%.1f", usage.UsedPercent))
}

// StartLoop runs mirror every interval until ctx is cancelled. Run can be
// triggered early with QueueRun.
func (rp *RepoPool) StartLoop(ctx context.Context) {
	rp.log.Info("started mirror loop", "interval", rp.conf.Interval)

	for {
		if err := rp.Run(ctx); err != nil {
			rp.log.Error("mirror run failed", "err", err)
		}

		t := time.NewTimer(rp.conf.Interval)
		select {
		case <-t.C:
		case <-rp.queue:
			t.Stop()
			rp.log.Debug("queued mirror run triggered")
		case <-ctx.Done():
			t.Stop()
			rp.log.Info("mirror loop stopped")
			return
		}
	}
}

// QueueRun schedules an immediate run of the mirror loop. Multiple calls
// while a run is in progress result in a single extra run.
func (rp *RepoPool) QueueRun() {
	select {
	case rp.queue <- struct{}{}:
	default:
	}
}
