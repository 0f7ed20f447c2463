// Package namespace recreates the group hierarchy of source projects on the
// backup instance.
//
// Resolved groups are cached by full path for the lifetime of the Resolver
// so every group is looked up or created at most once, even when many
// workers resolve projects of the same group concurrently.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utilitywarehouse/gitlab-mirror/gitlab"
	"github.com/utilitywarehouse/gitlab-mirror/internal/lock"
	"golang.org/x/sync/singleflight"
)

// ErrNoParentNamespace is returned when project has no namespace segments
// and no root group is configured to hold it
var ErrNoParentNamespace = errors.New("project has no parent namespace on backup")

// Directory is the backup side of the group API
type Directory interface {
	GroupExists(ctx context.Context, path string) (*gitlab.Group, bool, error)
	CreateGroup(ctx context.Context, name, path string, parentID *int) (*gitlab.Group, error)
}

// SourceDirectory is used to copy display names of source groups
type SourceDirectory interface {
	GroupExists(ctx context.Context, path string) (*gitlab.Group, bool, error)
}

// ResolutionError is returned when a group of the project namespace could
// not be looked up or created
type ResolutionError struct {
	Path string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unable to resolve namespace %s: %v", e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Result is the resolved backup location of a project
type Result struct {
	// ParentID is the id of the namespace project should be created in
	ParentID int
	// Groups is the resolved chain excluding root group
	Groups []*gitlab.Group
	// NamespacePath is the full path of the parent namespace on backup
	NamespacePath string
	Slug          string
}

// ProjectPath returns full path of the project on the backup
func (r *Result) ProjectPath() string {
	return r.NamespacePath + "/" + r.Slug
}

type Option func(*Resolver)

// WithSource makes resolver copy names of source groups to created groups
func WithSource(src SourceDirectory) Option {
	return func(r *Resolver) { r.source = src }
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// Resolver is safe for concurrent use.
type Resolver struct {
	backup Directory
	source SourceDirectory
	root   *gitlab.Group
	log    *slog.Logger

	mu     lock.Mutex // protects cache
	cache  map[string]*gitlab.Group
	flight singleflight.Group
}

// New returns resolver creating groups on backup under the optional root group
func New(backup Directory, root *gitlab.Group, opts ...Option) *Resolver {
	r := &Resolver{
		backup: backup,
		root:   root,
		cache:  make(map[string]*gitlab.Group),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Resolve materialises the namespace of a project on the backup. segments
// is the source project path split on '/' where last element is the
// project slug. Groups are walked root to leaf and each is cached before
// the next one is resolved.
func (r *Resolver) Resolve(ctx context.Context, segments []string) (*Result, error) {
	if len(segments) == 0 || segments[len(segments)-1] == "" {
		return nil, fmt.Errorf("invalid project path %q", strings.Join(segments, "/"))
	}

	slug := segments[len(segments)-1]
	namespaces := segments[:len(segments)-1]

	if r.root == nil && len(namespaces) == 0 {
		return nil, &ResolutionError{Path: slug, Err: ErrNoParentNamespace}
	}

	res := &Result{Slug: slug}
	var parentID *int
	if r.root != nil {
		res.ParentID = r.root.ID
		res.NamespacePath = r.root.FullPath
		parentID = &r.root.ID
	}

	for i, segment := range namespaces {
		fullPath := segment
		if res.NamespacePath != "" {
			fullPath = res.NamespacePath + "/" + segment
		}
		sourcePath := strings.Join(namespaces[:i+1], "/")

		g, err := r.resolveGroup(ctx, fullPath, sourcePath, segment, parentID)
		if err != nil {
			return nil, &ResolutionError{Path: fullPath, Err: err}
		}

		res.Groups = append(res.Groups, g)
		res.ParentID = g.ID
		res.NamespacePath = fullPath
		parentID = &g.ID
	}

	return res, nil
}

// Cached returns group from the cache if it was already resolved
func (r *Resolver) Cached(fullPath string) (*gitlab.Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.cache[fullPath]
	return g, ok
}

func (r *Resolver) resolveGroup(ctx context.Context, fullPath, sourcePath, segment string, parentID *int) (*gitlab.Group, error) {
	if g, ok := r.Cached(fullPath); ok {
		return g, nil
	}

	// concurrent callers for the same path wait for the first one, the
	// lookup runs with ctx of that first caller and every caller returns
	// early when its own ctx is done
	ch := r.flight.DoChan(fullPath, func() (any, error) {
		// previous flight may have completed between cache check and Do
		if g, ok := r.Cached(fullPath); ok {
			return g, nil
		}

		g, found, err := r.backup.GroupExists(ctx, fullPath)
		if err != nil {
			return nil, err
		}
		if !found {
			name := r.sourceName(ctx, sourcePath, segment)
			g, err = r.backup.CreateGroup(ctx, name, segment, parentID)
			if err != nil {
				return nil, fmt.Errorf("unable to create group: %w", err)
			}
			r.log.Info("backup group created", "group", fullPath, "id", g.ID)
		}

		r.mu.Lock()
		r.cache[fullPath] = g
		r.mu.Unlock()

		return g, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*gitlab.Group), nil
	}
}

// sourceName returns display name of the source group, falls back to path
// segment if source is not set or lookup fails
func (r *Resolver) sourceName(ctx context.Context, sourcePath, segment string) string {
	if r.source == nil {
		return segment
	}
	g, found, err := r.source.GroupExists(ctx, sourcePath)
	if err != nil {
		r.log.Warn("unable to get source group name", "group", sourcePath, "err", err)
		return segment
	}
	if !found || g.Name == "" {
		return segment
	}
	return g.Name
}
