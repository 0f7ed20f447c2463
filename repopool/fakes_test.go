package repopool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/utilitywarehouse/gitlab-mirror/gitlab"
)

// fakeGitLab is an in-memory GitLab instance
type fakeGitLab struct {
	mu       sync.Mutex
	host     string
	user     string
	nextID   int
	projects []gitlab.Project
	groups   map[string]*gitlab.Group

	listCalls      int
	groupCreates   []string
	projectCreates []string
	projectUpdates []string
	failCreateIn   string
}

func newFakeGitLab(host, user string) *fakeGitLab {
	return &fakeGitLab{host: host, user: user, nextID: 1000, groups: map[string]*gitlab.Group{}}
}

func (f *fakeGitLab) addGroup(fullPath, name string) *gitlab.Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	_, path := splitPath(fullPath)
	g := &gitlab.Group{ID: f.nextID, Name: name, Path: path, FullPath: fullPath}
	f.groups[fullPath] = g
	return g
}

func (f *fakeGitLab) addProject(fullPath, desc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, f.newProject(fullPath, desc))
}

// newProject must be called with lock held
func (f *fakeGitLab) newProject(fullPath, desc string) gitlab.Project {
	f.nextID++
	_, slug := splitPath(fullPath)
	return gitlab.Project{
		ID:                f.nextID,
		Name:              strings.ToUpper(slug),
		Path:              slug,
		PathWithNamespace: fullPath,
		Description:       &desc,
		DefaultBranch:     "main",
		SSHURLToRepo:      fmt.Sprintf("git@%s:%s.git", f.host, fullPath),
		HTTPURLToRepo:     fmt.Sprintf("https://%s/%s.git", f.host, fullPath),
	}
}

// deleteGroup removes group with its sub groups and projects
func (f *fakeGitLab) deleteGroup(fullPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for path := range f.groups {
		if path == fullPath || strings.HasPrefix(path, fullPath+"/") {
			delete(f.groups, path)
		}
	}
	f.projects = slices.DeleteFunc(f.projects, func(p gitlab.Project) bool {
		return strings.HasPrefix(p.PathWithNamespace, fullPath+"/")
	})
}

func splitPath(fullPath string) (string, string) {
	i := strings.LastIndex(fullPath, "/")
	if i < 0 {
		return "", fullPath
	}
	return fullPath[:i], fullPath[i+1:]
}

func (f *fakeGitLab) ListProjects(_ context.Context, opts gitlab.ListOptions) ([]gitlab.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []gitlab.Project
	for _, p := range f.projects {
		if opts.Group != "" && !strings.HasPrefix(p.PathWithNamespace, opts.Group+"/") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeGitLab) GetGroup(ctx context.Context, path string) (*gitlab.Group, error) {
	g, found, err := f.GroupExists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &gitlab.APIError{Method: "GET", URL: "groups/" + path, StatusCode: 404}
	}
	return g, nil
}

func (f *fakeGitLab) GroupExists(_ context.Context, path string) (*gitlab.Group, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[path]
	return g, ok, nil
}

func (f *fakeGitLab) CreateGroup(_ context.Context, name, path string, parentID *int) (*gitlab.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fullPath := path
	if parentID != nil {
		parent := f.groupByID(*parentID)
		if parent == nil {
			return nil, errors.New("parent group not found")
		}
		fullPath = parent.FullPath + "/" + path
	}
	if _, ok := f.groups[fullPath]; ok {
		return nil, &gitlab.APIError{Method: "POST", URL: "groups", StatusCode: 400, Body: "has already been taken"}
	}
	f.nextID++
	g := &gitlab.Group{ID: f.nextID, Name: name, Path: path, FullPath: fullPath, ParentID: parentID}
	f.groups[fullPath] = g
	f.groupCreates = append(f.groupCreates, fullPath)
	return g, nil
}

func (f *fakeGitLab) groupByID(id int) *gitlab.Group {
	for _, g := range f.groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}

func (f *fakeGitLab) ProjectExists(_ context.Context, path string) (*gitlab.Project, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.projects {
		if p.PathWithNamespace == path {
			return &p, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeGitLab) CreateProject(_ context.Context, slug string, namespaceID int, src *gitlab.Project) (*gitlab.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ns := f.groupByID(namespaceID)
	if ns == nil {
		return nil, errors.New("namespace not found")
	}
	if ns.FullPath == f.failCreateIn {
		return nil, &gitlab.APIError{Method: "POST", URL: "projects", StatusCode: 403}
	}
	p := f.newProject(ns.FullPath+"/"+slug, *src.Description+" synced")
	f.projects = append(f.projects, p)
	f.projectCreates = append(f.projectCreates, p.PathWithNamespace)
	return &p, nil
}

func (f *fakeGitLab) UpdateProject(_ context.Context, target, src *gitlab.Project) (*gitlab.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projectUpdates = append(f.projectUpdates, target.PathWithNamespace)
	return target, nil
}

func (f *fakeGitLab) CurrentUser(_ context.Context) (*gitlab.User, error) {
	return &gitlab.User{ID: 1, Username: f.user}, nil
}

type syncEvent struct {
	op     string
	dir    string
	remote string
}

// fakeSyncer records calls, download fails for dirs ending with failDir
type fakeSyncer struct {
	mu       sync.Mutex
	events   []syncEvent
	failDir  string
	delay    time.Duration
	inFlight int
	maxConc  int
	// timeline records start and end of every download in order
	timeline []string
}

func (s *fakeSyncer) Download(ctx context.Context, dir, remote string) error {
	s.mu.Lock()
	s.events = append(s.events, syncEvent{"download", dir, remote})
	s.timeline = append(s.timeline, "start:"+dir)
	s.inFlight++
	s.maxConc = max(s.maxConc, s.inFlight)
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.inFlight--
	s.timeline = append(s.timeline, "end:"+dir)
	s.mu.Unlock()

	if s.failDir != "" && strings.HasSuffix(dir, s.failDir) {
		return errors.New("git clone failed")
	}
	return nil
}

func (s *fakeSyncer) Upload(ctx context.Context, dir, remote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, syncEvent{"upload", dir, remote})
	return nil
}

func (s *fakeSyncer) ops(op string) []syncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []syncEvent
	for _, e := range s.events {
		if e.op == op {
			out = append(out, e)
		}
	}
	return out
}
