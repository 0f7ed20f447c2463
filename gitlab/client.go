// Package gitlab is a minimal client of the GitLab REST API (v4) covering
// the calls needed to mirror projects and recreate their group hierarchy.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	apiPath        = "api/v4"
	defaultPerPage = 100
	maxPerPage     = 100

	// SyncDateMarker separates the source description from the sync timestamp
	SyncDateMarker = " 🦞 Synced: "
)

// Options configures a Client
type Options struct {
	// BaseURL of the GitLab instance ie 'https://gitlab.example.com'
	BaseURL string
	// Token is the personal access token sent as PRIVATE-TOKEN
	Token string
	// PerPage is the page size used for listing, default 100
	PerPage int
	// Timeout of every request, 0 means no timeout
	Timeout time.Duration
	// DisableSyncDate stops appending sync timestamp to project descriptions
	DisableSyncDate bool
	Logger          *slog.Logger
}

// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	http            *resty.Client
	baseURL         *url.URL
	perPage         int
	disableSyncDate bool
	now             func() time.Time
	log             *slog.Logger
}

// New returns client for the GitLab instance at given base URL
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid gitlab url '%s' err:%w", opts.BaseURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid gitlab url '%s', must be absolute http or https url", opts.BaseURL)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/" + apiPath
	base.RawQuery = ""

	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		return nil, fmt.Errorf("objects per page must be between 1 and %d", maxPerPage)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	httpClient := resty.New().
		SetBaseURL(base.String()).
		SetHeader("PRIVATE-TOKEN", opts.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	return &Client{
		http:            httpClient,
		baseURL:         base,
		perPage:         perPage,
		disableSyncDate: opts.DisableSyncDate,
		now:             time.Now,
		log:             log.With("gitlab", base.Host),
	}, nil
}

// BaseURL returns the api root of the instance
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// do sends the request and decodes successful response into out (if not nil)
func (c *Client) do(req *resty.Request, method, path string, out any) (*resty.Response, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.log.Debug("api request", "method", method, "url", resp.Request.URL, "status", resp.StatusCode(), "time", resp.Time())

	if !resp.IsSuccess() {
		return resp, &APIError{
			Method:     method,
			URL:        resp.Request.URL,
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(resp.Body())),
		}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return resp, fmt.Errorf("%s %s: unable to decode response err:%w", method, resp.Request.URL, err)
		}
	}
	return resp, nil
}

// ListProjects returns all projects visible to the token following the pagination
// links. Projects with empty repository are skipped as there is nothing to clone.
func (c *Client) ListProjects(ctx context.Context, opts ListOptions) ([]Project, error) {
	path := "projects"
	query := url.Values{}
	query.Set("order_by", "id")
	query.Set("sort", "asc")
	query.Set("per_page", fmt.Sprint(c.perPage))
	if opts.OnlyOwned {
		query.Set("owned", "true")
	}
	if opts.OnlyMembership {
		query.Set("membership", "true")
	}
	if opts.ExcludeArchived {
		query.Set("archived", "false")
	}
	if opts.Group != "" {
		path = "groups/" + url.PathEscape(opts.Group) + "/projects"
		query.Set("include_subgroups", "true")
	}

	var all []Project
	rawQuery := query.Encode()
	for page := 1; ; page++ {
		var projects []Project
		req := c.http.R().SetContext(ctx).SetQueryString(rawQuery)
		resp, err := c.do(req, http.MethodGet, path, &projects)
		if err != nil {
			return nil, err
		}
		all = append(all, projects...)

		c.log.Debug("fetched projects page", "page", page, "count", len(projects), "total", len(all))

		next, ok, err := nextPageQuery(resp.Header())
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rawQuery = next
	}

	projects := all[:0]
	for _, p := range all {
		if p.EmptyRepo {
			c.log.Debug("skipping project with empty repository", "project", p.PathWithNamespace)
			continue
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// nextPageQuery returns the query of the next page link if server indicated
// there are more pages.
func nextPageQuery(header http.Header) (string, bool, error) {
	if strings.TrimSpace(header.Get("X-Next-Page")) == "" {
		return "", false, nil
	}

	link := header.Get("Link")
	if link == "" {
		return "", false, nil
	}

	next, err := parseNextLink(link)
	if err != nil {
		return "", false, err
	}
	u, err := url.Parse(next)
	if err != nil {
		return "", false, fmt.Errorf("invalid next page link '%s' err:%w", next, err)
	}
	return u.RawQuery, true, nil
}

// parseNextLink returns URL of the rel="next" entry of the Link header
//
//	<https://gitlab.local/api/v4/projects?page=2&per_page=50>; rel="next", <...>; rel="first"
func parseNextLink(header string) (string, error) {
	for _, entry := range strings.Split(header, ",") {
		parts := strings.Split(entry, ";")
		if len(parts) < 2 {
			continue
		}
		target := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range parts[1:] {
			param = strings.ReplaceAll(strings.TrimSpace(param), " ", "")
			if param == `rel="next"` || param == "rel=next" {
				return target[1 : len(target)-1], nil
			}
		}
	}
	return "", fmt.Errorf("invalid Link header, next page link not found: %q", header)
}

// GetProject returns project by its full path
func (c *Client) GetProject(ctx context.Context, path string) (*Project, error) {
	var p Project
	req := c.http.R().SetContext(ctx).SetPathParam("path", path)
	if _, err := c.do(req, http.MethodGet, "projects/{path}", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ProjectExists returns project by its full path, found is false if it
// does not exist
func (c *Client) ProjectExists(ctx context.Context, path string) (*Project, bool, error) {
	return exists(c.GetProject(ctx, path))
}

// GetGroup returns group by its full path
func (c *Client) GetGroup(ctx context.Context, path string) (*Group, error) {
	var g Group
	req := c.http.R().SetContext(ctx).SetPathParam("path", path)
	if _, err := c.do(req, http.MethodGet, "groups/{path}", &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupExists returns group by its full path, found is false if it
// does not exist
func (c *Client) GroupExists(ctx context.Context, path string) (*Group, bool, error) {
	return exists(c.GetGroup(ctx, path))
}

type createGroupRequest struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	ParentID *int   `json:"parent_id,omitempty"`
}

// CreateGroup creates group (or subgroup if parentID is set)
func (c *Client) CreateGroup(ctx context.Context, name, path string, parentID *int) (*Group, error) {
	var g Group
	req := c.http.R().SetContext(ctx).SetBody(createGroupRequest{Name: name, Path: path, ParentID: parentID})
	if _, err := c.do(req, http.MethodPost, "groups", &g); err != nil {
		return nil, err
	}
	c.log.Info("group created", "group", g.FullPath, "id", g.ID)
	return &g, nil
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	NamespaceID int    `json:"namespace_id"`
	Description string `json:"description"`
}

// CreateProject creates project in the namespace with name and description
// taken from the source project
func (c *Client) CreateProject(ctx context.Context, slug string, namespaceID int, src *Project) (*Project, error) {
	var p Project
	body := createProjectRequest{
		Name:        src.Name,
		Path:        slug,
		NamespaceID: namespaceID,
		Description: c.Description(src),
	}
	req := c.http.R().SetContext(ctx).SetBody(body)
	if _, err := c.do(req, http.MethodPost, "projects", &p); err != nil {
		return nil, err
	}
	c.log.Info("project created", "project", p.PathWithNamespace, "id", p.ID)
	return &p, nil
}

type updateProjectRequest struct {
	Description string `json:"description"`
}

// UpdateProject overwrites description of the target project with the
// description of the source project
func (c *Client) UpdateProject(ctx context.Context, target, src *Project) (*Project, error) {
	var p Project
	req := c.http.R().SetContext(ctx).
		SetPathParam("id", fmt.Sprint(target.ID)).
		SetBody(updateProjectRequest{Description: c.Description(src)})
	if _, err := c.do(req, http.MethodPut, "projects/{id}", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CurrentUser returns the owner of the token
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if _, err := c.do(c.http.R().SetContext(ctx), http.MethodGet, "user", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Description returns description of the source project with appended
// UTC sync timestamp unless it's disabled.
func (c *Client) Description(src *Project) string {
	var desc string
	if src.Description != nil {
		desc = *src.Description
	}
	if c.disableSyncDate {
		return desc
	}
	return desc + SyncDateMarker + c.now().UTC().Format(time.RFC3339)
}
