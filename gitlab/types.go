package gitlab

// Project is the subset of the GitLab project resource used by the mirror.
type Project struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	NameWithNamespace string  `json:"name_with_namespace"`
	Path              string  `json:"path"`
	PathWithNamespace string  `json:"path_with_namespace"`
	Description       *string `json:"description"`
	DefaultBranch     string  `json:"default_branch"`
	SSHURLToRepo      string  `json:"ssh_url_to_repo"`
	HTTPURLToRepo     string  `json:"http_url_to_repo"`
	WebURL            string  `json:"web_url"`
	EmptyRepo         bool    `json:"empty_repo"`
	Archived          bool    `json:"archived"`
}

// Group is the subset of the GitLab group resource used by the mirror.
// FullPath is unique on an instance.
type Group struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path"`
	ParentID *int   `json:"parent_id"`
}

// User is the account owning the token.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// ListOptions scopes the project listing
type ListOptions struct {
	// Group limits listing to projects of the group and its subgroups
	Group string
	// OnlyOwned lists projects explicitly owned by the current user
	OnlyOwned bool
	// OnlyMembership lists projects the current user is a member of
	OnlyMembership bool
	// ExcludeArchived skips archived projects
	ExcludeArchived bool
}
