package repopool

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/utilitywarehouse/gitlab-mirror/filter"
	"github.com/utilitywarehouse/gitlab-mirror/giturl"
	"github.com/utilitywarehouse/gitlab-mirror/repository"
)

const (
	DefaultConcurrencyLimit = 21
	DefaultObjectsPerPage   = 100
	MaxObjectsPerPage       = 100
	MinAllowedInterval      = time.Second
)

// DefaultDestination is the local dir used when destination is not set
var DefaultDestination = filepath.Join(os.TempDir(), "gitlobster")

// Remote is the GitLab instance and the credentials used to access it
type Remote struct {
	// URL of the instance ie 'https://gitlab.example.com'
	URL string `yaml:"url"`

	// Token is the personal access token
	Token string `yaml:"token"`

	// Group is the backup group all projects are created under, only
	// used for backup remote
	Group string `yaml:"group"`
}

// Config is the configuration of a mirror run. It is built once and
// must not be modified after RepoPool is created.
type Config struct {
	// Source instance projects are mirrored from
	Source Remote `yaml:"source"`

	// Backup instance projects are pushed to, optional
	Backup Remote `yaml:"backup"`

	// Include and Exclude are mutually exclusive lists of regular expressions
	// matched against full project path
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// Destination is the local dir where projects are cloned
	Destination string `yaml:"destination"`

	// DryRun prints the projects which would be mirrored without cloning
	DryRun bool `yaml:"dry_run"`

	ObjectsPerPage int `yaml:"objects_per_page"`

	// Limit the number of mirrored projects, 0 means no limit
	Limit int `yaml:"limit"`

	// ConcurrencyLimit is the number of projects mirrored concurrently
	ConcurrencyLimit int `yaml:"concurrency_limit"`

	// Group limits listing to projects of the source group and its subgroups
	Group           string `yaml:"group"`
	OnlyOwned       bool   `yaml:"only_owned"`
	OnlyMembership  bool   `yaml:"only_membership"`
	ExcludeArchived bool   `yaml:"exclude_archived"`

	// DownloadSSH and UploadSSH use ssh URLs instead of http(s) URLs with
	// embedded credentials
	DownloadSSH bool `yaml:"download_ssh"`
	UploadSSH   bool `yaml:"upload_ssh"`

	// DownloadProtocol and UploadProtocol force the scheme of http(s) URLs
	// valid values are '', 'http' and 'https'
	DownloadProtocol giturl.Protocol `yaml:"download_force_protocol"`
	UploadProtocol   giturl.Protocol `yaml:"upload_force_protocol"`

	// DisableHierarchy creates all projects directly in the destination and
	// backup group instead of recreating source groups
	DisableHierarchy bool `yaml:"disable_hierarchy"`

	// ClearDestination removes content of the destination before mirroring
	ClearDestination bool `yaml:"clear_destination"`

	// OnlyDefaultBranch mirrors only default branch of the projects
	OnlyDefaultBranch bool `yaml:"only_default_branch"`

	// DisableSyncDate stops appending sync time to backup project description
	DisableSyncDate bool `yaml:"disable_sync_date"`

	// ContinueOnError logs project failures instead of stopping the run
	ContinueOnError bool `yaml:"continue_on_error"`

	// Timeout of every GitLab API request
	Timeout time.Duration `yaml:"gitlab_timeout"`

	// Interval between mirror runs, 0 runs once
	Interval time.Duration `yaml:"interval"`

	// Auth config used for ssh remotes
	Auth repository.Auth `yaml:"auth"`
}

// ConfigError contains all validation failures of the config
type ConfigError struct {
	Errs []error
}

func (e *ConfigError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

func (e *ConfigError) Unwrap() []error { return e.Errs }

// ErrNoParentNamespace is returned when hierarchy is disabled for backup
// but there is no backup group to create projects in
var ErrNoParentNamespace = errors.New("backup group is required when hierarchy is disabled")

// ApplyDefaults sets default values of unset fields
func (c *Config) ApplyDefaults() {
	if c.ConcurrencyLimit == 0 {
		c.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if c.ObjectsPerPage == 0 {
		c.ObjectsPerPage = DefaultObjectsPerPage
	}
	if c.Destination == "" {
		c.Destination = DefaultDestination
	}
}

// HasBackup returns true if backup instance is configured
func (c *Config) HasBackup() bool {
	return c.Backup.URL != ""
}

// Validate verifies config, all violations are returned in single ConfigError
func (c *Config) Validate() error {
	var errs []error

	if c.Source.URL == "" {
		errs = append(errs, fmt.Errorf("source url is required"))
	} else if err := validateURL(c.Source.URL); err != nil {
		errs = append(errs, fmt.Errorf("source %w", err))
	}
	if c.Source.Token == "" {
		errs = append(errs, fmt.Errorf("source token is required"))
	}

	switch {
	case c.Backup.URL != "":
		if err := validateURL(c.Backup.URL); err != nil {
			errs = append(errs, fmt.Errorf("backup %w", err))
		}
		if c.Backup.Token == "" {
			errs = append(errs, fmt.Errorf("backup token is required with backup url"))
		}
		if c.DisableHierarchy && c.Backup.Group == "" {
			errs = append(errs, ErrNoParentNamespace)
		}
	case c.Backup.Token != "":
		errs = append(errs, fmt.Errorf("backup url is required with backup token"))
	case c.Backup.Group != "":
		errs = append(errs, fmt.Errorf("backup url is required with backup group"))
	}

	if _, err := filter.New(c.Include, c.Exclude); err != nil {
		errs = append(errs, err)
	}

	if c.Destination == "" {
		errs = append(errs, fmt.Errorf("destination is required"))
	}
	if c.ConcurrencyLimit <= 0 {
		errs = append(errs, fmt.Errorf("concurrency limit must be greater than 0"))
	}
	if c.ObjectsPerPage < 1 || c.ObjectsPerPage > MaxObjectsPerPage {
		errs = append(errs, fmt.Errorf("objects per page must be between 1 and %d", MaxObjectsPerPage))
	}
	if c.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must not be negative"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("gitlab timeout must not be negative"))
	}
	if c.Interval != 0 && c.Interval < MinAllowedInterval {
		errs = append(errs, fmt.Errorf("provided interval between mirroring is too short (%s), must be > %s", c.Interval, MinAllowedInterval))
	}

	if err := validateProtocol(c.DownloadProtocol); err != nil {
		errs = append(errs, fmt.Errorf("download %w", err))
	}
	if err := validateProtocol(c.UploadProtocol); err != nil {
		errs = append(errs, fmt.Errorf("upload %w", err))
	}

	if len(errs) > 0 {
		return &ConfigError{Errs: errs}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url '%s' is invalid err:%w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url '%s' must be absolute http or https url", raw)
	}
	return nil
}

func validateProtocol(p giturl.Protocol) error {
	switch p {
	case giturl.ProtocolUnforced, giturl.ProtocolHTTP, giturl.ProtocolHTTPS:
		return nil
	}
	return fmt.Errorf("force protocol %q is invalid, must be http or https", p)
}
