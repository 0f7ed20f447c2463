package repository

// Config represents behaviour of the Syncer
type Config struct {
	// OnlyDefaultBranch clones and updates only the default branch
	OnlyDefaultBranch bool `yaml:"only_default_branch"`

	// Auth config used for ssh remotes
	Auth Auth `yaml:"auth"`
}

// Auth represents ssh authentication config used for remotes
// with ssh or scp like URLs
type Auth struct {
	// path to the ssh key used to fetch and push remotes
	SSHKeyPath string `yaml:"ssh_key_path"`

	// path to the known hosts of the remote hosts
	SSHKnownHostsPath string `yaml:"ssh_known_hosts_path"`
}

const (
	originRemote = "origin"
	backupRemote = "backup"

	// legacyRemote is the name older versions gave to the source remote
	legacyRemote = "upstream"
)
