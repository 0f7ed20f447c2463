package repository

import "fmt"

// envs returns environment variables passed to every git command. It
// disables credential prompts and configures ssh if key is provided.
func (a Auth) envs() []string {
	envs := []string{"GIT_TERMINAL_PROMPT=0"}
	if a.SSHKeyPath != "" {
		envs = append(envs, a.gitSSHCommand())
	}
	return envs
}

// gitSSHCommand returns the environment variable to be used for configuring
// git over ssh.
func (a Auth) gitSSHCommand() string {
	knownHostsOptions := "-o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no"
	if a.SSHKnownHostsPath != "" {
		knownHostsOptions = fmt.Sprintf("-o UserKnownHostsFile=%s", a.SSHKnownHostsPath)
	}
	return fmt.Sprintf(`GIT_SSH_COMMAND=ssh -q -F none -o IdentitiesOnly=yes -o IdentityFile=%s %s`, a.SSHKeyPath, knownHostsOptions)
}
