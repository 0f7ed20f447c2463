package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/gitlab-mirror/giturl"
	"github.com/utilitywarehouse/gitlab-mirror/repopool"
	"github.com/utilitywarehouse/gitlab-mirror/repository"
)

const testConfigFile = `
source:
  url: https://file.local
  token: file-token
backup:
  url: https://backup.local
  token: backup-token
  group: mirror
include:
  - ^team/
destination: /var/mirror
concurrency_limit: 5
only_default_branch: true
continue_on_error: true
download_force_protocol: http
gitlab_timeout: 10s
interval: 1m
auth:
  ssh_key_path: /etc/git-secret/ssh
  ssh_known_hosts_path: /etc/git-secret/known_hosts
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("unable to write config file: %v", err)
	}
	return path
}

func Test_parseConfigFile(t *testing.T) {
	got, err := parseConfigFile(writeConfig(t, testConfigFile))
	if err != nil {
		t.Fatalf("parseConfigFile() unexpected error: %v", err)
	}

	want := &repopool.Config{
		Source:            repopool.Remote{URL: "https://file.local", Token: "file-token"},
		Backup:            repopool.Remote{URL: "https://backup.local", Token: "backup-token", Group: "mirror"},
		Include:           []string{"^team/"},
		Destination:       "/var/mirror",
		ConcurrencyLimit:  5,
		OnlyDefaultBranch: true,
		ContinueOnError:   true,
		DownloadProtocol:  giturl.ProtocolHTTP,
		Timeout:           10 * time.Second,
		Interval:          time.Minute,
		Auth: repository.Auth{
			SSHKeyPath:        "/etc/git-secret/ssh",
			SSHKnownHostsPath: "/etc/git-secret/known_hosts",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseConfigFile() mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("parseConfigFile() expected error for missing file")
	}
}

func Test_validateConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"valid", testConfigFile, ""},
		{"empty", "", ""},
		{"unexpected top level key", "source:\n  url: a\nconcurency_limit: 2\n", "unexpected key: .concurency_limit"},
		{"unexpected source key", "source:\n  url: a\n  tokn: b\n", "unexpected key: .source.tokn"},
		{"unexpected backup key", "backup:\n  groups: b\n", "unexpected key: .backup.groups"},
		{"unexpected auth key", "auth:\n  ssh_key: b\n", "unexpected key: .auth.ssh_key"},
		{"invalid section", "source: https://gitlab.local\n", "source config section is not valid"},
		{"invalid yaml", "source: [\n", "yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validateConfig() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateConfig() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

// runCommand parses args with the app flags and calls action instead of run
func runCommand(t *testing.T, args []string, action cli.ActionFunc) error {
	t.Helper()
	cmd := newCommand()
	cmd.Action = action
	return cmd.Run(context.Background(), append([]string{"gitlab-mirror"}, args...))
}

func Test_buildConfig(t *testing.T) {
	t.Run("precedence", func(t *testing.T) {
		path := writeConfig(t, testConfigFile)
		t.Setenv("GTLBSTR_FETCH_TOKEN", "env-token")

		var got *repopool.Config
		err := runCommand(t, []string{
			"--config", path,
			"--fu", "https://flag.local",
			"-i", "^a/", "-i", "^b/",
			"--download-force-https",
			"--gitlab-timeout", "30",
			"--interval", "5m",
			"--only-master=false",
		}, func(_ context.Context, c *cli.Command) error {
			var err error
			got, err = buildConfig(c)
			return err
		})
		if err != nil {
			t.Fatalf("buildConfig() unexpected error: %v", err)
		}

		want := &repopool.Config{
			Source:            repopool.Remote{URL: "https://flag.local", Token: "env-token"},
			Backup:            repopool.Remote{URL: "https://backup.local", Token: "backup-token", Group: "mirror"},
			Include:           []string{"^a/", "^b/"},
			Destination:       "/var/mirror",
			ObjectsPerPage:    repopool.DefaultObjectsPerPage,
			ConcurrencyLimit:  5,
			OnlyDefaultBranch: false,
			ContinueOnError:   true,
			DownloadProtocol:  giturl.ProtocolHTTPS,
			Timeout:           30 * time.Second,
			Interval:          5 * time.Minute,
			Auth: repository.Auth{
				SSHKeyPath:        "/etc/git-secret/ssh",
				SSHKnownHostsPath: "/etc/git-secret/known_hosts",
			},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("buildConfig() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("flags only", func(t *testing.T) {
		var got *repopool.Config
		err := runCommand(t, []string{
			"--fu", "https://gitlab.local", "--ft", "token",
			"--bu", "https://backup.local", "--bt", "backup-token", "--bg", "mirror",
			"-x", "^archive/", "-d", "/tmp/out",
			"--limit", "3", "--concurrency-limit", "2", "--objects-per-page", "50",
			"--dry-run", "--disable-hierarchy", "--clear-dst", "--disable-sync-date",
			"--upload-ssh", "--upload-force-http", "--group", "team", "--exclude-archived",
		}, func(_ context.Context, c *cli.Command) error {
			var err error
			got, err = buildConfig(c)
			return err
		})
		if err != nil {
			t.Fatalf("buildConfig() unexpected error: %v", err)
		}

		want := &repopool.Config{
			Source:           repopool.Remote{URL: "https://gitlab.local", Token: "token"},
			Backup:           repopool.Remote{URL: "https://backup.local", Token: "backup-token", Group: "mirror"},
			Exclude:          []string{"^archive/"},
			Destination:      "/tmp/out",
			DryRun:           true,
			ObjectsPerPage:   50,
			Limit:            3,
			ConcurrencyLimit: 2,
			Group:            "team",
			ExcludeArchived:  true,
			UploadSSH:        true,
			UploadProtocol:   giturl.ProtocolHTTP,
			DisableHierarchy: true,
			ClearDestination: true,
			DisableSyncDate:  true,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("buildConfig() mismatch (-want +got):\n%s", diff)
		}
		if err := got.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("conflicting force flags", func(t *testing.T) {
		err := runCommand(t, []string{
			"--fu", "https://gitlab.local", "--ft", "token",
			"--upload-force-http", "--upload-force-https",
		}, func(_ context.Context, c *cli.Command) error {
			_, err := buildConfig(c)
			return err
		})
		if err == nil || !strings.Contains(err.Error(), "upload") {
			t.Errorf("buildConfig() error = %v, want upload protocol error", err)
		}
	})

	t.Run("invalid config file", func(t *testing.T) {
		path := writeConfig(t, "unknown: true\n")
		err := runCommand(t, []string{"--config", path}, func(_ context.Context, c *cli.Command) error {
			_, err := buildConfig(c)
			return err
		})
		if err == nil || !strings.Contains(err.Error(), "unexpected key: .unknown") {
			t.Errorf("buildConfig() error = %v, want unexpected key error", err)
		}
	})
}

func Test_setLogLevel(t *testing.T) {
	defer loggerLevel.Set(slog.LevelError)

	tests := []struct {
		args []string
		want slog.Level
	}{
		{nil, slog.LevelError},
		{[]string{"-v"}, slog.LevelWarn},
		{[]string{"-vv"}, slog.LevelInfo},
		{[]string{"-vvv"}, slog.LevelDebug},
		{[]string{"-vvvv"}, slog.Level(-8)},
		{[]string{"-vvvvvv"}, slog.Level(-8)},
		{[]string{"-v", "--log-level", "debug"}, slog.LevelDebug},
		{[]string{"--log-level", "TRACE"}, slog.Level(-8)},
		{[]string{"-vv", "--log-level", "unknown"}, slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			err := runCommand(t, tt.args, func(_ context.Context, c *cli.Command) error {
				setLogLevel(c)
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := loggerLevel.Level(); got != tt.want {
				t.Errorf("log level = %v, want %v", got, tt.want)
			}
		})
	}
}
