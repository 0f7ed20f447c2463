package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/gitlab-mirror/giturl"
	"github.com/utilitywarehouse/gitlab-mirror/repopool"
)

const metricsNamespace = "gitlab_mirror"

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	// log level by number of -v flags
	verbosityLevels = []slog.Level{
		slog.LevelError,
		slog.LevelWarn,
		slog.LevelInfo,
		slog.LevelDebug,
		slog.Level(-8),
	}
)

func init() {
	loggerLevel.Set(slog.LevelError)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func envVars(name string) cli.ValueSourceChain {
	return cli.EnvVars("GTLBSTR_" + name)
}

func appFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "fu",
			Sources: envVars("FETCH_URL"),
			Usage:   "The GitLab instance URL for fetch repositories (example: https://gitlab.local)",
		},
		&cli.StringFlag{
			Name:    "ft",
			Sources: envVars("FETCH_TOKEN"),
			Usage:   "Your personal GitLab token for fetch repositories",
		},
		&cli.StringFlag{
			Name:    "bu",
			Sources: envVars("BACKUP_URL"),
			Usage:   "The GitLab instance URL for backup repositories (example: https://backup-gitlab.local)",
		},
		&cli.StringFlag{
			Name:    "bt",
			Sources: envVars("BACKUP_TOKEN"),
			Usage:   "Your personal GitLab token for backup repositories",
		},
		&cli.StringFlag{
			Name:    "bg",
			Sources: envVars("BACKUP_GROUP"),
			Usage:   "A target created group on backup GitLab for push repositories",
		},
		&cli.StringSliceFlag{
			Name:    "include",
			Aliases: []string{"i"},
			Sources: envVars("INCLUDE"),
			Usage:   "Include regexp patterns (cannot be used together with --exclude flag, may be repeated)",
		},
		&cli.StringSliceFlag{
			Name:    "exclude",
			Aliases: []string{"x"},
			Sources: envVars("EXCLUDE"),
			Usage:   "Exclude regexp patterns (cannot be used together with --include flag, may be repeated)",
		},
		&cli.StringFlag{
			Name:        "dst",
			Aliases:     []string{"d"},
			Sources:     envVars("DST"),
			DefaultText: repopool.DefaultDestination,
			Usage:       "Destination path for saving projects",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Verbose level (one or more: -v, -vv, -vvv, -vvvv)",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Usage:   "Log level (trace, debug, info, warn, error), overrides -v",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Print projects which would be mirrored and exit",
		},
		&cli.IntFlag{
			Name:        "objects-per-page",
			Sources:     envVars("OBJECTS_PER_PAGE"),
			DefaultText: fmt.Sprint(repopool.DefaultObjectsPerPage),
			Usage:       "Number of objects requested per page from GitLab API (max 100)",
		},
		&cli.IntFlag{
			Name:    "limit",
			Sources: envVars("LIMIT"),
			Usage:   "Limit the number of mirrored projects",
		},
		&cli.IntFlag{
			Name:        "concurrency-limit",
			Sources:     envVars("CONCURRENCY_LIMIT"),
			DefaultText: fmt.Sprint(repopool.DefaultConcurrencyLimit),
			Usage:       "Number of projects mirrored concurrently",
		},
		&cli.BoolFlag{
			Name:    "only-owned",
			Sources: envVars("ONLY_OWNED"),
			Usage:   "Mirror only projects owned by the fetch token user",
		},
		&cli.BoolFlag{
			Name:    "only-membership",
			Sources: envVars("ONLY_MEMBERSHIP"),
			Usage:   "Mirror only projects the fetch token user is a member of",
		},
		&cli.StringFlag{
			Name:    "group",
			Sources: envVars("GROUP"),
			Usage:   "Mirror only projects of the source group and its subgroups",
		},
		&cli.BoolFlag{
			Name:    "exclude-archived",
			Sources: envVars("EXCLUDE_ARCHIVED"),
			Usage:   "Skip archived projects",
		},
		&cli.BoolFlag{
			Name:    "download-ssh",
			Sources: envVars("DOWNLOAD_SSH"),
			Usage:   "Use SSH for fetching projects",
		},
		&cli.BoolFlag{
			Name:    "upload-ssh",
			Sources: envVars("UPLOAD_SSH"),
			Usage:   "Use SSH for pushing projects to backup",
		},
		&cli.BoolFlag{
			Name:    "download-force-http",
			Sources: envVars("DOWNLOAD_FORCE_HTTP"),
			Usage:   "Force http protocol for fetching projects",
		},
		&cli.BoolFlag{
			Name:    "download-force-https",
			Sources: envVars("DOWNLOAD_FORCE_HTTPS"),
			Usage:   "Force https protocol for fetching projects",
		},
		&cli.BoolFlag{
			Name:    "upload-force-http",
			Sources: envVars("UPLOAD_FORCE_HTTP"),
			Usage:   "Force http protocol for pushing projects",
		},
		&cli.BoolFlag{
			Name:    "upload-force-https",
			Sources: envVars("UPLOAD_FORCE_HTTPS"),
			Usage:   "Force https protocol for pushing projects",
		},
		&cli.BoolFlag{
			Name:    "disable-hierarchy",
			Sources: envVars("DISABLE_HIERARCHY"),
			Usage:   "Mirror all projects into the destination and backup group without source groups",
		},
		&cli.BoolFlag{
			Name:    "clear-dst",
			Sources: envVars("CLEAR_DST"),
			Usage:   "Clear the destination dir before mirroring",
		},
		&cli.BoolFlag{
			Name:    "only-master",
			Sources: envVars("ONLY_MASTER"),
			Usage:   "Mirror only the default branch of the projects",
		},
		&cli.BoolFlag{
			Name:    "disable-sync-date",
			Sources: envVars("DISABLE_SYNC_DATE"),
			Usage:   "Do not append sync date to backup project descriptions",
		},
		&cli.BoolFlag{
			Name:    "continue-on-error",
			Sources: envVars("CONTINUE_ON_ERROR"),
			Usage:   "Log project failures and continue with the remaining projects",
		},
		&cli.IntFlag{
			Name:    "gitlab-timeout",
			Sources: envVars("GITLAB_TIMEOUT"),
			Usage:   "Timeout for requests to GitLab instances in seconds",
		},
		&cli.StringFlag{
			Name:    "config",
			Sources: envVars("CONFIG"),
			Usage:   "Absolute path to the optional yaml config file, flags take precedence over it",
		},
		&cli.DurationFlag{
			Name:    "interval",
			Sources: envVars("INTERVAL"),
			Usage:   "Mirror all projects every interval, 0 mirrors once and exits",
		},
		&cli.StringFlag{
			Name:    "http-bind-address",
			Sources: envVars("HTTP_BIND_ADDRESS"),
			Value:   ":9001",
			Usage:   "The address the web server binds to in loop mode",
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Sources: envVars("WEBHOOK_SECRET"),
			Usage:   "Secret token of GitLab webhooks, webhook endpoint is disabled if not set",
		},
		&cli.StringFlag{
			Name:    "metrics-textfile",
			Sources: envVars("METRICS_TEXTFILE"),
			Usage:   "Write metrics in textfile collector format to the path after a single run",
		},
		&cli.StringFlag{
			Name:    "ssh-key-path",
			Sources: envVars("SSH_KEY_PATH"),
			Usage:   "Path to the ssh private key used for ssh remotes",
		},
		&cli.StringFlag{
			Name:    "ssh-known-hosts-path",
			Sources: envVars("SSH_KNOWN_HOSTS_PATH"),
			Usage:   "Path to the known hosts file used for ssh remotes",
		},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                   "gitlab-mirror",
		Usage:                  "A tool for mirroring all available repositories of a GitLab instance",
		Flags:                  appFlags(),
		UseShortOptionHandling: true,
		Action:                 run,
	}
}

func main() {
	// .env file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("unable to load .env file", "err", err)
	}

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}

func setLogLevel(c *cli.Command) {
	if c.IsSet("log-level") {
		if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
			loggerLevel.Set(v)
			return
		}
	}
	v := min(c.Count("verbose"), len(verbosityLevels)-1)
	loggerLevel.Set(verbosityLevels[v])
}

func run(ctx context.Context, c *cli.Command) error {
	setLogLevel(c)

	conf, err := buildConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repopool.EnableMetrics(metricsNamespace, prometheus.DefaultRegisterer)

	repos, err := repopool.New(*conf, logger.With("logger", "gitlab-mirror"))
	if err != nil {
		return err
	}

	if conf.Interval == 0 {
		err := repos.Run(ctx)
		if path := c.String("metrics-textfile"); path != "" {
			if werr := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); werr != nil {
				logger.Error("unable to write metrics textfile", "path", path, "err", werr)
			}
		}
		return err
	}

	server := newServer(c.String("http-bind-address"), c.String("webhook-secret"), repos)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server terminated", "err", err)
		}
	}()

	// blocks until shutdown signal
	repos.StartLoop(ctx)

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newServer(addr, webhookSecret string, queuer runQueuer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if webhookSecret != "" {
		mux.Handle("/webhook", &GitLabWebhookHandler{
			queuer: queuer,
			secret: webhookSecret,
			log:    logger.With("logger", "gitlab-webhook"),
		})
	}
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// buildConfig returns config from the optional config file overridden by
// the flags and env vars which are set
func buildConfig(c *cli.Command) (*repopool.Config, error) {
	conf := &repopool.Config{}
	if path := c.String("config"); path != "" {
		var err error
		conf, err = parseConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to parse config file err:%w", err)
		}
	}

	if err := applyFlags(c, conf); err != nil {
		return nil, err
	}

	conf.ApplyDefaults()
	return conf, nil
}

func applyFlags(c *cli.Command, conf *repopool.Config) error {
	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}
	setInt := func(name string, dst *int) {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	setProtocol := func(direction string, dst *giturl.Protocol) error {
		httpFlag, httpsFlag := direction+"-force-http", direction+"-force-https"
		if !c.IsSet(httpFlag) && !c.IsSet(httpsFlag) {
			return nil
		}
		p, err := giturl.ParseProtocol(c.Bool(httpFlag), c.Bool(httpsFlag))
		if err != nil {
			return fmt.Errorf("%s: %w", direction, err)
		}
		*dst = p
		return nil
	}

	setString("fu", &conf.Source.URL)
	setString("ft", &conf.Source.Token)
	setString("bu", &conf.Backup.URL)
	setString("bt", &conf.Backup.Token)
	setString("bg", &conf.Backup.Group)
	if c.IsSet("include") {
		conf.Include = c.StringSlice("include")
	}
	if c.IsSet("exclude") {
		conf.Exclude = c.StringSlice("exclude")
	}
	setString("dst", &conf.Destination)
	setBool("dry-run", &conf.DryRun)
	setInt("objects-per-page", &conf.ObjectsPerPage)
	setInt("limit", &conf.Limit)
	setInt("concurrency-limit", &conf.ConcurrencyLimit)
	setBool("only-owned", &conf.OnlyOwned)
	setBool("only-membership", &conf.OnlyMembership)
	setString("group", &conf.Group)
	setBool("exclude-archived", &conf.ExcludeArchived)
	setBool("download-ssh", &conf.DownloadSSH)
	setBool("upload-ssh", &conf.UploadSSH)
	if err := setProtocol("download", &conf.DownloadProtocol); err != nil {
		return err
	}
	if err := setProtocol("upload", &conf.UploadProtocol); err != nil {
		return err
	}
	setBool("disable-hierarchy", &conf.DisableHierarchy)
	setBool("clear-dst", &conf.ClearDestination)
	setBool("only-master", &conf.OnlyDefaultBranch)
	setBool("disable-sync-date", &conf.DisableSyncDate)
	setBool("continue-on-error", &conf.ContinueOnError)
	if c.IsSet("gitlab-timeout") {
		conf.Timeout = time.Duration(c.Int("gitlab-timeout")) * time.Second
	}
	if c.IsSet("interval") {
		conf.Interval = c.Duration("interval")
	}
	setString("ssh-key-path", &conf.Auth.SSHKeyPath)
	setString("ssh-known-hosts-path", &conf.Auth.SSHKnownHostsPath)

	return nil
}
