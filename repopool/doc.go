// Package repopool mirrors every project visible to a token on a GitLab
// instance to local disk and optionally pushes them to a backup instance,
// recreating the source group hierarchy there.
//
// Projects are processed in batches of ConcurrencyLimit. All projects of a
// batch are mirrored concurrently and the next batch starts only once the
// whole batch has finished. A failed project stops the run after its batch
// unless ContinueOnError is set.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	conf := repopool.Config{
//		Source: repopool.Remote{URL: "https://gitlab.example.com", Token: token},
//	}
//	conf.ApplyDefaults()
//
//	repos, err := repopool.New(conf, logger.With("logger", "gitlab-mirror"))
//	if err != nil {
//		panic(err)
//	}
//	if err := repos.Run(ctx); err != nil {
//		panic(err)
//	}
package repopool
