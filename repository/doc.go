// Package repository keeps a local working clone of a remote repository in
// sync with its upstream and publishes it to a second remote.
//
// Download brings the clone at a given path to the state of the `origin`
// remote. Missing or broken clones are re-cloned, remote branches get a
// local tracking branch, local branches removed upstream are deleted and
// existing branches are reset to their upstream counterpart. The checked
// out (default) branch is never deleted, it is only fast-forwarded with pull.
//
// Upload (re)configures the `backup` remote and pushes every local branch
// and tag to it.
//
// All git operations go through the Git interface, NewGit returns the
// implementation which runs the git binary.
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
//	syncer := repository.NewSyncer(repository.NewGit(repository.Auth{}, nil, logger), repository.Config{}, logger)
//	if err := syncer.Download(ctx, "/tmp/mirror/group/project", "https://gitlab.example.com/group/project.git"); err != nil {
//		panic(err)
//	}
package repository
