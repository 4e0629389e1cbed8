package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"scratcharchive/pkg/archive"
	"scratcharchive/pkg/auth"
	"scratcharchive/pkg/config"
	"scratcharchive/pkg/logger"
	"scratcharchive/pkg/ratelimit"
	"scratcharchive/pkg/requestcache"
	"scratcharchive/pkg/retry"
	"scratcharchive/pkg/scratch"
	"scratcharchive/pkg/storage"
)

var (
	version = "1.0.0"

	// Global flags.
	cfgFile  string
	logLevel string
	rootDir  string
)

var rootCmd = &cobra.Command{
	Use:   "scratcharchive",
	Short: "Archive the Scratch platform's graph of users, projects, and studios",
	Long: `scratcharchive crawls the Scratch platform outward from seed users,
projects, or studios, fetching each entity's full public (and, with
credentials, private) data and persisting it to a human-readable folder
tree. Project binaries come from the live platform or, for deleted
projects, the Wayback Machine.

Every upstream response is cached in a local database, so interrupted
runs resume without refetching, and all requests are rate limited per
hostname.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.scratcharchive.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "output", "o", "", "archive root directory")
}

// app wires the full stack for one command invocation.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	cache   *requestcache.Cache
	client  *scratch.Client
	store   *storage.Manager
	archive *archive.Archive
	authMgr *auth.Manager
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if rootDir != "" {
		cfg.Archive.Root = rootDir
	}

	if err := logger.Initialize(&logger.Config{Level: cfg.Logging.Level, File: cfg.Logging.File}); err != nil {
		return nil, err
	}
	log := logger.GetLogger()

	var cache *requestcache.Cache
	if !cfg.Cache.Disabled {
		dir := cfg.Cache.Directory
		if dir == "" {
			dir = filepath.Join(xdg.CacheHome, "scratcharchive")
		}
		cache, err = requestcache.Open(dir, requestcache.DefaultOptions())
		if err != nil {
			return nil, err
		}
	}

	client := scratch.NewClient(scratch.Options{
		UserAgent: cfg.Scratch.UserAgent,
		Limiter:   ratelimit.NewHostLimiter(cfg.RateLimit.TokensPerInterval, cfg.RateLimit.Interval),
		Cache:     cache,
		Retry: &retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff: &retry.ExponentialBackoff{
				Initial:    cfg.Retry.InitialDelay,
				Max:        cfg.Retry.MaxDelay,
				Multiplier: cfg.Retry.Multiplier,
			},
			RetryIf: retry.DefaultRetryIf,
			Logger:  log,
		},
		Logger: log,
	})

	store, err := storage.NewManager(cfg.Archive.Root, log)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, err
	}

	vaultPath := filepath.Join(xdg.DataHome, "scratcharchive", "credentials.enc")
	authMgr := auth.NewManager(vaultPath, os.Getenv("SCRATCHARCHIVE_VAULT_KEY"), log)

	return &app{
		cfg:     cfg,
		log:     log,
		cache:   cache,
		client:  client,
		store:   store,
		archive: archive.New(cfg, client, store, log),
		authMgr: authMgr,
	}, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
}

// login registers the configured account's credentials with the
// engine. No configured username means an anonymous run, which is
// fine; configured credentials that fail are not.
func (a *app) login(ctx context.Context) error {
	username := a.cfg.Scratch.Username
	if username == "" {
		a.log.Info("no account configured, archiving anonymously")
		return nil
	}

	account := &auth.Account{
		Username:  username,
		SessionID: a.cfg.Scratch.SessionID,
		XToken:    a.cfg.Scratch.XToken,
	}
	if !account.HasCredentials() {
		stored, err := a.authMgr.Resolve(username)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return fmt.Errorf("no credentials for %s; run `scratcharchive auth login %s` first", username, username)
			}
			return err
		}
		account = stored
	}

	resolved, err := a.archive.Login(ctx, account)
	if err != nil {
		return err
	}
	// Persist the refreshed session and token for the next run.
	if err := a.authMgr.Save(resolved); err != nil && !errors.Is(err, auth.ErrReadOnly) {
		a.log.WarnWithFields("could not persist refreshed credentials", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

// levelPtr converts the CLI's level flag: negative means unlimited.
func levelPtr(level int) *int {
	if level < 0 {
		return nil
	}
	return &level
}
