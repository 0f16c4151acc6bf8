package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/viper"

	"github.com/randalmurphal/rtmsync/internal/config"
	"github.com/randalmurphal/rtmsync/internal/db"
	"github.com/randalmurphal/rtmsync/internal/db/driver"
	"github.com/randalmurphal/rtmsync/internal/lock"
	"github.com/randalmurphal/rtmsync/internal/rtm"
)

// resolveString resolves a value from flag, env var, or config (in priority order).
func resolveString(flag, envVar, configVal string) string {
	if flag != "" {
		return flag
	}
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return configVal
}

// loadConfig loads the effective config file, honoring --config.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return config.Load(used)
	}
	return config.Load(filepath.Join(config.RTMSyncDir, config.ConfigFileName))
}

// newLogger builds the CLI logger. Verbose lowers the level to debug,
// quiet raises it to error.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore opens the configured local database and runs migrations.
func openStore(cfg *config.Config) (*db.Store, error) {
	dialect, err := driver.ParseDialect(cfg.Store.Dialect)
	if err != nil {
		return nil, err
	}
	return db.OpenWithDialect(cfg.Store.Path, dialect)
}

// newClient builds the remote client from config plus the token env var.
func newClient(cfg *config.Config) (*rtm.Client, error) {
	token := cfg.APIToken()
	if token == "" {
		return nil, fmt.Errorf("API token is required: set %s or remote.token in config", config.EnvTokenVar)
	}
	return rtm.NewClient(rtm.ClientConfig{
		BaseURL:   cfg.Remote.BaseURL,
		Username:  cfg.Remote.Username,
		Token:     token,
		Timeout:   cfg.Remote.Timeout,
		Templates: cfg.Remote.Endpoints,
	})
}

// ensureProject loads or creates the local project row for the config.
func ensureProject(store *db.Store, cfg *config.Config) (*db.Project, error) {
	p, err := store.GetProjectByKey(cfg.Project.Key)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &db.Project{
			ProjectKey: cfg.Project.Key,
			ProjectID:  cfg.Project.ID,
			BaseURL:    cfg.Remote.BaseURL,
		}
	} else {
		if cfg.Project.ID != 0 {
			p.ProjectID = cfg.Project.ID
		}
		p.BaseURL = cfg.Remote.BaseURL
	}
	if err := store.SaveProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

// acquireRunLock serializes pull, push and import runs against the local
// store. The returned release function is safe to defer.
func acquireRunLock(operation string) (func(), error) {
	locker := lock.NewRunLocker(config.RTMSyncDir)
	if err := locker.Acquire(operation); err != nil {
		return nil, err
	}
	return func() { _ = locker.Release() }, nil
}

// progressPrinter writes a carriage-returned counter when stderr is a
// terminal and output is not quieted.
func progressPrinter(label string) func(done, total int) {
	if quiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	return func(done, total int) {
		fmt.Fprintf(os.Stderr, "\r%s %d/%d", label, done, total)
		if done == total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// sheetProgressPrinter is progressPrinter shaped for the import bridge.
func sheetProgressPrinter() func(message string, current, total int) {
	if quiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	return func(message string, current, total int) {
		fmt.Fprintf(os.Stderr, "\r[%d/%d] %-30s", current, total, message)
		if current == total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

func formatSyncTime(at *time.Time) string {
	if at == nil {
		return "never"
	}
	return at.Local().Format("2006-01-02 15:04:05")
}
