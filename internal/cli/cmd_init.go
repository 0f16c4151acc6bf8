package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rtmsync/internal/config"
)

func newInitCmd() *cobra.Command {
	var (
		url       string
		username  string
		project   string
		projectID int64
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize rtmsync in the current directory",
		Long: `Initialize rtmsync: write .rtmsync/config.yaml and create the local
database.

The API token is never written to the config file; set the ` + config.EnvTokenVar + `
environment variable instead.

Examples:
  rtmsync init --url https://jira.example.com --project PROJ --project-id 41500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(config.RTMSyncDir, config.ConfigFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Remote.BaseURL = url
			cfg.Remote.Username = username
			cfg.Project.Key = project
			cfg.Project.ID = projectID
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if _, err := ensureProject(store, cfg); err != nil {
				return err
			}

			if !quiet {
				fmt.Printf("Initialized rtmsync for %s\n", project)
				fmt.Printf("  config:   %s\n", path)
				fmt.Printf("  database: %s\n", cfg.Store.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Jira base URL (required)")
	cmd.Flags().StringVar(&username, "username", "", "Jira username for basic auth")
	cmd.Flags().StringVar(&project, "project", "", "Jira project key (required)")
	cmd.Flags().Int64Var(&projectID, "project-id", 0, "remote numeric project id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}
