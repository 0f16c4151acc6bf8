package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	sync "github.com/randalmurphal/rtmsync/internal/sync"
)

func newPullCmd() *cobra.Command {
	var (
		shallow bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull the remote trees into the local store",
		Long: `Pull every navigation tree (requirements, test cases, test plans, test
executions, defects) from the remote project into the local store.

Pulled rows are written as clean. Rows that only exist locally are never
touched by a pull. With --shallow only tree placement and names are
fetched, skipping per-issue details, steps and links.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			release, err := acquireRunLock("pull")
			if err != nil {
				return err
			}
			defer release()

			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			project, err := ensureProject(store, cfg)
			if err != nil {
				return err
			}

			fetchWorkers := cfg.Sync.FetchWorkers
			if workers > 0 {
				fetchWorkers = workers
			}
			syncer := &sync.TreeSyncer{
				Store:        store,
				Client:       client,
				Logger:       newLogger(),
				FetchWorkers: fetchWorkers,
				Deep:         cfg.Sync.Deep && !shallow,
			}

			res, err := syncer.Pull(context.Background(), project)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Pulled %d folders, %d issues\n", res.Folders, res.Issues)
			}
			for _, f := range res.Failures {
				fmt.Printf("  warning: %s %s: %v\n", f.TreeType, f.JiraKey, f.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&shallow, "shallow", false, "skip per-issue details, steps and links")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel tree downloads (0 = one per tree)")
	return cmd
}
