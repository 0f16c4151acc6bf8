package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	sync "github.com/randalmurphal/rtmsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Full sync: pull the remote trees, then push local edits",
		Long: `Run a pull followed by a push in one locked session.

The pull never touches rows that only exist locally, so local edits
survive the pull and go out in the push that follows.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			release, err := acquireRunLock("sync")
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
			logger := newLogger()
			ctx := context.Background()

			syncer := &sync.TreeSyncer{
				Store:        store,
				Client:       client,
				Logger:       logger,
				FetchWorkers: cfg.Sync.FetchWorkers,
				Deep:         cfg.Sync.Deep,
			}
			pullRes, err := syncer.Pull(ctx, project)
			if err != nil {
				return err
			}

			pusher := &sync.Pusher{
				Store:    store,
				Client:   client,
				Logger:   logger,
				Progress: progressPrinter("pushing"),
			}
			pushRes, err := pusher.Push(ctx, project)
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Printf("Pulled %d folders, %d issues; pushed %d issues\n",
					pullRes.Folders, pullRes.Issues, pushRes.Successes)
			}
			for _, f := range pullRes.Failures {
				fmt.Printf("  pull warning: %s %s: %v\n", f.TreeType, f.JiraKey, f.Err)
			}
			for _, f := range pushRes.Failures {
				fmt.Printf("  push failed: [%s] %s: %v\n", f.IssueType, f.Summary, f.Err)
			}
			if len(pushRes.Failures) > 0 {
				return fmt.Errorf("%d issues failed to push", len(pushRes.Failures))
			}
			return nil
		},
	}
	return cmd
}
