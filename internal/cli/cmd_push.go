package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	sync "github.com/randalmurphal/rtmsync/internal/sync"
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push local edits to the remote",
		Long: `Push every dirty issue of the project to the remote service.

Issues that only exist locally are created remotely and adopt the
assigned key; edited issues are updated in place. The batch is
fail-soft: one rejected issue does not stop the rest, and failed rows
stay dirty for the next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			release, err := acquireRunLock("push")
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

			pusher := &sync.Pusher{
				Store:    store,
				Client:   client,
				Logger:   newLogger(),
				Progress: progressPrinter("pushing"),
			}
			res, err := pusher.Push(context.Background(), project)
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Printf("Pushed %d issues\n", res.Successes)
			}
			for _, f := range res.Failures {
				fmt.Printf("  failed: [%s] %s: %v\n", f.IssueType, f.Summary, f.Err)
			}
			if len(res.Failures) > 0 {
				return fmt.Errorf("%d of %d issues failed to push",
					len(res.Failures), res.Successes+len(res.Failures))
			}
			return nil
		},
	}
	return cmd
}
