package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rtmsync/internal/db"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync state and pending local edits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			project, err := store.GetProjectByKey(cfg.Project.Key)
			if err != nil {
				return err
			}
			if project == nil {
				return fmt.Errorf("project %s not initialized, run rtmsync init", cfg.Project.Key)
			}

			state, err := store.GetSyncState(project.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Project:    %s (%s)\n", project.ProjectKey, cfg.Remote.BaseURL)
			if state != nil {
				fmt.Printf("Last pull:  %s\n", formatSyncTime(state.LastPullAt))
				fmt.Printf("Last push:  %s\n", formatSyncTime(state.LastPushAt))
			} else {
				fmt.Println("Last pull:  never")
				fmt.Println("Last push:  never")
			}

			dirty, err := store.ListDirtyIssues(project.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Dirty:      %d\n", len(dirty))
			for _, is := range dirty {
				marker := is.JiraKey
				if is.LocalOnly {
					marker = "(new)"
				}
				fmt.Printf("  %-14s %-16s %s\n", typeLabel(is.IssueType), marker, is.Summary)
			}
			return nil
		},
	}
	return cmd
}

// typeLabel renders an issue type the way users type it on the command line.
func typeLabel(issueType string) string {
	switch issueType {
	case db.TypeRequirement:
		return "requirement"
	case db.TypeTestCase:
		return "test-case"
	case db.TypeTestPlan:
		return "test-plan"
	case db.TypeTestExecution:
		return "test-execution"
	case db.TypeDefect:
		return "defect"
	}
	return issueType
}
