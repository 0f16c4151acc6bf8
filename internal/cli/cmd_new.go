package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rtmsync/internal/db"
)

// cliTypes maps the command-line spelling of entity types to store types.
var cliTypes = map[string]string{
	"requirement":    db.TypeRequirement,
	"test-case":      db.TypeTestCase,
	"test-plan":      db.TypeTestPlan,
	"test-execution": db.TypeTestExecution,
	"defect":         db.TypeDefect,
}

func newNewCmd() *cobra.Command {
	var (
		description string
		folderPath  string
		labels      []string
	)

	cmd := &cobra.Command{
		Use:   "new <type> <summary>",
		Short: "Create a local issue to push later",
		Long: `Create an issue that exists only locally. It is marked dirty and gets a
remote key on the next push.

Types: requirement, test-case, test-plan, test-execution, defect

Examples:
  rtmsync new test-case "Login works with valid credentials"
  rtmsync new requirement "Passwords expire after 90 days" --folder "Auth/Policies"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueType, ok := cliTypes[args[0]]
			if !ok {
				return fmt.Errorf("unknown type %q (want one of: %s)", args[0], strings.Join(cliTypeNames(), ", "))
			}
			summary := args[1]

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

			project, err := ensureProject(store, cfg)
			if err != nil {
				return err
			}

			issue := &db.Issue{
				ProjectID:   project.ID,
				IssueType:   issueType,
				Summary:     summary,
				Description: description,
				Labels:      strings.Join(labels, ","),
			}
			if folderPath != "" {
				folderID, err := store.ResolveFolderPath(project.ID, folderPath, issueType)
				if err != nil {
					return err
				}
				issue.FolderID = folderID
			}

			id, err := store.CreateLocalIssue(issue)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Created %s #%d: %s\n", args[0], id, summary)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "issue description")
	cmd.Flags().StringVar(&folderPath, "folder", "", "folder path, segments separated by /")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "label (repeatable)")
	return cmd
}

func cliTypeNames() []string {
	return []string{"requirement", "test-case", "test-plan", "test-execution", "defect"}
}
