package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rtmsync/internal/excel"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <file.xlsx>",
		Short: "Export the local store to a spreadsheet",
		Long: `Write the project's local state to an xlsx workbook: issues, test case
steps, relations, plan contents and execution results, one sheet each.

Column headers follow the excel.columns mapping in the config file.`,
		Args: cobra.ExactArgs(1),
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

			exporter := &excel.Exporter{
				Store:   store,
				Mapping: excel.ColumnMapping(cfg.Excel.Columns),
				Logger:  newLogger(),
			}
			if err := exporter.Export(project.ID, args[0]); err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Exported %s to %s\n", project.ProjectKey, args[0])
			}
			return nil
		},
	}
	return cmd
}
