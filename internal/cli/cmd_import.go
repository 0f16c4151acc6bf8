package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rtmsync/internal/excel"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Import a spreadsheet into the local store",
		Long: `Read an xlsx workbook into the local store. Imported rows are marked
dirty so the next push sends them.

Rows identify their issue by local id, then by remote key, then by the
excel_key column for rows created in the sheet itself. Child sheets
(steps, relations, plan contents, execution results) replace the
parent's children wholesale.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			release, err := acquireRunLock("import")
			if err != nil {
				return err
			}
			defer release()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			project, err := ensureProject(store, cfg)
			if err != nil {
				return err
			}

			importer := &excel.Importer{
				Store:    store,
				Mapping:  excel.ColumnMapping(cfg.Excel.Columns),
				Logger:   newLogger(),
				Progress: sheetProgressPrinter(),
			}
			res, err := importer.Import(project.ID, args[0])
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Printf("Imported %d rows (%d issues)\n", res.Rows, res.Issues)
			}
			for _, f := range res.Failures {
				fmt.Printf("  failed: %s row %d: %v\n", f.Sheet, f.Row, f.Err)
			}
			if len(res.Failures) > 0 {
				return fmt.Errorf("%d rows failed to import", len(res.Failures))
			}
			return nil
		},
	}
	return cmd
}
