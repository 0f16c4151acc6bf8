package excel

import (
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/randalmurphal/rtmsync/internal/db"
)

// Exporter writes the full local state of a project into a workbook.
type Exporter struct {
	Store   *db.Store
	Mapping ColumnMapping
	Logger  *slog.Logger
}

func (e *Exporter) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Export writes every sheet for the project and saves the workbook at path.
func (e *Exporter) Export(projectID int64, path string) error {
	f, err := e.Workbook(projectID)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("excel: save %s: %w", path, err)
	}
	return nil
}

// Workbook builds the in-memory workbook for a project.
func (e *Exporter) Workbook(projectID int64) (*excelize.File, error) {
	f := excelize.NewFile()

	issues, err := e.Store.ListIssues(projectID, "")
	if err != nil {
		return nil, err
	}
	keyByID := make(map[int64]string, len(issues))
	for _, is := range issues {
		keyByID[is.ID] = is.JiraKey
	}

	if err := e.writeIssues(f, issues); err != nil {
		return nil, err
	}
	if err := e.writeSteps(f, issues); err != nil {
		return nil, err
	}
	if err := e.writeRelations(f, projectID, keyByID); err != nil {
		return nil, err
	}
	if err := e.writePlanLinks(f, projectID, keyByID); err != nil {
		return nil, err
	}
	if err := e.writeExecutions(f, projectID, keyByID); err != nil {
		return nil, err
	}

	// The default sheet excelize creates is replaced by Issues.
	f.DeleteSheet("Sheet1")
	idx, err := f.GetSheetIndex(SheetIssues)
	if err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}
	return f, nil
}

func (e *Exporter) newSheet(f *excelize.File, sheet string) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("excel: sheet %s: %w", sheet, err)
	}
	header := make([]any, 0, len(sheetColumns[sheet]))
	for _, logical := range sheetColumns[sheet] {
		header = append(header, e.Mapping.Header(logical))
	}
	return setRow(f, sheet, 1, header)
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("excel: %s row %d: %w", sheet, row, err)
	}
	return nil
}

func (e *Exporter) writeIssues(f *excelize.File, issues []db.Issue) error {
	if err := e.newSheet(f, SheetIssues); err != nil {
		return err
	}
	for i, is := range issues {
		folderPath := ""
		if is.FolderID != "" {
			p, err := e.Store.FolderPath(is.FolderID)
			if err != nil {
				e.logger().Warn("folder path lookup failed", "issue", is.ID, "error", err)
			} else {
				folderPath = p
			}
		}
		row := []any{
			is.ID, "", is.JiraKey, is.IssueType, is.Summary, is.Description,
			is.Status, is.Priority, is.Assignee, is.Labels, is.Components,
			is.Environment, is.DueDate, is.Preconditions, folderPath, is.SyncStatus,
		}
		if err := setRow(f, SheetIssues, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writeSteps(f *excelize.File, issues []db.Issue) error {
	if err := e.newSheet(f, SheetSteps); err != nil {
		return err
	}
	row := 2
	for _, is := range issues {
		if is.IssueType != db.TypeTestCase {
			continue
		}
		steps, err := e.Store.ListSteps(is.ID)
		if err != nil {
			return err
		}
		for _, st := range steps {
			values := []any{
				is.ID, is.JiraKey, "",
				st.GroupNo, st.OrderNo, st.Action, st.Input, st.Expected,
			}
			if err := setRow(f, SheetSteps, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func (e *Exporter) writeRelations(f *excelize.File, projectID int64, keyByID map[int64]string) error {
	if err := e.newSheet(f, SheetRelations); err != nil {
		return err
	}
	relations, err := e.Store.ListRelations(projectID)
	if err != nil {
		return err
	}
	for i, r := range relations {
		dst := r.DstJiraKey
		if dst == "" && r.DstIssueID != 0 {
			dst = keyByID[r.DstIssueID]
		}
		values := []any{keyByID[r.SrcIssueID], dst, r.RelationType}
		if err := setRow(f, SheetRelations, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writePlanLinks(f *excelize.File, projectID int64, keyByID map[int64]string) error {
	if err := e.newSheet(f, SheetPlanTestcases); err != nil {
		return err
	}
	links, err := e.Store.ListAllTestPlanTestCases(projectID)
	if err != nil {
		return err
	}
	for i, l := range links {
		values := []any{keyByID[l.TestPlanID], keyByID[l.TestCaseID], l.OrderNo}
		if err := setRow(f, SheetPlanTestcases, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writeExecutions(f *excelize.File, projectID int64, keyByID map[int64]string) error {
	for _, sheet := range []string{SheetExecutions, SheetTestcaseExecutions, SheetStepExecutions} {
		if err := e.newSheet(f, sheet); err != nil {
			return err
		}
	}

	executions, err := e.Store.ListTestExecutions(projectID)
	if err != nil {
		return err
	}
	execRow, tceRow, seRow := 2, 2, 2
	for _, ex := range executions {
		execKey := keyByID[ex.IssueID]
		values := []any{execKey, ex.Environment, ex.StartDate, ex.EndDate, ex.Result, ex.ExecutedBy}
		if err := setRow(f, SheetExecutions, execRow, values); err != nil {
			return err
		}
		execRow++

		tces, err := e.Store.ListTestCaseExecutions(ex.ID)
		if err != nil {
			return err
		}
		for _, tce := range tces {
			tcKey := keyByID[tce.TestCaseID]
			values := []any{
				execKey, tcKey, tce.OrderNo, tce.Assignee, tce.Result,
				tce.ActualTime, tce.Environment, tce.Defects, tce.TCETestKey,
			}
			if err := setRow(f, SheetTestcaseExecutions, tceRow, values); err != nil {
				return err
			}
			tceRow++

			stepExecs, err := e.Store.ListStepExecutions(tce.ID)
			if err != nil {
				return err
			}
			for _, se := range stepExecs {
				values := []any{
					execKey, tcKey, se.GroupNo, se.OrderNo,
					se.Status, se.ActualResult, se.Evidence,
				}
				if err := setRow(f, SheetStepExecutions, seRow, values); err != nil {
					return err
				}
				seRow++
			}
		}
	}
	return nil
}
