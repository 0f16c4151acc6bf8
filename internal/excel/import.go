package excel

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/randalmurphal/rtmsync/internal/db"
)

// Importer reads a workbook back into the local store. Imported issue rows
// are marked dirty; child sheets replace their parent's children wholesale.
type Importer struct {
	Store   *db.Store
	Mapping ColumnMapping
	Logger  *slog.Logger

	// Progress, when set, is called after each sheet. A panicking callback
	// is recovered and never aborts the import.
	Progress func(message string, current, total int)
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Issues   int
	Rows     int
	Failures []ImportFailure
}

// ImportFailure is one row that could not be applied.
type ImportFailure struct {
	Sheet string
	Row   int // 1-based workbook row
	Err   error
}

func (r *ImportResult) fail(sheet string, row int, err error) {
	r.Failures = append(r.Failures, ImportFailure{Sheet: sheet, Row: row, Err: err})
}

func (im *Importer) logger() *slog.Logger {
	if im.Logger != nil {
		return im.Logger
	}
	return slog.Default()
}

func (im *Importer) notify(message string, current, total int) {
	if im.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			im.logger().Warn("progress callback panicked", "panic", r)
		}
	}()
	im.Progress(message, current, total)
}

// Import opens the workbook at path and applies it to the project.
func (im *Importer) Import(projectID int64, path string) (*ImportResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("excel: open %s: %w", path, err)
	}
	defer f.Close()
	return im.ImportWorkbook(projectID, f)
}

// ImportWorkbook applies an open workbook to the project. Sheets are
// processed in a fixed order with Issues first so the identity map covers
// rows referenced by excel_key from child sheets. Missing sheets are
// skipped. Row errors are collected, not fatal.
func (im *Importer) ImportWorkbook(projectID int64, f *excelize.File) (*ImportResult, error) {
	result := &ImportResult{}
	run := &importRun{
		store:     im.Store,
		projectID: projectID,
		excelKeys: make(map[string]int64),
		result:    result,
	}

	total := len(sheetOrder)
	for i, sheet := range sheetOrder {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			im.notify(sheet, i+1, total)
			continue
		}
		idx := im.Mapping.headerIndex(sheet, rows[0])
		body := rows[1:]
		switch sheet {
		case SheetIssues:
			run.applyIssues(idx, body)
		case SheetSteps:
			run.applySteps(idx, body)
		case SheetRelations:
			run.applyRelations(idx, body)
		case SheetPlanTestcases:
			run.applyPlanLinks(idx, body)
		case SheetExecutions:
			run.applyExecutions(idx, body)
		case SheetTestcaseExecutions:
			run.applyTestcaseExecutions(idx, body)
		case SheetStepExecutions:
			run.applyStepExecutions(idx, body)
		}
		im.notify(sheet, i+1, total)
	}
	return result, nil
}

// importRun carries the per-import identity state. excelKeys maps the
// ephemeral excel_key of created rows to their new local ids; it never
// survives the run.
type importRun struct {
	store     *db.Store
	projectID int64
	excelKeys map[string]int64
	result    *ImportResult
}

func cellAt(row []string, idx map[string]int, logical string) (string, bool) {
	i, ok := idx[logical]
	if !ok || i >= len(row) {
		return "", ok
	}
	return strings.TrimSpace(row[i]), true
}

func cellInt(row []string, idx map[string]int, logical string) int {
	s, _ := cellAt(row, idx, logical)
	n, _ := strconv.Atoi(s)
	return n
}

// resolveIssue applies the identity chain: local id, then remote key, then
// the excel_key map built during the Issues pass.
func (r *importRun) resolveIssue(row []string, idx map[string]int, idCol, keyCol, excelCol string) (int64, error) {
	if s, _ := cellAt(row, idx, idCol); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s %q", idCol, s)
		}
		return id, nil
	}
	if key, _ := cellAt(row, idx, keyCol); key != "" {
		issue, err := r.store.GetIssueByRemoteKey(r.projectID, key)
		if err != nil {
			return 0, err
		}
		if issue == nil {
			return 0, fmt.Errorf("no issue with key %s", key)
		}
		return issue.ID, nil
	}
	if ek, _ := cellAt(row, idx, excelCol); ek != "" {
		if id, ok := r.excelKeys[ek]; ok {
			return id, nil
		}
		return 0, fmt.Errorf("excel_key %q not defined on the Issues sheet", ek)
	}
	return 0, fmt.Errorf("row identifies no issue")
}

// issueImportColumns are the Issues sheet columns applied verbatim as
// issue fields.
var issueImportColumns = []string{
	"summary", "description", "status", "priority", "assignee",
	"labels", "components", "environment", "due_date", "preconditions",
}

func (r *importRun) applyIssues(idx map[string]int, body [][]string) {
	for n, row := range body {
		rowNo := n + 2
		if err := r.applyIssueRow(idx, row); err != nil {
			r.result.fail(SheetIssues, rowNo, err)
			continue
		}
		r.result.Issues++
		r.result.Rows++
	}
}

func (r *importRun) applyIssueRow(idx map[string]int, row []string) error {
	fields := make(map[string]any)
	for _, logical := range issueImportColumns {
		if s, ok := cellAt(row, idx, logical); ok && s != "" {
			fields[logical] = s
		}
	}

	issueType, _ := cellAt(row, idx, "issue_type")
	if path, _ := cellAt(row, idx, "folder_path"); path != "" {
		folderID, err := r.store.ResolveFolderPath(r.projectID, path, issueType)
		if err != nil {
			return err
		}
		fields["folder_id"] = folderID
	}

	// Identity chain: id, then jira_key, then excel_key for new rows.
	if s, _ := cellAt(row, idx, "id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("bad id %q", s)
		}
		return r.store.UpdateIssueFields(id, fields)
	}
	if key, _ := cellAt(row, idx, "jira_key"); key != "" {
		issue, err := r.store.GetIssueByRemoteKey(r.projectID, key)
		if err != nil {
			return err
		}
		if issue != nil {
			return r.store.UpdateIssueFields(issue.ID, fields)
		}
		if issueType == "" {
			return fmt.Errorf("new row with key %s needs issue_type", key)
		}
		id, err := r.store.UpsertIssueByRemoteKey(r.projectID, issueType, key, fields)
		if err != nil {
			return err
		}
		// A row authored in the sheet is a local edit, not remote truth.
		return r.store.MarkDirty(id)
	}
	if issueType == "" {
		return fmt.Errorf("new row needs issue_type")
	}
	issue := &db.Issue{ProjectID: r.projectID, IssueType: issueType}
	if s, ok := fields["summary"].(string); ok {
		issue.Summary = s
	}
	id, err := r.store.CreateLocalIssue(issue)
	if err != nil {
		return err
	}
	delete(fields, "summary")
	if len(fields) > 0 {
		if err := r.store.UpdateIssueFields(id, fields); err != nil {
			return err
		}
	}
	if ek, _ := cellAt(row, idx, "excel_key"); ek != "" {
		r.excelKeys[ek] = id
	}
	return nil
}

func (r *importRun) applySteps(idx map[string]int, body [][]string) {
	type stepRow struct {
		rowNo int
		step  db.Step
	}
	byIssue := make(map[int64][]stepRow)
	var order []int64
	for n, row := range body {
		rowNo := n + 2
		issueID, err := r.resolveIssue(row, idx, "issue_id", "issue_jira_key", "excel_key")
		if err != nil {
			r.result.fail(SheetSteps, rowNo, err)
			continue
		}
		if _, seen := byIssue[issueID]; !seen {
			order = append(order, issueID)
		}
		action, _ := cellAt(row, idx, "action")
		input, _ := cellAt(row, idx, "input")
		expected, _ := cellAt(row, idx, "expected")
		byIssue[issueID] = append(byIssue[issueID], stepRow{rowNo, db.Step{
			GroupNo:  cellInt(row, idx, "group_no"),
			OrderNo:  cellInt(row, idx, "order_no"),
			Action:   action,
			Input:    input,
			Expected: expected,
		}})
	}
	for _, issueID := range order {
		rows := byIssue[issueID]
		steps := make([]db.Step, 0, len(rows))
		for _, sr := range rows {
			steps = append(steps, sr.step)
		}
		if err := r.store.ReplaceSteps(issueID, steps); err != nil {
			r.result.fail(SheetSteps, rows[0].rowNo, err)
			continue
		}
		r.result.Rows += len(rows)
	}
}

func (r *importRun) resolveByKeyOrExcel(key string) (int64, error) {
	issue, err := r.store.GetIssueByRemoteKey(r.projectID, key)
	if err != nil {
		return 0, err
	}
	if issue != nil {
		return issue.ID, nil
	}
	if id, ok := r.excelKeys[key]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("no issue with key %s", key)
}

func (r *importRun) applyRelations(idx map[string]int, body [][]string) {
	bySrc := make(map[int64][]db.Relation)
	var order []int64
	for n, row := range body {
		rowNo := n + 2
		srcKey, _ := cellAt(row, idx, "src_jira_key")
		dstKey, _ := cellAt(row, idx, "dst_jira_key")
		relType, _ := cellAt(row, idx, "relation_type")
		if srcKey == "" || relType == "" {
			r.result.fail(SheetRelations, rowNo, fmt.Errorf("src_jira_key and relation_type are required"))
			continue
		}
		srcID, err := r.resolveByKeyOrExcel(srcKey)
		if err != nil {
			r.result.fail(SheetRelations, rowNo, err)
			continue
		}
		rel := db.Relation{SrcIssueID: srcID, RelationType: relType, DstJiraKey: dstKey}
		if dstID, err := r.resolveByKeyOrExcel(dstKey); err == nil {
			rel.DstIssueID = dstID
		}
		if _, seen := bySrc[srcID]; !seen {
			order = append(order, srcID)
		}
		bySrc[srcID] = append(bySrc[srcID], rel)
		r.result.Rows++
	}
	for _, srcID := range order {
		if err := r.store.ReplaceRelationsFor(srcID, bySrc[srcID]); err != nil {
			r.result.fail(SheetRelations, 0, err)
		}
	}
}

func (r *importRun) applyPlanLinks(idx map[string]int, body [][]string) {
	byPlan := make(map[int64][]db.PlanLink)
	var order []int64
	for n, row := range body {
		rowNo := n + 2
		planKey, _ := cellAt(row, idx, "testplan_jira_key")
		tcKey, _ := cellAt(row, idx, "testcase_jira_key")
		planID, err := r.resolveByKeyOrExcel(planKey)
		if err != nil {
			r.result.fail(SheetPlanTestcases, rowNo, err)
			continue
		}
		tcID, err := r.resolveByKeyOrExcel(tcKey)
		if err != nil {
			r.result.fail(SheetPlanTestcases, rowNo, err)
			continue
		}
		if _, seen := byPlan[planID]; !seen {
			order = append(order, planID)
		}
		byPlan[planID] = append(byPlan[planID], db.PlanLink{
			TestCaseID: tcID,
			OrderNo:    cellInt(row, idx, "order_no"),
		})
		r.result.Rows++
	}
	for _, planID := range order {
		if err := r.store.ReplaceTestPlanTestCases(planID, byPlan[planID]); err != nil {
			r.result.fail(SheetPlanTestcases, 0, err)
		}
	}
}

func (r *importRun) applyExecutions(idx map[string]int, body [][]string) {
	for n, row := range body {
		rowNo := n + 2
		key, _ := cellAt(row, idx, "testexecution_jira_key")
		issueID, err := r.resolveByKeyOrExcel(key)
		if err != nil {
			r.result.fail(SheetExecutions, rowNo, err)
			continue
		}
		exec := &db.TestExecution{IssueID: issueID}
		if existing, err := r.store.GetTestExecutionByIssue(issueID); err != nil {
			r.result.fail(SheetExecutions, rowNo, err)
			continue
		} else if existing != nil {
			exec = existing
		}
		exec.Environment, _ = cellAt(row, idx, "environment")
		exec.StartDate, _ = cellAt(row, idx, "start_date")
		exec.EndDate, _ = cellAt(row, idx, "end_date")
		exec.Result, _ = cellAt(row, idx, "result")
		exec.ExecutedBy, _ = cellAt(row, idx, "executed_by")
		if err := r.store.UpsertTestExecution(exec); err != nil {
			r.result.fail(SheetExecutions, rowNo, err)
			continue
		}
		r.result.Rows++
	}
}

// resolveExecution returns the execution header for an execution issue key,
// creating it when the TestExecutions sheet did not carry the row.
func (r *importRun) resolveExecution(key string) (*db.TestExecution, error) {
	issueID, err := r.resolveByKeyOrExcel(key)
	if err != nil {
		return nil, err
	}
	exec, err := r.store.GetTestExecutionByIssue(issueID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		exec = &db.TestExecution{IssueID: issueID}
		if err := r.store.UpsertTestExecution(exec); err != nil {
			return nil, err
		}
	}
	return exec, nil
}

func (r *importRun) applyTestcaseExecutions(idx map[string]int, body [][]string) {
	byExec := make(map[int64][]db.TestCaseExecution)
	var order []int64
	for n, row := range body {
		rowNo := n + 2
		execKey, _ := cellAt(row, idx, "testexecution_jira_key")
		tcKey, _ := cellAt(row, idx, "testcase_jira_key")
		exec, err := r.resolveExecution(execKey)
		if err != nil {
			r.result.fail(SheetTestcaseExecutions, rowNo, err)
			continue
		}
		tcID, err := r.resolveByKeyOrExcel(tcKey)
		if err != nil {
			r.result.fail(SheetTestcaseExecutions, rowNo, err)
			continue
		}
		assignee, _ := cellAt(row, idx, "assignee")
		resultCell, _ := cellAt(row, idx, "result")
		actualTime, _ := cellAt(row, idx, "actual_time")
		environment, _ := cellAt(row, idx, "environment")
		defects, _ := cellAt(row, idx, "defects")
		tceKey, _ := cellAt(row, idx, "tce_test_key")
		if _, seen := byExec[exec.ID]; !seen {
			order = append(order, exec.ID)
		}
		byExec[exec.ID] = append(byExec[exec.ID], db.TestCaseExecution{
			TestCaseID:  tcID,
			OrderNo:     cellInt(row, idx, "order_no"),
			Assignee:    assignee,
			Result:      resultCell,
			ActualTime:  actualTime,
			Environment: environment,
			Defects:     defects,
			TCETestKey:  tceKey,
		})
		r.result.Rows++
	}
	for _, execID := range order {
		if err := r.store.ReplaceTestCaseExecutions(execID, byExec[execID]); err != nil {
			r.result.fail(SheetTestcaseExecutions, 0, err)
		}
	}
}

func (r *importRun) applyStepExecutions(idx map[string]int, body [][]string) {
	type tceRef struct{ execID, tcID int64 }
	byTCE := make(map[int64][]db.StepExecution)
	var order []int64
	seenRef := make(map[tceRef]int64)

	for n, row := range body {
		rowNo := n + 2
		execKey, _ := cellAt(row, idx, "testexecution_jira_key")
		tcKey, _ := cellAt(row, idx, "testcase_jira_key")
		exec, err := r.resolveExecution(execKey)
		if err != nil {
			r.result.fail(SheetStepExecutions, rowNo, err)
			continue
		}
		tcID, err := r.resolveByKeyOrExcel(tcKey)
		if err != nil {
			r.result.fail(SheetStepExecutions, rowNo, err)
			continue
		}
		ref := tceRef{exec.ID, tcID}
		tceID, ok := seenRef[ref]
		if !ok {
			tce, err := r.store.GetTestCaseExecution(exec.ID, tcID)
			if err != nil {
				r.result.fail(SheetStepExecutions, rowNo, err)
				continue
			}
			if tce == nil {
				r.result.fail(SheetStepExecutions, rowNo,
					fmt.Errorf("test case %s has no run in execution %s", tcKey, execKey))
				continue
			}
			tceID = tce.ID
			seenRef[ref] = tceID
			order = append(order, tceID)
		}

		groupNo := cellInt(row, idx, "group_no")
		orderNo := cellInt(row, idx, "order_no")
		step, err := r.store.GetStepByPosition(tcID, groupNo, orderNo)
		if err != nil {
			r.result.fail(SheetStepExecutions, rowNo, err)
			continue
		}
		if step == nil {
			r.result.fail(SheetStepExecutions, rowNo,
				fmt.Errorf("test case %s has no step %d/%d", tcKey, groupNo, orderNo))
			continue
		}
		status, _ := cellAt(row, idx, "status")
		actualResult, _ := cellAt(row, idx, "actual_result")
		evidence, _ := cellAt(row, idx, "evidence")
		byTCE[tceID] = append(byTCE[tceID], db.StepExecution{
			StepID:       step.ID,
			GroupNo:      groupNo,
			OrderNo:      orderNo,
			Status:       status,
			ActualResult: actualResult,
			Evidence:     evidence,
		})
		r.result.Rows++
	}
	for _, tceID := range order {
		if err := r.store.ReplaceStepExecutions(tceID, byTCE[tceID]); err != nil {
			r.result.fail(SheetStepExecutions, 0, err)
		}
	}
}
