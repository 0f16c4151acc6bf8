package excel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/randalmurphal/rtmsync/internal/db"
)

func newExcelProject(t *testing.T, s *db.Store) int64 {
	t.Helper()
	p := &db.Project{ProjectKey: "PROJ", ProjectID: 41500, Name: "Test Project"}
	require.NoError(t, s.SaveProject(p))
	return p.ID
}

// sheetWriter builds small test workbooks.
type sheetWriter struct {
	t *testing.T
	f *excelize.File
}

func newWorkbook(t *testing.T) *sheetWriter {
	t.Helper()
	f := excelize.NewFile()
	t.Cleanup(func() { f.Close() })
	return &sheetWriter{t: t, f: f}
}

func (w *sheetWriter) sheet(name string, rows ...[]any) *sheetWriter {
	w.t.Helper()
	_, err := w.f.NewSheet(name)
	require.NoError(w.t, err)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(w.t, err)
		require.NoError(w.t, w.f.SetSheetRow(name, cell, &row))
	}
	return w
}

func TestImportCreatesIssueAndStepViaExcelKey(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	pid := newExcelProject(t, s)

	wb := newWorkbook(t).
		sheet(SheetIssues,
			[]any{"id", "excel_key", "jira_key", "issue_type", "summary"},
			[]any{"", "TC1", "", db.TypeTestCase, "Login works"},
		).
		sheet(SheetSteps,
			[]any{"issue_id", "issue_jira_key", "excel_key", "group_no", "order_no", "action", "input", "expected"},
			[]any{"", "", "TC1", 1, 1, "open login page", "", "form shown"},
		)

	im := &Importer{Store: s}
	res, err := im.ImportWorkbook(pid, wb.f)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 1, res.Issues)

	issues, err := s.ListIssues(pid, db.TypeTestCase)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	issue := issues[0]
	assert.Equal(t, "Login works", issue.Summary)
	assert.Equal(t, db.SyncDirty, issue.SyncStatus)
	assert.True(t, issue.LocalOnly)

	steps, err := s.ListSteps(issue.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "open login page", steps[0].Action)
	assert.Equal(t, "form shown", steps[0].Expected)
}

func TestImportUpdatesExistingByJiraKey(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	pid := newExcelProject(t, s)
	id, err := s.UpsertIssueByRemoteKey(pid, db.TypeRequirement, "PROJ-1", map[string]any{"summary": "old"})
	require.NoError(t, err)

	wb := newWorkbook(t).sheet(SheetIssues,
		[]any{"id", "excel_key", "jira_key", "issue_type", "summary", "priority"},
		[]any{"", "", "PROJ-1", db.TypeRequirement, "edited in sheet", "High"},
	)

	res, err := (&Importer{Store: s}).ImportWorkbook(pid, wb.f)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	issue, err := s.GetIssue(id)
	require.NoError(t, err)
	assert.Equal(t, "edited in sheet", issue.Summary)
	assert.Equal(t, "High", issue.Priority)
	assert.Equal(t, db.SyncDirty, issue.SyncStatus)
}

func TestImportResolvesFolderPath(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	pid := newExcelProject(t, s)

	wb := newWorkbook(t).sheet(SheetIssues,
		[]any{"id", "excel_key", "jira_key", "issue_type", "summary", "folder_path"},
		[]any{"", "TC1", "", db.TypeTestCase, "case", "Auth/Login"},
		[]any{"", "TC2", "", db.TypeTestCase, "case 2", "Auth/Login"},
	)

	res, err := (&Importer{Store: s}).ImportWorkbook(pid, wb.f)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	folders, err := s.ListFolders(pid)
	require.NoError(t, err)
	assert.Len(t, folders, 2)

	issues, err := s.ListIssues(pid, db.TypeTestCase)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.NotEmpty(t, issues[0].FolderID)
	assert.Equal(t, issues[0].FolderID, issues[1].FolderID)
}

func TestImportHeaderMappingOverride(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	pid := newExcelProject(t, s)

	wb := newWorkbook(t).sheet(SheetIssues,
		[]any{"ID", "Excel Key", "Key", "Type", "Title"},
		[]any{"", "", "", db.TypeDefect, "broken banner"},
	)

	im := &Importer{Store: s, Mapping: ColumnMapping{
		"id":         "ID",
		"excel_key":  "Excel Key",
		"jira_key":   "Key",
		"issue_type": "Type",
		"summary":    "Title",
	}}
	res, err := im.ImportWorkbook(pid, wb.f)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	issues, err := s.ListIssues(pid, db.TypeDefect)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "broken banner", issues[0].Summary)
}

func TestImportRowFailuresAreCollected(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	pid := newExcelProject(t, s)

	wb := newWorkbook(t).sheet(SheetIssues,
		[]any{"id", "excel_key", "jira_key", "issue_type", "summary"},
		[]any{"", "", "", "", "no type at all"},
		[]any{"", "OK1", "", db.TypeTestCase, "good row"},
	)

	res, err := (&Importer{Store: s}).ImportWorkbook(pid, wb.f)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, SheetIssues, res.Failures[0].Sheet)
	assert.Equal(t, 2, res.Failures[0].Row)
	assert.Equal(t, 1, res.Issues)
}

func TestImportStepExecutionsByPosition(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	pid := newExcelProject(t, s)

	tcID, err := s.UpsertIssueByRemoteKey(pid, db.TypeTestCase, "PROJ-10", map[string]any{"summary": "case"})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceSteps(tcID, []db.Step{
		{GroupNo: 1, Action: "open"},
		{GroupNo: 1, Action: "submit"},
	}))
	_, err = s.UpsertIssueByRemoteKey(pid, db.TypeTestExecution, "PROJ-20", map[string]any{"summary": "run"})
	require.NoError(t, err)

	wb := newWorkbook(t).
		sheet(SheetTestcaseExecutions,
			[]any{"testexecution_jira_key", "testcase_jira_key", "order_no", "result"},
			[]any{"PROJ-20", "PROJ-10", 1, "FAIL"},
		).
		sheet(SheetStepExecutions,
			[]any{"testexecution_jira_key", "testcase_jira_key", "group_no", "order_no", "status", "actual_result"},
			[]any{"PROJ-20", "PROJ-10", 1, 1, "PASS", ""},
			[]any{"PROJ-20", "PROJ-10", 1, 2, "FAIL", "error banner"},
		)

	res, err := (&Importer{Store: s}).ImportWorkbook(pid, wb.f)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	execIssue, err := s.GetIssueByRemoteKey(pid, "PROJ-20")
	require.NoError(t, err)
	exec, err := s.GetTestExecutionByIssue(execIssue.ID)
	require.NoError(t, err)
	require.NotNil(t, exec)

	tce, err := s.GetTestCaseExecution(exec.ID, tcID)
	require.NoError(t, err)
	require.NotNil(t, tce)
	assert.Equal(t, "FAIL", tce.Result)

	ses, err := s.ListStepExecutions(tce.ID)
	require.NoError(t, err)
	require.Len(t, ses, 2)
	assert.Equal(t, "FAIL", ses[1].Status)
	assert.Equal(t, "error banner", ses[1].ActualResult)
}

func TestImportProgressCallbackPanicsRecovered(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	pid := newExcelProject(t, s)

	wb := newWorkbook(t).sheet(SheetIssues,
		[]any{"id", "excel_key", "jira_key", "issue_type", "summary"},
		[]any{"", "TC1", "", db.TypeTestCase, "case"},
	)

	var calls int
	im := &Importer{Store: s, Progress: func(string, int, int) {
		calls++
		panic("ui crashed")
	}}
	res, err := im.ImportWorkbook(pid, wb.f)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Issues)
	assert.Equal(t, len(sheetOrder), calls)
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	pid := newExcelProject(t, s)

	tcID, err := s.UpsertIssueByRemoteKey(pid, db.TypeTestCase, "PROJ-10", map[string]any{
		"summary": "Login works", "priority": "High", "labels": "auth,smoke",
	})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceSteps(tcID, []db.Step{
		{Action: "open page", Expected: "form shown"},
	}))
	reqID, err := s.UpsertIssueByRemoteKey(pid, db.TypeRequirement, "PROJ-1", map[string]any{"summary": "req"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertRelation(&db.Relation{
		SrcIssueID: tcID, DstIssueID: reqID, RelationType: "Tests (out)", DstJiraKey: "PROJ-1",
	}))

	f, err := (&Exporter{Store: s}).Workbook(pid)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetIssues)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Re-importing our own export must not duplicate anything.
	res, err := (&Importer{Store: s}).ImportWorkbook(pid, f)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	issues, err := s.ListIssues(pid, "")
	require.NoError(t, err)
	assert.Len(t, issues, 2)

	steps, err := s.ListSteps(tcID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "open page", steps[0].Action)

	rels, err := s.ListRelations(pid)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}
