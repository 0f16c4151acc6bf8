// Package excel bridges the local store and xlsx workbooks. Export writes
// one sheet per entity family; import reads them back with overwrite-all
// semantics for child sheets.
package excel

// Sheet names in processing order. Issues must come first so the identity
// map exists before child sheets reference it.
const (
	SheetIssues             = "Issues"
	SheetSteps              = "TestcaseSteps"
	SheetRelations          = "Relations"
	SheetPlanTestcases      = "TestPlanTestcases"
	SheetExecutions         = "TestExecutions"
	SheetTestcaseExecutions = "TestcaseExecutions"
	SheetStepExecutions     = "TestcaseStepExecutions"
)

var sheetOrder = []string{
	SheetIssues,
	SheetSteps,
	SheetRelations,
	SheetPlanTestcases,
	SheetExecutions,
	SheetTestcaseExecutions,
	SheetStepExecutions,
}

// sheetColumns lists the logical column names per sheet, in export order.
var sheetColumns = map[string][]string{
	SheetIssues: {
		"id", "excel_key", "jira_key", "issue_type", "summary", "description",
		"status", "priority", "assignee", "labels", "components",
		"environment", "due_date", "preconditions", "folder_path", "sync_status",
	},
	SheetSteps: {
		"issue_id", "issue_jira_key", "excel_key",
		"group_no", "order_no", "action", "input", "expected",
	},
	SheetRelations: {
		"src_jira_key", "dst_jira_key", "relation_type",
	},
	SheetPlanTestcases: {
		"testplan_jira_key", "testcase_jira_key", "order_no",
	},
	SheetExecutions: {
		"testexecution_jira_key", "environment", "start_date", "end_date",
		"result", "executed_by",
	},
	SheetTestcaseExecutions: {
		"testexecution_jira_key", "testcase_jira_key", "order_no", "assignee",
		"result", "actual_time", "environment", "defects", "tce_test_key",
	},
	SheetStepExecutions: {
		"testexecution_jira_key", "testcase_jira_key",
		"group_no", "order_no", "status", "actual_result", "evidence",
	},
}

// ColumnMapping renames logical columns to workbook headers. Unmapped
// logical names use the logical name itself as the header.
type ColumnMapping map[string]string

// Header returns the workbook header for a logical column name.
func (m ColumnMapping) Header(logical string) string {
	if h, ok := m[logical]; ok && h != "" {
		return h
	}
	return logical
}

// headerIndex maps logical column names to zero-based column positions in
// the given header row. Logical columns absent from the row are omitted.
func (m ColumnMapping) headerIndex(sheet string, headerRow []string) map[string]int {
	byHeader := make(map[string]int, len(headerRow))
	for i, h := range headerRow {
		if h != "" {
			byHeader[h] = i
		}
	}
	idx := make(map[string]int)
	for _, logical := range sheetColumns[sheet] {
		if i, ok := byHeader[m.Header(logical)]; ok {
			idx[logical] = i
		}
	}
	return idx
}
