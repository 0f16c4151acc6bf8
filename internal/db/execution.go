package db

import (
	"context"
	"database/sql"
	"fmt"
)

// TestExecution carries the execution header for a TEST_EXECUTION issue
// (one-to-one with the issue row).
type TestExecution struct {
	ID          int64
	IssueID     int64
	Environment string
	StartDate   string
	EndDate     string
	Result      string
	ExecutedBy  string
}

// TestCaseExecution is one test case's run inside a test execution.
type TestCaseExecution struct {
	ID              int64
	TestExecutionID int64
	TestCaseID      int64
	OrderNo         int
	Assignee        string
	Result          string
	ActualTime      string
	Environment     string
	Defects         string // comma-joined remote defect keys
	TCETestKey      string // remote test-case-execution key, when known
}

// StepExecution records the outcome of one step within a test case execution.
type StepExecution struct {
	ID                  int64
	TestCaseExecutionID int64
	StepID              int64
	GroupNo             int
	OrderNo             int
	Status              string
	ActualResult        string
	Evidence            string
}

// UpsertTestExecution creates or updates the execution header of an issue.
func (s *Store) UpsertTestExecution(e *TestExecution) error {
	_, err := s.Exec(`
		INSERT INTO testexecutions (issue_id, environment, start_date, end_date, result, executed_by)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_id) DO UPDATE SET
			environment = excluded.environment,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			result = excluded.result,
			executed_by = excluded.executed_by
	`, e.IssueID, e.Environment, e.StartDate, e.EndDate, e.Result, e.ExecutedBy)
	if err != nil {
		return fmt.Errorf("upsert test execution for issue %d: %w", e.IssueID, err)
	}

	if e.ID == 0 {
		if err := s.QueryRow("SELECT id FROM testexecutions WHERE issue_id = ?", e.IssueID).Scan(&e.ID); err != nil {
			return fmt.Errorf("resolve test execution id: %w", err)
		}
	}
	return nil
}

// GetTestExecutionByIssue returns the execution header of a TEST_EXECUTION
// issue. Returns (nil, nil) when absent.
func (s *Store) GetTestExecutionByIssue(issueID int64) (*TestExecution, error) {
	row := s.QueryRow(`
		SELECT id, issue_id, environment, start_date, end_date, result, executed_by
		FROM testexecutions WHERE issue_id = ?
	`, issueID)

	var e TestExecution
	var environment, startDate, endDate, result, executedBy sql.NullString
	if err := row.Scan(&e.ID, &e.IssueID, &environment, &startDate, &endDate, &result, &executedBy); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get test execution for issue %d: %w", issueID, err)
	}
	e.Environment = environment.String
	e.StartDate = startDate.String
	e.EndDate = endDate.String
	e.Result = result.String
	e.ExecutedBy = executedBy.String
	return &e, nil
}

// ListTestExecutions returns the execution headers of a project.
func (s *Store) ListTestExecutions(projectID int64) ([]TestExecution, error) {
	rows, err := s.Query(`
		SELECT t.id, t.issue_id, t.environment, t.start_date, t.end_date, t.result, t.executed_by
		FROM testexecutions t
		JOIN issues i ON i.id = t.issue_id
		WHERE i.project_id = ?
		ORDER BY t.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list test executions: %w", err)
	}
	defer rows.Close()

	var executions []TestExecution
	for rows.Next() {
		var e TestExecution
		var environment, startDate, endDate, result, executedBy sql.NullString
		if err := rows.Scan(&e.ID, &e.IssueID, &environment, &startDate, &endDate, &result, &executedBy); err != nil {
			return nil, fmt.Errorf("scan test execution: %w", err)
		}
		e.Environment = environment.String
		e.StartDate = startDate.String
		e.EndDate = endDate.String
		e.Result = result.String
		e.ExecutedBy = executedBy.String
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test executions: %w", err)
	}

	return executions, nil
}

// ReplaceTestCaseExecutions replaces all test-case runs of a test execution
// (overwrite-all semantics).
func (s *Store) ReplaceTestCaseExecutions(testExecutionID int64, tces []TestCaseExecution) error {
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec("DELETE FROM testcase_executions WHERE testexecution_id = ?", testExecutionID); err != nil {
			return fmt.Errorf("clear testcase executions for %d: %w", testExecutionID, err)
		}
		for n, tce := range tces {
			order := tce.OrderNo
			if order == 0 {
				order = n + 1
			}
			if _, err := tx.Exec(`
				INSERT INTO testcase_executions (testexecution_id, testcase_id, order_no,
					assignee, result, actual_time, environment, defects, tce_test_key)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(testexecution_id, testcase_id) DO UPDATE SET
					order_no = excluded.order_no,
					assignee = excluded.assignee,
					result = excluded.result,
					actual_time = excluded.actual_time,
					environment = excluded.environment,
					defects = excluded.defects,
					tce_test_key = excluded.tce_test_key
			`, testExecutionID, tce.TestCaseID, order, tce.Assignee, tce.Result,
				tce.ActualTime, tce.Environment, tce.Defects, tce.TCETestKey); err != nil {
				return fmt.Errorf("insert testcase execution %d -> %d: %w", testExecutionID, tce.TestCaseID, err)
			}
		}
		return nil
	})
}

// ListTestCaseExecutions returns the test-case runs of a test execution in order.
func (s *Store) ListTestCaseExecutions(testExecutionID int64) ([]TestCaseExecution, error) {
	rows, err := s.Query(`
		SELECT id, testexecution_id, testcase_id, order_no, assignee, result,
			actual_time, environment, defects, tce_test_key
		FROM testcase_executions WHERE testexecution_id = ?
		ORDER BY order_no, id
	`, testExecutionID)
	if err != nil {
		return nil, fmt.Errorf("list testcase executions: %w", err)
	}
	defer rows.Close()

	var tces []TestCaseExecution
	for rows.Next() {
		tce, err := scanTestCaseExecution(rows)
		if err != nil {
			return nil, err
		}
		tces = append(tces, *tce)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate testcase executions: %w", err)
	}

	return tces, nil
}

// GetTestCaseExecution resolves one test case's run within an execution.
// Returns (nil, nil) when absent.
func (s *Store) GetTestCaseExecution(testExecutionID, testCaseID int64) (*TestCaseExecution, error) {
	tces, err := s.ListTestCaseExecutions(testExecutionID)
	if err != nil {
		return nil, err
	}
	for i := range tces {
		if tces[i].TestCaseID == testCaseID {
			return &tces[i], nil
		}
	}
	return nil, nil
}

// ReplaceStepExecutions replaces all step outcomes of a test case execution
// (overwrite-all semantics).
func (s *Store) ReplaceStepExecutions(tceID int64, steps []StepExecution) error {
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec("DELETE FROM testcase_step_executions WHERE testcase_execution_id = ?", tceID); err != nil {
			return fmt.Errorf("clear step executions for %d: %w", tceID, err)
		}
		for _, se := range steps {
			if _, err := tx.Exec(`
				INSERT INTO testcase_step_executions (testcase_execution_id, step_id,
					group_no, order_no, status, actual_result, evidence)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(testcase_execution_id, step_id) DO UPDATE SET
					group_no = excluded.group_no,
					order_no = excluded.order_no,
					status = excluded.status,
					actual_result = excluded.actual_result,
					evidence = excluded.evidence
			`, tceID, se.StepID, se.GroupNo, se.OrderNo, se.Status, se.ActualResult, se.Evidence); err != nil {
				return fmt.Errorf("insert step execution for tce %d step %d: %w", tceID, se.StepID, err)
			}
		}
		return nil
	})
}

// ListStepExecutions returns the step outcomes of a test case execution.
func (s *Store) ListStepExecutions(tceID int64) ([]StepExecution, error) {
	rows, err := s.Query(`
		SELECT id, testcase_execution_id, step_id, group_no, order_no, status, actual_result, evidence
		FROM testcase_step_executions WHERE testcase_execution_id = ?
		ORDER BY group_no, order_no, id
	`, tceID)
	if err != nil {
		return nil, fmt.Errorf("list step executions: %w", err)
	}
	defer rows.Close()

	var steps []StepExecution
	for rows.Next() {
		var se StepExecution
		var status, actualResult, evidence sql.NullString
		if err := rows.Scan(&se.ID, &se.TestCaseExecutionID, &se.StepID, &se.GroupNo, &se.OrderNo,
			&status, &actualResult, &evidence); err != nil {
			return nil, fmt.Errorf("scan step execution: %w", err)
		}
		se.Status = status.String
		se.ActualResult = actualResult.String
		se.Evidence = evidence.String
		steps = append(steps, se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step executions: %w", err)
	}

	return steps, nil
}

func scanTestCaseExecution(rows *sql.Rows) (*TestCaseExecution, error) {
	var tce TestCaseExecution
	var assignee, result, actualTime, environment, defects, tceKey sql.NullString
	if err := rows.Scan(&tce.ID, &tce.TestExecutionID, &tce.TestCaseID, &tce.OrderNo,
		&assignee, &result, &actualTime, &environment, &defects, &tceKey); err != nil {
		return nil, fmt.Errorf("scan testcase execution: %w", err)
	}
	tce.Assignee = assignee.String
	tce.Result = result.String
	tce.ActualTime = actualTime.String
	tce.Environment = environment.String
	tce.Defects = defects.String
	tce.TCETestKey = tceKey.String
	return &tce, nil
}
