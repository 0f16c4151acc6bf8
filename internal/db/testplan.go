package db

import (
	"context"
	"fmt"
)

// PlanLink attaches a test case to a test plan with an execution order.
type PlanLink struct {
	ID         int64
	TestPlanID int64
	TestCaseID int64
	OrderNo    int
}

// ReplaceTestPlanTestCases replaces all test-case links of a plan with the
// given list (overwrite-all semantics), preserving the order given.
func (s *Store) ReplaceTestPlanTestCases(testPlanID int64, links []PlanLink) error {
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec("DELETE FROM testplan_testcases WHERE testplan_id = ?", testPlanID); err != nil {
			return fmt.Errorf("clear plan links for plan %d: %w", testPlanID, err)
		}
		for n, link := range links {
			order := link.OrderNo
			if order == 0 {
				order = n + 1
			}
			if _, err := tx.Exec(`
				INSERT INTO testplan_testcases (testplan_id, testcase_id, order_no)
				VALUES (?, ?, ?)
				ON CONFLICT(testplan_id, testcase_id) DO UPDATE SET order_no = excluded.order_no
			`, testPlanID, link.TestCaseID, order); err != nil {
				return fmt.Errorf("insert plan link %d -> %d: %w", testPlanID, link.TestCaseID, err)
			}
		}
		return nil
	})
}

// ListTestPlanTestCases returns the test-case links of a plan in order.
func (s *Store) ListTestPlanTestCases(testPlanID int64) ([]PlanLink, error) {
	rows, err := s.Query(`
		SELECT id, testplan_id, testcase_id, order_no
		FROM testplan_testcases WHERE testplan_id = ?
		ORDER BY order_no, id
	`, testPlanID)
	if err != nil {
		return nil, fmt.Errorf("list plan links: %w", err)
	}
	defer rows.Close()

	var links []PlanLink
	for rows.Next() {
		var l PlanLink
		if err := rows.Scan(&l.ID, &l.TestPlanID, &l.TestCaseID, &l.OrderNo); err != nil {
			return nil, fmt.Errorf("scan plan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan links: %w", err)
	}

	return links, nil
}

// ListAllTestPlanTestCases returns every plan link of a project, for export.
func (s *Store) ListAllTestPlanTestCases(projectID int64) ([]PlanLink, error) {
	rows, err := s.Query(`
		SELECT t.id, t.testplan_id, t.testcase_id, t.order_no
		FROM testplan_testcases t
		JOIN issues i ON i.id = t.testplan_id
		WHERE i.project_id = ?
		ORDER BY t.testplan_id, t.order_no, t.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list plan links: %w", err)
	}
	defer rows.Close()

	var links []PlanLink
	for rows.Next() {
		var l PlanLink
		if err := rows.Scan(&l.ID, &l.TestPlanID, &l.TestCaseID, &l.OrderNo); err != nil {
			return nil, fmt.Errorf("scan plan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan links: %w", err)
	}

	return links, nil
}
