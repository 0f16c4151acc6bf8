package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Step is one test-case step. (group_no, order_no) is unique within an
// issue; ordering is significant.
type Step struct {
	ID       int64
	IssueID  int64
	GroupNo  int
	OrderNo  int
	Action   string
	Input    string
	Expected string
}

// ReplaceSteps replaces all steps of a test case with the given list
// (overwrite-all semantics). Steps are renumbered contiguously per group in
// the order given, so callers may pass sparse or duplicated order numbers.
// Runs in a single transaction.
func (s *Store) ReplaceSteps(issueID int64, steps []Step) error {
	renumbered := renumberSteps(steps)

	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec("DELETE FROM testcase_steps WHERE issue_id = ?", issueID); err != nil {
			return fmt.Errorf("clear steps for issue %d: %w", issueID, err)
		}
		for _, st := range renumbered {
			if _, err := tx.Exec(`
				INSERT INTO testcase_steps (issue_id, group_no, order_no, action, input, expected)
				VALUES (?, ?, ?, ?, ?, ?)
			`, issueID, st.GroupNo, st.OrderNo, st.Action, st.Input, st.Expected); err != nil {
				return fmt.Errorf("insert step %d/%d for issue %d: %w", st.GroupNo, st.OrderNo, issueID, err)
			}
		}
		return nil
	})
}

// ListSteps returns the steps of a test case ordered by group and order.
func (s *Store) ListSteps(issueID int64) ([]Step, error) {
	rows, err := s.Query(`
		SELECT id, issue_id, group_no, order_no, action, input, expected
		FROM testcase_steps WHERE issue_id = ?
		ORDER BY group_no, order_no
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		var action, input, expected sql.NullString
		if err := rows.Scan(&st.ID, &st.IssueID, &st.GroupNo, &st.OrderNo, &action, &input, &expected); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Action = action.String
		st.Input = input.String
		st.Expected = expected.String
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}

	return steps, nil
}

// GetStepByPosition resolves a step by its (group_no, order_no) position
// within a test case. Returns (nil, nil) when absent.
func (s *Store) GetStepByPosition(issueID int64, groupNo, orderNo int) (*Step, error) {
	steps, err := s.ListSteps(issueID)
	if err != nil {
		return nil, err
	}
	for i := range steps {
		if steps[i].GroupNo == groupNo && steps[i].OrderNo == orderNo {
			return &steps[i], nil
		}
	}
	return nil, nil
}

// renumberSteps assigns contiguous order numbers per group, preserving the
// relative order of the input within each group. Groups default to 1.
func renumberSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)

	groups := make(map[int][]int) // group -> indexes in out, input order
	for i := range out {
		if out[i].GroupNo <= 0 {
			out[i].GroupNo = 1
		}
		groups[out[i].GroupNo] = append(groups[out[i].GroupNo], i)
	}

	groupNos := make([]int, 0, len(groups))
	for g := range groups {
		groupNos = append(groupNos, g)
	}
	sort.Ints(groupNos)

	for _, g := range groupNos {
		for n, idx := range groups[g] {
			out[idx].OrderNo = n + 1
		}
	}
	return out
}
