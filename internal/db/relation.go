package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Relation links two issues. Stored once per (src, dst, type); the direction
// seen by a given issue is recovered at query time from which side it is on.
type Relation struct {
	ID           int64
	SrcIssueID   int64
	DstIssueID   int64  // 0 when the target only exists remotely
	RelationType string // e.g. "Relates (out)" as extracted from remote links
	DstJiraKey   string
	DstSummary   string
}

// RelationDirection is the side of a relation relative to a queried issue.
type RelationDirection string

const (
	DirectionOutward RelationDirection = "outward"
	DirectionInward  RelationDirection = "inward"
)

// RelationView is a relation as seen from one issue.
type RelationView struct {
	Relation
	Direction    RelationDirection
	OtherIssueID int64
}

// UpsertRelation creates a relation if the (src, dst, type) triple does not
// exist yet. Duplicate triples are ignored.
func (s *Store) UpsertRelation(r *Relation) error {
	if r.DstIssueID == 0 {
		// NULL dst rows never hit the unique index (NULLs compare
		// distinct), so remote-only targets are matched by key instead.
		res, err := s.Exec(`
			UPDATE relations SET dst_summary = ?
			WHERE src_issue_id = ? AND dst_issue_id IS NULL
			  AND relation_type = ? AND dst_jira_key = ?
		`, r.DstSummary, r.SrcIssueID, r.RelationType, r.DstJiraKey)
		if err != nil {
			return fmt.Errorf("upsert relation: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
		_, err = s.Exec(`
			INSERT INTO relations (src_issue_id, dst_issue_id, relation_type, dst_jira_key, dst_summary)
			VALUES (?, NULL, ?, ?, ?)
		`, r.SrcIssueID, r.RelationType, r.DstJiraKey, r.DstSummary)
		if err != nil {
			return fmt.Errorf("upsert relation: %w", err)
		}
		return nil
	}

	_, err := s.Exec(`
		INSERT INTO relations (src_issue_id, dst_issue_id, relation_type, dst_jira_key, dst_summary)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(src_issue_id, dst_issue_id, relation_type) DO UPDATE SET
			dst_jira_key = excluded.dst_jira_key,
			dst_summary = excluded.dst_summary
	`, r.SrcIssueID, r.DstIssueID, r.RelationType, r.DstJiraKey, r.DstSummary)
	if err != nil {
		return fmt.Errorf("upsert relation: %w", err)
	}
	return nil
}

// ListRelationsFor returns every relation touching the given issue, with the
// direction and the other endpoint resolved from the issue's side.
func (s *Store) ListRelationsFor(issueID int64) ([]RelationView, error) {
	rows, err := s.Query(`
		SELECT id, src_issue_id, dst_issue_id, relation_type, dst_jira_key, dst_summary
		FROM relations
		WHERE src_issue_id = ? OR dst_issue_id = ?
		ORDER BY id
	`, issueID, issueID)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	var views []RelationView
	for rows.Next() {
		var v RelationView
		var dstID sql.NullInt64
		var dstKey, dstSummary sql.NullString
		if err := rows.Scan(&v.ID, &v.SrcIssueID, &dstID, &v.RelationType, &dstKey, &dstSummary); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		v.DstIssueID = dstID.Int64
		v.DstJiraKey = dstKey.String
		v.DstSummary = dstSummary.String

		if v.SrcIssueID == issueID {
			v.Direction = DirectionOutward
			v.OtherIssueID = v.DstIssueID
		} else {
			v.Direction = DirectionInward
			v.OtherIssueID = v.SrcIssueID
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}

	return views, nil
}

// ListRelations returns all relations whose source issue belongs to the
// project. Used by the spreadsheet export.
func (s *Store) ListRelations(projectID int64) ([]Relation, error) {
	rows, err := s.Query(`
		SELECT r.id, r.src_issue_id, r.dst_issue_id, r.relation_type, r.dst_jira_key, r.dst_summary
		FROM relations r
		JOIN issues i ON i.id = r.src_issue_id
		WHERE i.project_id = ?
		ORDER BY r.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	var relations []Relation
	for rows.Next() {
		var r Relation
		var dstID sql.NullInt64
		var dstKey, dstSummary sql.NullString
		if err := rows.Scan(&r.ID, &r.SrcIssueID, &dstID, &r.RelationType, &dstKey, &dstSummary); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		r.DstIssueID = dstID.Int64
		r.DstJiraKey = dstKey.String
		r.DstSummary = dstSummary.String
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}

	return relations, nil
}

// DeleteRelation removes one relation row.
func (s *Store) DeleteRelation(id int64) error {
	_, err := s.Exec("DELETE FROM relations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete relation: %w", err)
	}
	return nil
}

// ReplaceRelationsFor replaces all outgoing relations of an issue
// (overwrite-all semantics, used by the spreadsheet import).
func (s *Store) ReplaceRelationsFor(srcIssueID int64, relations []Relation) error {
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec("DELETE FROM relations WHERE src_issue_id = ?", srcIssueID); err != nil {
			return fmt.Errorf("clear relations for issue %d: %w", srcIssueID, err)
		}
		for _, r := range relations {
			var dst any
			if r.DstIssueID != 0 {
				dst = r.DstIssueID
			}
			if _, err := tx.Exec(`
				INSERT INTO relations (src_issue_id, dst_issue_id, relation_type, dst_jira_key, dst_summary)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, srcIssueID, dst, r.RelationType, r.DstJiraKey, r.DstSummary); err != nil {
				return fmt.Errorf("insert relation for issue %d: %w", srcIssueID, err)
			}
		}
		return nil
	})
}
