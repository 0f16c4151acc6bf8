package db

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entity types handled by the store. These mirror the remote tracker's
// test-management issue types.
const (
	TypeRequirement   = "REQUIREMENT"
	TypeTestCase      = "TEST_CASE"
	TypeTestPlan      = "TEST_PLAN"
	TypeTestExecution = "TEST_EXECUTION"
	TypeDefect        = "DEFECT"
)

// Sync states for an issue. An issue with no remote key stays dirty until a
// push assigns one.
const (
	SyncDirty = "dirty"
	SyncClean = "clean"
)

// Issue is one locally mirrored issue row.
// Remote timestamps and dates are kept as the strings the service returned.
type Issue struct {
	ID              int64
	ProjectID       int64
	JiraKey         string
	JiraID          string
	IssueType       string
	Summary         string
	Description     string
	Status          string
	Priority        string
	Assignee        string
	Reporter        string
	Labels          string
	Components      string
	SecurityLevel   string
	FixVersions     string
	AffectsVersions string
	Environment     string
	DueDate         string
	CreatedAt       string
	UpdatedAt       string
	Attachments     string // JSON array as returned by the remote service
	EpicLink        string
	Sprint          string
	Preconditions   string
	LocalActivity   string
	FolderID        string
	ParentIssueID   int64
	IsDeleted       bool
	LocalOnly       bool
	SyncStatus      string
	LastSyncedAt    *time.Time
}

const issueColumns = `id, project_id, jira_key, jira_id, issue_type, summary, description,
	status, priority, assignee, reporter, labels, components, security_level,
	fix_versions, affects_versions, environment, due_date, created_at, updated_at,
	attachments, epic_link, sprint, preconditions, local_activity,
	folder_id, parent_issue_id, is_deleted, local_only, sync_status, last_synced_at`

// issueFieldColumns is the allow-list of columns addressable through the
// partial-update field maps used by the mapping layer and spreadsheet bridge.
var issueFieldColumns = map[string]bool{
	"jira_id":          true,
	"summary":          true,
	"description":      true,
	"status":           true,
	"priority":         true,
	"assignee":         true,
	"reporter":         true,
	"labels":           true,
	"components":       true,
	"security_level":   true,
	"fix_versions":     true,
	"affects_versions": true,
	"environment":      true,
	"due_date":         true,
	"created_at":       true,
	"updated_at":       true,
	"attachments":      true,
	"epic_link":        true,
	"sprint":           true,
	"preconditions":    true,
	"local_activity":   true,
	"folder_id":        true,
	"parent_issue_id":  true,
}

// sortedFieldNames returns the field map keys in deterministic order,
// dropping anything not in the column allow-list.
func sortedFieldNames(fields map[string]any) ([]string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		if !issueFieldColumns[name] {
			return nil, fmt.Errorf("unknown issue field %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateLocalIssue inserts a new issue that does not exist remotely.
// The row is created local_only and dirty; a later push assigns the remote key.
func (s *Store) CreateLocalIssue(issue *Issue) (int64, error) {
	if issue.IssueType == "" {
		return 0, fmt.Errorf("create local issue: issue_type is required")
	}

	var jiraKey, folderID any
	if issue.JiraKey != "" {
		jiraKey = issue.JiraKey
	}
	if issue.FolderID != "" {
		folderID = issue.FolderID
	}
	var parentID any
	if issue.ParentIssueID != 0 {
		parentID = issue.ParentIssueID
	}

	res, err := s.Exec(`
		INSERT INTO issues (project_id, jira_key, issue_type, summary, description,
			status, priority, assignee, labels, components, environment, due_date,
			preconditions, folder_id, parent_issue_id, local_only, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`, issue.ProjectID, jiraKey, issue.IssueType, issue.Summary, issue.Description,
		issue.Status, issue.Priority, issue.Assignee, issue.Labels, issue.Components,
		issue.Environment, issue.DueDate, issue.Preconditions, folderID, parentID, SyncDirty)
	if err != nil {
		return 0, fmt.Errorf("create local issue: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create local issue id: %w", err)
	}
	issue.ID = id
	issue.LocalOnly = true
	issue.SyncStatus = SyncDirty
	return id, nil
}

// UpsertIssueByRemoteKey creates or updates an issue identified by
// (project, remote key), applying only the columns present in fields.
// Rows written through this path reflect remote state: they come out clean
// with last_synced_at set. The UNIQUE(project_id, jira_key) constraint makes
// the operation atomic; concurrent upserts of the same key cannot duplicate.
func (s *Store) UpsertIssueByRemoteKey(projectID int64, issueType, key string, fields map[string]any) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("upsert issue: remote key is required")
	}

	names, err := sortedFieldNames(fields)
	if err != nil {
		return 0, fmt.Errorf("upsert issue %s: %w", key, err)
	}

	cols := []string{"project_id", "jira_key", "issue_type", "local_only", "sync_status", "last_synced_at"}
	placeholders := []string{"?", "?", "?", "0", "?", s.Now()}
	args := []any{projectID, key, issueType, SyncClean}
	for _, name := range names {
		cols = append(cols, name)
		placeholders = append(placeholders, "?")
		args = append(args, fields[name])
	}

	sets := []string{
		"issue_type = excluded.issue_type",
		"local_only = 0",
		"sync_status = excluded.sync_status",
		"last_synced_at = excluded.last_synced_at",
	}
	for _, name := range names {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", name, name))
	}

	query := fmt.Sprintf(`
		INSERT INTO issues (%s) VALUES (%s)
		ON CONFLICT(project_id, jira_key) DO UPDATE SET %s
	`, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))

	if _, err := s.Exec(query, args...); err != nil {
		return 0, fmt.Errorf("upsert issue %s: %w", key, err)
	}

	var id int64
	if err := s.QueryRow(
		"SELECT id FROM issues WHERE project_id = ? AND jira_key = ?", projectID, key,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert issue %s: resolve id: %w", key, err)
	}
	return id, nil
}

// UpdateIssueFields applies a partial local edit and marks the issue dirty.
func (s *Store) UpdateIssueFields(id int64, fields map[string]any) error {
	names, err := sortedFieldNames(fields)
	if err != nil {
		return fmt.Errorf("update issue %d: %w", id, err)
	}
	if len(names) == 0 {
		return nil
	}

	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		sets = append(sets, name+" = ?")
		args = append(args, fields[name])
	}
	sets = append(sets, "sync_status = ?")
	args = append(args, SyncDirty)
	args = append(args, id)

	res, err := s.Exec("UPDATE issues SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update issue %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update issue %d: no such issue", id)
	}
	return nil
}

// MarkDirty flags an issue as locally modified.
func (s *Store) MarkDirty(id int64) error {
	_, err := s.Exec("UPDATE issues SET sync_status = ? WHERE id = ?", SyncDirty, id)
	if err != nil {
		return fmt.Errorf("mark dirty %d: %w", id, err)
	}
	return nil
}

// MarkClean records a successful sync for an issue. When remoteKey is
// non-empty the key is written as well (push assigned a key to a local-only
// issue) and the local_only flag drops.
func (s *Store) MarkClean(id int64, remoteKey string) error {
	var err error
	if remoteKey != "" {
		_, err = s.Exec(fmt.Sprintf(`
			UPDATE issues SET jira_key = ?, local_only = 0, sync_status = ?, last_synced_at = %s
			WHERE id = ?
		`, s.Now()), remoteKey, SyncClean, id)
	} else {
		_, err = s.Exec(fmt.Sprintf(`
			UPDATE issues SET sync_status = ?, last_synced_at = %s
			WHERE id = ?
		`, s.Now()), SyncClean, id)
	}
	if err != nil {
		return fmt.Errorf("mark clean %d: %w", id, err)
	}
	return nil
}

// GetIssue retrieves an issue by local id. Returns (nil, nil) when absent.
func (s *Store) GetIssue(id int64) (*Issue, error) {
	row := s.QueryRow("SELECT "+issueColumns+" FROM issues WHERE id = ?", id)
	issue, err := scanIssueRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get issue %d: %w", id, err)
	}
	return issue, nil
}

// GetIssueByRemoteKey retrieves an issue by (project, remote key).
// Returns (nil, nil) when absent.
func (s *Store) GetIssueByRemoteKey(projectID int64, key string) (*Issue, error) {
	row := s.QueryRow(
		"SELECT "+issueColumns+" FROM issues WHERE project_id = ? AND jira_key = ?",
		projectID, key)
	issue, err := scanIssueRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	return issue, nil
}

// ListDirtyIssues returns all non-deleted dirty issues of a project,
// local-only rows first so creates precede updates during a push.
func (s *Store) ListDirtyIssues(projectID int64) ([]Issue, error) {
	return s.listIssues(`
		SELECT `+issueColumns+` FROM issues
		WHERE project_id = ? AND sync_status = ? AND is_deleted = 0
		ORDER BY local_only DESC, id
	`, projectID, SyncDirty)
}

// ListIssues returns all non-deleted issues of a project, optionally
// filtered by issue type.
func (s *Store) ListIssues(projectID int64, issueType string) ([]Issue, error) {
	if issueType != "" {
		return s.listIssues(`
			SELECT `+issueColumns+` FROM issues
			WHERE project_id = ? AND issue_type = ? AND is_deleted = 0
			ORDER BY id
		`, projectID, issueType)
	}
	return s.listIssues(`
		SELECT `+issueColumns+` FROM issues
		WHERE project_id = ? AND is_deleted = 0
		ORDER BY id
	`, projectID)
}

// SoftDeleteIssue marks an issue deleted without removing the row.
func (s *Store) SoftDeleteIssue(id int64) error {
	_, err := s.Exec("UPDATE issues SET is_deleted = 1, sync_status = ? WHERE id = ?", SyncDirty, id)
	if err != nil {
		return fmt.Errorf("soft delete issue %d: %w", id, err)
	}
	return nil
}

// PurgeIssue hard-deletes an issue and, via cascade, its steps, relations,
// plan links and executions.
func (s *Store) PurgeIssue(id int64) error {
	_, err := s.Exec("DELETE FROM issues WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("purge issue %d: %w", id, err)
	}
	return nil
}

func (s *Store) listIssues(query string, args ...any) ([]Issue, error) {
	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		issue, err := scanIssueRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}

	return issues, nil
}

// scanIssueRow scans one issue row from either a Row or Rows scan function.
func scanIssueRow(scan func(dest ...any) error) (*Issue, error) {
	var i Issue
	var jiraKey, jiraID, description, status, priority, assignee, reporter sql.NullString
	var labels, components, securityLevel, fixVersions, affectsVersions sql.NullString
	var environment, dueDate, createdAt, updatedAt, attachments sql.NullString
	var epicLink, sprint, preconditions, localActivity sql.NullString
	var folderID, lastSyncedAt sql.NullString
	var parentIssueID sql.NullInt64
	var isDeleted, localOnly int

	if err := scan(&i.ID, &i.ProjectID, &jiraKey, &jiraID, &i.IssueType, &i.Summary, &description,
		&status, &priority, &assignee, &reporter, &labels, &components, &securityLevel,
		&fixVersions, &affectsVersions, &environment, &dueDate, &createdAt, &updatedAt,
		&attachments, &epicLink, &sprint, &preconditions, &localActivity,
		&folderID, &parentIssueID, &isDeleted, &localOnly, &i.SyncStatus, &lastSyncedAt); err != nil {
		return nil, err
	}

	i.JiraKey = jiraKey.String
	i.JiraID = jiraID.String
	i.Description = description.String
	i.Status = status.String
	i.Priority = priority.String
	i.Assignee = assignee.String
	i.Reporter = reporter.String
	i.Labels = labels.String
	i.Components = components.String
	i.SecurityLevel = securityLevel.String
	i.FixVersions = fixVersions.String
	i.AffectsVersions = affectsVersions.String
	i.Environment = environment.String
	i.DueDate = dueDate.String
	i.CreatedAt = createdAt.String
	i.UpdatedAt = updatedAt.String
	i.Attachments = attachments.String
	i.EpicLink = epicLink.String
	i.Sprint = sprint.String
	i.Preconditions = preconditions.String
	i.LocalActivity = localActivity.String
	i.FolderID = folderID.String
	i.ParentIssueID = parentIssueID.Int64
	i.IsDeleted = isDeleted == 1
	i.LocalOnly = localOnly == 1

	if lastSyncedAt.Valid {
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, lastSyncedAt.String); err == nil {
				i.LastSyncedAt = &ts
				break
			}
		}
	}

	return &i, nil
}
