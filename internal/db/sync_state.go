package db

import (
	"database/sql"
	"fmt"
	"time"
)

// SyncState tracks when a project was last pulled from and pushed to the
// remote service.
type SyncState struct {
	ProjectID  int64
	LastPullAt *time.Time
	LastPushAt *time.Time
}

// GetSyncState retrieves the sync state of a project.
// Returns (nil, nil) if no sync has been recorded yet.
func (s *Store) GetSyncState(projectID int64) (*SyncState, error) {
	row := s.QueryRow(`
		SELECT project_id, last_pull_at, last_push_at
		FROM sync_state WHERE project_id = ?
	`, projectID)

	var st SyncState
	var lastPull, lastPush sql.NullString
	if err := row.Scan(&st.ProjectID, &lastPull, &lastPush); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	st.LastPullAt = parseSyncTime(lastPull)
	st.LastPushAt = parseSyncTime(lastPush)
	return &st, nil
}

// SetLastPull records a completed pull for a project.
func (s *Store) SetLastPull(projectID int64, at time.Time) error {
	_, err := s.Exec(`
		INSERT INTO sync_state (project_id, last_pull_at) VALUES (?, ?)
		ON CONFLICT(project_id) DO UPDATE SET last_pull_at = excluded.last_pull_at
	`, projectID, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set last pull: %w", err)
	}
	return nil
}

// SetLastPush records a completed push for a project.
func (s *Store) SetLastPush(projectID int64, at time.Time) error {
	_, err := s.Exec(`
		INSERT INTO sync_state (project_id, last_push_at) VALUES (?, ?)
		ON CONFLICT(project_id) DO UPDATE SET last_push_at = excluded.last_push_at
	`, projectID, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set last push: %w", err)
	}
	return nil
}

func parseSyncTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, v.String); err == nil {
			return &ts
		}
	}
	return nil
}
