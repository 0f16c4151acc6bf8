package db

import (
	"database/sql"
	"fmt"
)

// Project represents a remote project context mirrored locally.
type Project struct {
	ID         int64
	ProjectKey string
	ProjectID  int64 // remote numeric id
	Name       string
	BaseURL    string
	RTMVersion string
}

// SaveProject creates or updates a project by its key.
func (s *Store) SaveProject(p *Project) error {
	res, err := s.Exec(`
		INSERT INTO projects (project_key, project_id, name, base_url, rtm_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_key) DO UPDATE SET
			project_id = excluded.project_id,
			name = excluded.name,
			base_url = excluded.base_url,
			rtm_version = excluded.rtm_version
	`, p.ProjectKey, p.ProjectID, p.Name, p.BaseURL, p.RTMVersion)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}

	if p.ID == 0 {
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			p.ID = id
		}
		// Upsert of an existing row doesn't report an insert id; resolve it.
		if p.ID == 0 {
			existing, err := s.GetProjectByKey(p.ProjectKey)
			if err != nil {
				return err
			}
			if existing != nil {
				p.ID = existing.ID
			}
		}
	}
	return nil
}

// GetProject retrieves a project by local id. Returns (nil, nil) when absent.
func (s *Store) GetProject(id int64) (*Project, error) {
	row := s.QueryRow(`
		SELECT id, project_key, project_id, name, base_url, rtm_version
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

// GetProjectByKey retrieves a project by its key. Returns (nil, nil) when absent.
func (s *Store) GetProjectByKey(key string) (*Project, error) {
	row := s.QueryRow(`
		SELECT id, project_key, project_id, name, base_url, rtm_version
		FROM projects WHERE project_key = ?
	`, key)
	return scanProject(row)
}

// ListProjects returns all projects ordered by key.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.Query(`
		SELECT id, project_key, project_id, name, base_url, rtm_version
		FROM projects ORDER BY project_key
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var projectID sql.NullInt64
		var name, baseURL, rtmVersion sql.NullString
		if err := rows.Scan(&p.ID, &p.ProjectKey, &projectID, &name, &baseURL, &rtmVersion); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.ProjectID = projectID.Int64
		p.Name = name.String
		p.BaseURL = baseURL.String
		p.RTMVersion = rtmVersion.String
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}

	return projects, nil
}

// DeleteProject removes a project and, via cascade, all of its rows.
func (s *Store) DeleteProject(id int64) error {
	_, err := s.Exec("DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var projectID sql.NullInt64
	var name, baseURL, rtmVersion sql.NullString

	if err := row.Scan(&p.ID, &p.ProjectKey, &projectID, &name, &baseURL, &rtmVersion); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	p.ProjectID = projectID.Int64
	p.Name = name.String
	p.BaseURL = baseURL.String
	p.RTMVersion = rtmVersion.String
	return &p, nil
}
