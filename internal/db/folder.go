package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Folder is one node of the project's folder tree. Folders pulled from the
// remote service keep the remote-assigned id; locally created folders get a
// LOCAL-{TYPE}-{uuid} id until (if ever) they are pushed.
type Folder struct {
	ID        string
	ProjectID int64
	ParentID  string // empty for root folders
	Name      string
	NodeType  string
	SortOrder int
}

// NewLocalFolderID generates an id for a folder that does not exist remotely.
func NewLocalFolderID(nodeType string) string {
	t := strings.ToUpper(strings.ReplaceAll(nodeType, "-", "_"))
	if t == "" {
		t = "FOLDER"
	}
	return fmt.Sprintf("LOCAL-%s-%s", t, uuid.NewString())
}

// UpsertFolder creates or updates a folder by id.
func (s *Store) UpsertFolder(f *Folder) error {
	var parent any
	if f.ParentID != "" {
		parent = f.ParentID
	}
	_, err := s.Exec(`
		INSERT INTO folders (id, project_id, parent_id, name, node_type, sort_order)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			name = excluded.name,
			node_type = excluded.node_type,
			sort_order = excluded.sort_order
	`, f.ID, f.ProjectID, parent, f.Name, f.NodeType, f.SortOrder)
	if err != nil {
		return fmt.Errorf("upsert folder %s: %w", f.ID, err)
	}
	return nil
}

// GetFolder retrieves a folder by id. Returns (nil, nil) when absent.
func (s *Store) GetFolder(id string) (*Folder, error) {
	row := s.QueryRow(`
		SELECT id, project_id, parent_id, name, node_type, sort_order
		FROM folders WHERE id = ?
	`, id)
	return scanFolder(row)
}

// ListFolders returns all folders of a project ordered by parent and sort order.
func (s *Store) ListFolders(projectID int64) ([]Folder, error) {
	rows, err := s.Query(`
		SELECT id, project_id, parent_id, name, node_type, sort_order
		FROM folders WHERE project_id = ?
		ORDER BY parent_id, sort_order, name
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var f Folder
		var parentID sql.NullString
		if err := rows.Scan(&f.ID, &f.ProjectID, &parentID, &f.Name, &f.NodeType, &f.SortOrder); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		f.ParentID = parentID.String
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}

	return folders, nil
}

// DeleteFolder removes a folder; children cascade.
func (s *Store) DeleteFolder(id string) error {
	_, err := s.Exec("DELETE FROM folders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

// ResolveFolderPath walks a slash-separated path like "A/B/C" under the
// given project, creating any missing segments, and returns the leaf folder
// id. Idempotent: resolving the same path twice returns the same id and
// creates no extra rows. Empty segments are skipped.
func (s *Store) ResolveFolderPath(projectID int64, path, nodeType string) (string, error) {
	segments := strings.Split(path, "/")
	parentID := ""
	leafID := ""

	for _, seg := range segments {
		name := strings.TrimSpace(seg)
		if name == "" {
			continue
		}

		id, err := s.findChildFolder(projectID, parentID, name)
		if err != nil {
			return "", err
		}
		if id == "" {
			order, err := s.nextFolderOrder(projectID, parentID)
			if err != nil {
				return "", err
			}
			id = NewLocalFolderID(nodeType)
			f := &Folder{
				ID:        id,
				ProjectID: projectID,
				ParentID:  parentID,
				Name:      name,
				NodeType:  nodeType,
				SortOrder: order,
			}
			if err := s.UpsertFolder(f); err != nil {
				return "", err
			}
		}

		parentID = id
		leafID = id
	}

	if leafID == "" {
		return "", fmt.Errorf("resolve folder path: empty path %q", path)
	}
	return leafID, nil
}

// FolderPath returns the slash-separated path of a folder from the root.
func (s *Store) FolderPath(id string) (string, error) {
	var parts []string
	seen := make(map[string]bool)

	for id != "" {
		if seen[id] {
			return "", fmt.Errorf("folder path: cycle detected at %s", id)
		}
		seen[id] = true

		f, err := s.GetFolder(id)
		if err != nil {
			return "", err
		}
		if f == nil {
			break
		}
		parts = append([]string{f.Name}, parts...)
		id = f.ParentID
	}

	return strings.Join(parts, "/"), nil
}

func (s *Store) findChildFolder(projectID int64, parentID, name string) (string, error) {
	var row *sql.Row
	if parentID == "" {
		row = s.QueryRow(`
			SELECT id FROM folders
			WHERE project_id = ? AND parent_id IS NULL AND name = ?
		`, projectID, name)
	} else {
		row = s.QueryRow(`
			SELECT id FROM folders
			WHERE project_id = ? AND parent_id = ? AND name = ?
		`, projectID, parentID, name)
	}

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("find folder %s: %w", name, err)
	}
	return id, nil
}

func (s *Store) nextFolderOrder(projectID int64, parentID string) (int, error) {
	var row *sql.Row
	if parentID == "" {
		row = s.QueryRow(`
			SELECT COALESCE(MAX(sort_order)+1, 0) FROM folders
			WHERE project_id = ? AND parent_id IS NULL
		`, projectID)
	} else {
		row = s.QueryRow(`
			SELECT COALESCE(MAX(sort_order)+1, 0) FROM folders
			WHERE project_id = ? AND parent_id = ?
		`, projectID, parentID)
	}

	var order int
	if err := row.Scan(&order); err != nil {
		return 0, fmt.Errorf("next folder order: %w", err)
	}
	return order, nil
}

func scanFolder(row *sql.Row) (*Folder, error) {
	var f Folder
	var parentID sql.NullString

	if err := row.Scan(&f.ID, &f.ProjectID, &parentID, &f.Name, &f.NodeType, &f.SortOrder); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get folder: %w", err)
	}

	f.ParentID = parentID.String
	return &f, nil
}
