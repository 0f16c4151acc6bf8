package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFolderPathIdempotent(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	id1, err := s.ResolveFolderPath(pid, "A/B/C", "requirements")
	require.NoError(t, err)
	id2, err := s.ResolveFolderPath(pid, "A/B/C", "requirements")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	folders, err := s.ListFolders(pid)
	require.NoError(t, err)
	assert.Len(t, folders, 3)
}

func TestResolveFolderPathSharesPrefix(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	_, err := s.ResolveFolderPath(pid, "A/B", "test-cases")
	require.NoError(t, err)
	_, err = s.ResolveFolderPath(pid, "A/C", "test-cases")
	require.NoError(t, err)

	folders, err := s.ListFolders(pid)
	require.NoError(t, err)
	assert.Len(t, folders, 3) // A, A/B, A/C
}

func TestResolveFolderPathEmpty(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	_, err := s.ResolveFolderPath(pid, "", "requirements")
	assert.Error(t, err)
}

func TestFolderPathRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	leaf, err := s.ResolveFolderPath(pid, "Suite/Smoke/Login", "test-cases")
	require.NoError(t, err)

	path, err := s.FolderPath(leaf)
	require.NoError(t, err)
	assert.Equal(t, "Suite/Smoke/Login", path)
}

func TestUpsertFolderByRemoteID(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	f := &Folder{ID: "12345", ProjectID: pid, Name: "Root", NodeType: "requirements"}
	require.NoError(t, s.UpsertFolder(f))

	// Re-upsert with a new name updates in place.
	f.Name = "Root renamed"
	f.SortOrder = 2
	require.NoError(t, s.UpsertFolder(f))

	got, err := s.GetFolder("12345")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Root renamed", got.Name)
	assert.Equal(t, 2, got.SortOrder)

	folders, err := s.ListFolders(pid)
	require.NoError(t, err)
	assert.Len(t, folders, 1)
}

func TestNewLocalFolderIDShape(t *testing.T) {
	t.Parallel()

	id := NewLocalFolderID("test-cases")
	assert.Contains(t, id, "LOCAL-TEST_CASES-")
	assert.NotEqual(t, id, NewLocalFolderID("test-cases"))
}
