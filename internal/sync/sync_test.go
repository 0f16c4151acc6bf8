package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/rtmsync/internal/db"
)

// fakeClient serves canned JSON per tree type and issue key and records
// the write calls it receives.
type fakeClient struct {
	trees          map[string]string // treeType -> tree JSON
	entities       map[string]string // key -> issue JSON
	steps          map[string]string // key -> steps JSON
	planLinks      map[string]string
	execRuns       map[string]string
	createResp     string
	createErr      error
	updateErr      error
	createCalls    []string // entity types
	createPayloads []any
	updateCalls    []string // keys
	putSteps       []string // keys
}

func (f *fakeClient) GetTree(_ context.Context, _ int64, treeType string) ([]byte, error) {
	raw, ok := f.trees[treeType]
	if !ok {
		return []byte(`{"nodes":[]}`), nil
	}
	return []byte(raw), nil
}

func (f *fakeClient) GetEntity(_ context.Context, _, key string) ([]byte, error) {
	raw, ok := f.entities[key]
	if !ok {
		return nil, fmt.Errorf("no entity %s", key)
	}
	return []byte(raw), nil
}

func (f *fakeClient) CreateEntity(_ context.Context, entityType string, payload any) ([]byte, error) {
	f.createCalls = append(f.createCalls, entityType)
	f.createPayloads = append(f.createPayloads, payload)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return []byte(f.createResp), nil
}

func (f *fakeClient) UpdateEntity(_ context.Context, _, key string, _ any) ([]byte, error) {
	f.updateCalls = append(f.updateCalls, key)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return []byte(`{}`), nil
}

func (f *fakeClient) GetSteps(_ context.Context, key string) ([]byte, error) {
	return []byte(f.steps[key]), nil
}

func (f *fakeClient) PutSteps(_ context.Context, key string, _ any) ([]byte, error) {
	f.putSteps = append(f.putSteps, key)
	return []byte(`{}`), nil
}

func (f *fakeClient) GetTestPlanTestCases(_ context.Context, key string) ([]byte, error) {
	return []byte(f.planLinks[key]), nil
}

func (f *fakeClient) GetTestExecutionTestCases(_ context.Context, key string) ([]byte, error) {
	return []byte(f.execRuns[key]), nil
}

func newSyncProject(t *testing.T, s *db.Store) *db.Project {
	t.Helper()
	p := &db.Project{ProjectKey: "PROJ", ProjectID: 41500, Name: "Test Project"}
	require.NoError(t, s.SaveProject(p))
	return p
}

const testCaseTree = `{"nodes":[
	{"id": "f-1", "name": "Auth", "type": "FOLDER", "children": [
		{"testKey": "PROJ-10", "name": "Login works"}
	]}
]}`

func TestPullCreatesFoldersAndIssues(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	client := &fakeClient{trees: map[string]string{"test-cases": testCaseTree}}
	syncer := &TreeSyncer{Store: s, Client: client}

	res, err := syncer.Pull(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Folders)
	assert.Equal(t, 1, res.Issues)

	issue, err := s.GetIssueByRemoteKey(p.ID, "PROJ-10")
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, db.TypeTestCase, issue.IssueType)
	assert.Equal(t, "Login works", issue.Summary)
	assert.Equal(t, "f-1", issue.FolderID)
	assert.Equal(t, db.SyncClean, issue.SyncStatus)
	assert.False(t, issue.LocalOnly)

	folder, err := s.GetFolder("f-1")
	require.NoError(t, err)
	require.NotNil(t, folder)
	assert.Equal(t, "Auth", folder.Name)
}

func TestPullTwiceIsIdempotent(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	client := &fakeClient{trees: map[string]string{"test-cases": testCaseTree}}
	syncer := &TreeSyncer{Store: s, Client: client}

	_, err := syncer.Pull(context.Background(), p)
	require.NoError(t, err)
	_, err = syncer.Pull(context.Background(), p)
	require.NoError(t, err)

	folders, err := s.ListFolders(p.ID)
	require.NoError(t, err)
	assert.Len(t, folders, 1)

	issues, err := s.ListIssues(p.ID, "")
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestPullDoesNotTouchLocalOnlyIssues(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	localID, err := s.CreateLocalIssue(&db.Issue{ProjectID: p.ID, IssueType: db.TypeTestCase, Summary: "unsynced"})
	require.NoError(t, err)

	client := &fakeClient{trees: map[string]string{"test-cases": testCaseTree}}
	_, err = (&TreeSyncer{Store: s, Client: client}).Pull(context.Background(), p)
	require.NoError(t, err)

	local, err := s.GetIssue(localID)
	require.NoError(t, err)
	assert.Equal(t, db.SyncDirty, local.SyncStatus)
	assert.True(t, local.LocalOnly)
}

func TestPullAllTreesFailedErrors(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	client := &failingTreeClient{}

	_, err := (&TreeSyncer{Store: s, Client: client}).Pull(context.Background(), p)
	require.Error(t, err)
}

type failingTreeClient struct{ fakeClient }

func (f *failingTreeClient) GetTree(context.Context, int64, string) ([]byte, error) {
	return nil, fmt.Errorf("boom")
}

func TestPullDeepFetchesDetails(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	client := &fakeClient{
		trees: map[string]string{"test-cases": testCaseTree},
		entities: map[string]string{
			"PROJ-10": `{"key":"PROJ-10","fields":{
				"summary":"Login works","priority":{"name":"High"},
				"issuelinks":[{"type":{"name":"Tests"},"outwardIssue":{"key":"PROJ-1","fields":{"summary":"req"}}}]
			}}`,
		},
		steps: map[string]string{
			"PROJ-10": `{"steps":[{"action":"open page","expectedResult":"form shown"}]}`,
		},
	}

	_, err := (&TreeSyncer{Store: s, Client: client, Deep: true}).Pull(context.Background(), p)
	require.NoError(t, err)

	issue, err := s.GetIssueByRemoteKey(p.ID, "PROJ-10")
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, "High", issue.Priority)

	steps, err := s.ListSteps(issue.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "open page", steps[0].Action)
	assert.Equal(t, "form shown", steps[0].Expected)

	rels, err := s.ListRelationsFor(issue.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "Tests (out)", rels[0].RelationType)
	assert.Equal(t, "PROJ-1", rels[0].DstJiraKey)
}

func TestPushCreatesLocalOnlyAndAssignsKey(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	id, err := s.CreateLocalIssue(&db.Issue{ProjectID: p.ID, IssueType: db.TypeTestCase, Summary: "new case"})
	require.NoError(t, err)

	client := &fakeClient{createResp: `{"testKey":"PROJ-77"}`}
	res, err := (&Pusher{Store: s, Client: client}).Push(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successes)
	assert.Empty(t, res.Failures)

	issue, err := s.GetIssue(id)
	require.NoError(t, err)
	assert.Equal(t, "PROJ-77", issue.JiraKey)
	assert.Equal(t, db.SyncClean, issue.SyncStatus)
	assert.False(t, issue.LocalOnly)
	require.NotNil(t, issue.LastSyncedAt)
}

func TestPushUpdatesDirtyKnownIssue(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	id, err := s.UpsertIssueByRemoteKey(p.ID, db.TypeRequirement, "PROJ-5", map[string]any{"summary": "pulled"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateIssueFields(id, map[string]any{"summary": "edited locally"}))

	client := &fakeClient{}
	res, err := (&Pusher{Store: s, Client: client}).Push(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successes)
	assert.Equal(t, []string{"PROJ-5"}, client.updateCalls)
	assert.Empty(t, client.createCalls)

	issue, err := s.GetIssue(id)
	require.NoError(t, err)
	assert.Equal(t, db.SyncClean, issue.SyncStatus)
}

func TestPushBatchIsFailSoft(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	_, err := s.CreateLocalIssue(&db.Issue{ProjectID: p.ID, IssueType: db.TypeTestCase, Summary: "will fail"})
	require.NoError(t, err)
	okID, err := s.UpsertIssueByRemoteKey(p.ID, db.TypeRequirement, "PROJ-5", map[string]any{"summary": "x"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateIssueFields(okID, map[string]any{"summary": "y"}))

	client := &fakeClient{createErr: fmt.Errorf("remote rejected")}
	res, err := (&Pusher{Store: s, Client: client}).Push(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successes)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "will fail", res.Failures[0].Summary)

	// The failed issue stays dirty for the next run.
	dirty, err := s.ListDirtyIssues(p.ID)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, "will fail", dirty[0].Summary)
}

func TestPushSendsStepsAfterCreate(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	id, err := s.CreateLocalIssue(&db.Issue{ProjectID: p.ID, IssueType: db.TypeTestCase, Summary: "case"})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceSteps(id, []db.Step{{Action: "step"}}))

	client := &fakeClient{createResp: `{"key":"PROJ-80"}`}
	_, err = (&Pusher{Store: s, Client: client}).Push(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"PROJ-80"}, client.putSteps)
}

func TestPushThenPullRoundTripsPushedFields(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	id, err := s.CreateLocalIssue(&db.Issue{ProjectID: p.ID, IssueType: db.TypeTestCase, Summary: "Login works"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateIssueFields(id, map[string]any{
		"description": "Happy path",
		"labels":      "auth,smoke",
		"components":  "web,api",
		"due_date":    "2026-09-01",
		"environment": "staging",
	}))

	client := &fakeClient{createResp: `{"testKey":"PROJ-70"}`}
	_, err = (&Pusher{Store: s, Client: client}).Push(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, client.createPayloads, 1)

	// A subsequent pull serves back exactly what the create sent.
	echoed, err := json.Marshal(client.createPayloads[0])
	require.NoError(t, err)
	client.entities = map[string]string{"PROJ-70": string(echoed)}
	client.trees = map[string]string{
		"test-cases": `{"nodes":[{"testKey":"PROJ-70","name":"Login works"}]}`,
	}

	_, err = (&TreeSyncer{Store: s, Client: client, Deep: true}).Pull(context.Background(), p)
	require.NoError(t, err)

	issue, err := s.GetIssueByRemoteKey(p.ID, "PROJ-70")
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, "Login works", issue.Summary)
	assert.Equal(t, "Happy path", issue.Description)
	assert.Equal(t, "auth,smoke", issue.Labels)
	assert.Equal(t, "web,api", issue.Components)
	assert.Equal(t, "2026-09-01", issue.DueDate)
	assert.Equal(t, "staging", issue.Environment)
	assert.Equal(t, db.SyncClean, issue.SyncStatus)
}

func TestPushProgressCallback(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	_, err := s.CreateLocalIssue(&db.Issue{ProjectID: p.ID, IssueType: db.TypeDefect, Summary: "a"})
	require.NoError(t, err)
	_, err = s.CreateLocalIssue(&db.Issue{ProjectID: p.ID, IssueType: db.TypeDefect, Summary: "b"})
	require.NoError(t, err)

	var seen [][2]int
	pusher := &Pusher{
		Store:  s,
		Client: &fakeClient{createResp: `{"key":"PROJ-90"}`},
		Progress: func(done, total int) {
			seen = append(seen, [2]int{done, total})
		},
	}
	_, err = pusher.Push(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, seen)
}

func TestPushPanickingProgressDoesNotAbort(t *testing.T) {
	t.Parallel()
	s := db.NewTestStore(t)
	p := newSyncProject(t, s)
	_, err := s.CreateLocalIssue(&db.Issue{ProjectID: p.ID, IssueType: db.TypeDefect, Summary: "a"})
	require.NoError(t, err)

	pusher := &Pusher{
		Store:    s,
		Client:   &fakeClient{createResp: `{"key":"PROJ-91"}`},
		Progress: func(int, int) { panic("ui crashed") },
	}
	res, err := pusher.Push(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successes)
}
