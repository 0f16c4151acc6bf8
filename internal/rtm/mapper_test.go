package rtm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteIssueToFieldsJiraEnvelope(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"key": "PROJ-7",
		"fields": {
			"summary": "Login works",
			"description": "Happy path",
			"status": {"name": "In Progress"},
			"priority": {"name": "High"},
			"security": {"name": "Internal"},
			"assignee": {"displayName": "Dana Scully", "name": "dscully"},
			"labels": ["auth", "smoke"],
			"components": [{"name": "web"}, {"name": "api"}],
			"fixVersions": [{"name": "2.1"}],
			"duedate": "2026-09-01"
		}
	}`)

	fields := RemoteIssueToFields(raw)
	assert.Equal(t, "Login works", fields["summary"])
	assert.Equal(t, "In Progress", fields["status"])
	assert.Equal(t, "High", fields["priority"])
	assert.Equal(t, "Internal", fields["security_level"])
	assert.Equal(t, "Dana Scully", fields["assignee"])
	assert.Equal(t, "auth,smoke", fields["labels"])
	assert.Equal(t, "web,api", fields["components"])
	assert.Equal(t, "2.1", fields["fix_versions"])
	assert.Equal(t, "2026-09-01", fields["due_date"])
}

func TestRemoteIssueToFieldsOmitsAbsentKeys(t *testing.T) {
	t.Parallel()
	fields := RemoteIssueToFields([]byte(`{"fields": {"summary": "only summary"}}`))
	assert.Equal(t, "only summary", fields["summary"])
	_, hasStatus := fields["status"]
	assert.False(t, hasStatus)
	_, hasLabels := fields["labels"]
	assert.False(t, hasLabels)
}

func TestRemoteIssueToFieldsNullAssigneeClears(t *testing.T) {
	t.Parallel()
	fields := RemoteIssueToFields([]byte(`{"fields": {"assignee": null}}`))
	v, ok := fields["assignee"]
	require.True(t, ok)
	assert.Equal(t, "", v)
}

func TestCreatePayloadConservativeSet(t *testing.T) {
	t.Parallel()
	p := CreatePayload("PROJ", EntityTestCase, map[string]any{
		"summary":     "TC summary",
		"description": "desc",
		"labels":      "a, b",
		"components":  "web",
		"status":      "Done",
		"assignee":    "dscully",
	})

	fields, ok := p["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"key": "PROJ"}, fields["project"])
	assert.Equal(t, map[string]string{"name": "Test Case"}, fields["issuetype"])
	assert.Equal(t, "TC summary", fields["summary"])
	assert.Equal(t, []string{"a", "b"}, fields["labels"])
	assert.Equal(t, []map[string]string{{"name": "web"}}, fields["components"])
	_, hasStatus := fields["status"]
	assert.False(t, hasStatus)
	_, hasAssignee := fields["assignee"]
	assert.False(t, hasAssignee)
}

func TestExtractCreatedKeyCandidates(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "PROJ-1", ExtractCreatedKey([]byte(`{"testKey":"PROJ-1","key":"IGNORED"}`)))
	assert.Equal(t, "PROJ-2", ExtractCreatedKey([]byte(`{"issueKey":"PROJ-2"}`)))
	assert.Equal(t, "PROJ-3", ExtractCreatedKey([]byte(`{"key":"PROJ-3"}`)))
	assert.Equal(t, "PROJ-4", ExtractCreatedKey([]byte(`{"jiraKey":"PROJ-4"}`)))
	assert.Equal(t, "", ExtractCreatedKey([]byte(`{"id":12345}`)))
}

func TestExtractRelationsDirections(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"fields": {"issuelinks": [
		{"type": {"name": "Tests"}, "outwardIssue": {"key": "PROJ-9", "fields": {"summary": "req"}}},
		{"type": {"name": "Blocks"}, "inwardIssue": {"key": "PROJ-3", "fields": {"summary": "blocker"}}}
	]}}`)

	rels := ExtractRelations(raw)
	require.Len(t, rels, 2)
	assert.Equal(t, "Tests (out)", rels[0].Type)
	assert.Equal(t, "PROJ-9", rels[0].DstKey)
	assert.Equal(t, "req", rels[0].DstSummary)
	assert.Equal(t, "Blocks (in)", rels[1].Type)
	assert.Equal(t, "PROJ-3", rels[1].DstKey)
}

func TestRemoteStepsToLocalShapes(t *testing.T) {
	t.Parallel()

	bare := RemoteStepsToLocal([]byte(`[{"action":"open","data":"url","expectedResult":"page"}]`))
	require.Len(t, bare, 1)
	assert.Equal(t, "open", bare[0].Action)
	assert.Equal(t, "url", bare[0].Input)
	assert.Equal(t, "page", bare[0].Expected)

	wrapped := RemoteStepsToLocal([]byte(`{"steps":[{"step":"click","input":"btn","expected":"done"}]}`))
	require.Len(t, wrapped, 1)
	assert.Equal(t, "click", wrapped[0].Action)
	assert.Equal(t, "btn", wrapped[0].Input)
	assert.Equal(t, "done", wrapped[0].Expected)

	grouped := RemoteStepsToLocal([]byte(`{"stepGroups":[
		{"steps":[{"action":"a1"}]},
		{"steps":[{"action":"b1"},{"action":"b2"}]}
	]}`))
	require.Len(t, grouped, 3)
	assert.Equal(t, 1, grouped[0].GroupNo)
	assert.Equal(t, 2, grouped[1].GroupNo)
	assert.Equal(t, 2, grouped[2].OrderNo)
}

func TestRemoteStepsToLocalStripsHTML(t *testing.T) {
	t.Parallel()
	steps := RemoteStepsToLocal([]byte(`[{"action":"<p>Open the <b>login</b> page<br/>then wait</p>"}]`))
	require.Len(t, steps, 1)
	assert.Equal(t, "Open the login page\nthen wait", steps[0].Action)
}

func TestParseTreeNormalizesShapes(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"nodes":[
		{"id": "123", "name": "Auth", "type": "FOLDER", "children": [
			{"id": "456", "testKey": "PROJ-10", "name": "Login works"}
		]},
		{"testKey": "PROJ-11", "name": "Root case"}
	]}`)

	nodes := ParseTree(raw)
	require.Len(t, nodes, 2)
	assert.Equal(t, NodeFolder, nodes[0].NodeType)
	assert.Equal(t, "Auth", nodes[0].Name)
	require.Len(t, nodes[0].Children, 1)
	assert.Equal(t, NodeIssue, nodes[0].Children[0].NodeType)
	assert.Equal(t, "PROJ-10", nodes[0].Children[0].JiraKey)
	assert.Equal(t, NodeIssue, nodes[1].NodeType)
}

func TestRemoteTestExecutionTestCases(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"testCaseExecutions":[
		{"testCaseKey": "PROJ-10", "testCaseExecutionKey": "TCE-1", "status": "PASS",
		 "defects": [{"key": "PROJ-50"}, {"key": "PROJ-51"}]},
		{"key": "PROJ-11", "result": "FAIL", "actualTime": "10m"}
	]}`)

	links := RemoteTestExecutionTestCases(raw)
	require.Len(t, links, 2)
	assert.Equal(t, "PROJ-10", links[0].Key)
	assert.Equal(t, "TCE-1", links[0].TCEKey)
	assert.Equal(t, "PASS", links[0].Result)
	assert.Equal(t, "PROJ-50,PROJ-51", links[0].Defects)
	assert.Equal(t, "FAIL", links[1].Result)
	assert.Equal(t, "10m", links[1].ActualTime)
	assert.Equal(t, 2, links[1].Order)
}

func TestRemoteTestPlanTestCases(t *testing.T) {
	t.Parallel()
	links := RemoteTestPlanTestCases([]byte(`{"testCases":[
		{"testCaseKey": "PROJ-10", "summary": "first"},
		{"key": "PROJ-11", "order": 7}
	]}`))
	require.Len(t, links, 2)
	assert.Equal(t, "PROJ-10", links[0].Key)
	assert.Equal(t, 1, links[0].Order)
	assert.Equal(t, 7, links[1].Order)
}
