package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationDirectionRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	a, err := s.CreateLocalIssue(&Issue{ProjectID: pid, IssueType: TypeTestCase, Summary: "A"})
	require.NoError(t, err)
	b, err := s.CreateLocalIssue(&Issue{ProjectID: pid, IssueType: TypeRequirement, Summary: "B"})
	require.NoError(t, err)

	require.NoError(t, s.UpsertRelation(&Relation{
		SrcIssueID:   a,
		DstIssueID:   b,
		RelationType: "Tests",
	}))

	fromB, err := s.ListRelationsFor(b)
	require.NoError(t, err)
	require.Len(t, fromB, 1)
	assert.Equal(t, DirectionInward, fromB[0].Direction)
	assert.Equal(t, a, fromB[0].OtherIssueID)

	fromA, err := s.ListRelationsFor(a)
	require.NoError(t, err)
	require.Len(t, fromA, 1)
	assert.Equal(t, DirectionOutward, fromA[0].Direction)
	assert.Equal(t, b, fromA[0].OtherIssueID)
}

func TestUpsertRelationNoDuplicateTriple(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	a, err := s.CreateLocalIssue(&Issue{ProjectID: pid, IssueType: TypeTestCase, Summary: "A"})
	require.NoError(t, err)
	b, err := s.CreateLocalIssue(&Issue{ProjectID: pid, IssueType: TypeTestCase, Summary: "B"})
	require.NoError(t, err)

	r := &Relation{SrcIssueID: a, DstIssueID: b, RelationType: "Relates (out)"}
	require.NoError(t, s.UpsertRelation(r))
	require.NoError(t, s.UpsertRelation(r))

	relations, err := s.ListRelations(pid)
	require.NoError(t, err)
	assert.Len(t, relations, 1)
}

func TestRelationRemoteOnlyTarget(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	a, err := s.CreateLocalIssue(&Issue{ProjectID: pid, IssueType: TypeDefect, Summary: "A"})
	require.NoError(t, err)

	require.NoError(t, s.UpsertRelation(&Relation{
		SrcIssueID:   a,
		RelationType: "Blocks (out)",
		DstJiraKey:   "PROJ-99",
		DstSummary:   "remote only",
	}))

	views, err := s.ListRelationsFor(a)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Zero(t, views[0].DstIssueID)
	assert.Equal(t, "PROJ-99", views[0].DstJiraKey)
}

func TestUpsertRelationRemoteOnlyNoDuplicate(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	a, err := s.CreateLocalIssue(&Issue{ProjectID: pid, IssueType: TypeDefect, Summary: "A"})
	require.NoError(t, err)

	r := &Relation{SrcIssueID: a, RelationType: "Blocks (out)", DstJiraKey: "PROJ-99"}
	require.NoError(t, s.UpsertRelation(r))
	r.DstSummary = "remote only"
	require.NoError(t, s.UpsertRelation(r))

	views, err := s.ListRelationsFor(a)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "remote only", views[0].DstSummary)
}

func TestReplaceRelationsForOverwritesAll(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)
	pid := newTestProject(t, s)

	a, err := s.CreateLocalIssue(&Issue{ProjectID: pid, IssueType: TypeTestCase, Summary: "A"})
	require.NoError(t, err)
	b, err := s.CreateLocalIssue(&Issue{ProjectID: pid, IssueType: TypeTestCase, Summary: "B"})
	require.NoError(t, err)
	c, err := s.CreateLocalIssue(&Issue{ProjectID: pid, IssueType: TypeTestCase, Summary: "C"})
	require.NoError(t, err)

	require.NoError(t, s.UpsertRelation(&Relation{SrcIssueID: a, DstIssueID: b, RelationType: "Relates (out)"}))

	require.NoError(t, s.ReplaceRelationsFor(a, []Relation{
		{SrcIssueID: a, DstIssueID: c, RelationType: "Tests"},
	}))

	views, err := s.ListRelationsFor(a)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, c, views[0].OtherIssueID)
	assert.Equal(t, "Tests", views[0].RelationType)
}
