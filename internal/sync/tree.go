// Package sync implements the pull and push engines between the local
// store and the remote RTM service. Pull walks the remote navigation
// trees into local folders and issues; push replays local dirty rows.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/rtmsync/internal/db"
	"github.com/randalmurphal/rtmsync/internal/rtm"
)

// RemoteClient is the slice of the rtm client the engines use. Tests
// substitute a fake.
type RemoteClient interface {
	GetTree(ctx context.Context, projectID int64, treeType string) ([]byte, error)
	GetEntity(ctx context.Context, entityType, key string) ([]byte, error)
	CreateEntity(ctx context.Context, entityType string, payload any) ([]byte, error)
	UpdateEntity(ctx context.Context, entityType, key string, payload any) ([]byte, error)
	GetSteps(ctx context.Context, testCaseKey string) ([]byte, error)
	PutSteps(ctx context.Context, testCaseKey string, payload any) ([]byte, error)
	GetTestPlanTestCases(ctx context.Context, planKey string) ([]byte, error)
	GetTestExecutionTestCases(ctx context.Context, execKey string) ([]byte, error)
}

// TreeSyncer pulls remote navigation trees into the local store.
type TreeSyncer struct {
	Store  *db.Store
	Client RemoteClient
	Logger *slog.Logger

	// FetchWorkers bounds the parallel tree downloads. Zero means one
	// worker per tree type.
	FetchWorkers int

	// Deep enables per-issue detail fetches (fields, steps, links) after
	// the tree walk. Without it only tree placement and names are pulled.
	Deep bool
}

// PullResult summarizes one pull run.
type PullResult struct {
	Folders  int
	Issues   int
	Failures []PullFailure
}

// PullFailure is one non-fatal error collected during a pull.
type PullFailure struct {
	TreeType string
	JiraKey  string
	Err      error
}

func (r *PullResult) fail(treeType, key string, err error) {
	r.Failures = append(r.Failures, PullFailure{TreeType: treeType, JiraKey: key, Err: err})
}

func (s *TreeSyncer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Pull downloads every tree type for the project and applies the nodes to
// the local store. Tree downloads run in parallel; applying is sequential
// so folder parents land before their children. Per-node errors are
// collected, not fatal; Pull only errors when nothing could be fetched or
// the store itself fails.
func (s *TreeSyncer) Pull(ctx context.Context, project *db.Project) (*PullResult, error) {
	if project == nil {
		return nil, fmt.Errorf("sync: project is required")
	}
	log := s.logger()
	result := &PullResult{}

	trees := make([][]byte, len(rtm.TreeTypes))
	fetchErrs := make([]error, len(rtm.TreeTypes))
	g, gctx := errgroup.WithContext(ctx)
	if s.FetchWorkers > 0 {
		g.SetLimit(s.FetchWorkers)
	}
	for i, treeType := range rtm.TreeTypes {
		g.Go(func() error {
			raw, err := s.Client.GetTree(gctx, project.ProjectID, treeType)
			if err != nil {
				fetchErrs[i] = err
				return nil
			}
			trees[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fetched := 0
	for i, treeType := range rtm.TreeTypes {
		if fetchErrs[i] != nil {
			log.Warn("tree fetch failed", "tree", treeType, "error", fetchErrs[i])
			result.fail(treeType, "", fetchErrs[i])
			continue
		}
		if trees[i] == nil {
			continue
		}
		fetched++
		nodes := rtm.ParseTree(trees[i])
		if err := s.applyNodes(ctx, project, treeType, nodes, "", result); err != nil {
			return nil, err
		}
	}
	if fetched == 0 {
		return nil, fmt.Errorf("sync: all tree fetches failed for project %s", project.ProjectKey)
	}

	if err := s.Store.SetLastPull(project.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	log.Info("pull complete",
		"project", project.ProjectKey,
		"folders", result.Folders,
		"issues", result.Issues,
		"failures", len(result.Failures))
	return result, nil
}

// applyNodes walks one level of a tree. Depth-first so a folder exists
// before its children reference it.
func (s *TreeSyncer) applyNodes(ctx context.Context, project *db.Project, treeType string, nodes []rtm.TreeNode, parentID string, result *PullResult) error {
	entityType := rtm.EntityForTreeType(treeType)
	for i, node := range nodes {
		if node.NodeType == rtm.NodeFolder {
			folderID := node.ID
			if folderID == "" {
				folderID = db.NewLocalFolderID(entityType)
			}
			folder := &db.Folder{
				ID:        folderID,
				ProjectID: project.ID,
				Name:      node.Name,
				NodeType:  entityType,
				SortOrder: i,
			}
			if parentID != "" {
				folder.ParentID = parentID
			}
			if err := s.Store.UpsertFolder(folder); err != nil {
				return fmt.Errorf("sync: folder %q: %w", node.Name, err)
			}
			result.Folders++
			if err := s.applyNodes(ctx, project, treeType, node.Children, folderID, result); err != nil {
				return err
			}
			continue
		}

		if node.JiraKey == "" {
			result.fail(treeType, "", fmt.Errorf("leaf node %q has no key", node.Name))
			continue
		}
		fields := map[string]any{"summary": node.Name}
		if parentID != "" {
			fields["folder_id"] = parentID
		}
		id, err := s.Store.UpsertIssueByRemoteKey(project.ID, entityType, node.JiraKey, fields)
		if err != nil {
			return fmt.Errorf("sync: issue %s: %w", node.JiraKey, err)
		}
		result.Issues++

		if s.Deep {
			if err := s.pullDetails(ctx, project, entityType, id, node.JiraKey); err != nil {
				result.fail(treeType, node.JiraKey, err)
			}
		}
	}
	return nil
}

// pullDetails fetches the full issue, its relations and its type-specific
// children. Each fetch is independently fail-soft at the caller.
func (s *TreeSyncer) pullDetails(ctx context.Context, project *db.Project, entityType string, issueID int64, key string) error {
	raw, err := s.Client.GetEntity(ctx, entityType, key)
	if err != nil {
		return err
	}
	fields := rtm.RemoteIssueToFields(raw)
	if len(fields) > 0 {
		if _, err := s.Store.UpsertIssueByRemoteKey(project.ID, entityType, key, fields); err != nil {
			return err
		}
	}

	if err := s.applyRelations(issueID, project.ID, rtm.ExtractRelations(raw)); err != nil {
		return err
	}

	switch entityType {
	case rtm.EntityTestCase:
		stepsRaw, err := s.Client.GetSteps(ctx, key)
		if err != nil {
			return err
		}
		steps := rtm.RemoteStepsToLocal(stepsRaw)
		local := make([]db.Step, 0, len(steps))
		for _, st := range steps {
			local = append(local, db.Step{
				GroupNo:  st.GroupNo,
				OrderNo:  st.OrderNo,
				Action:   st.Action,
				Input:    st.Input,
				Expected: st.Expected,
			})
		}
		return s.Store.ReplaceSteps(issueID, local)

	case rtm.EntityTestPlan:
		linksRaw, err := s.Client.GetTestPlanTestCases(ctx, key)
		if err != nil {
			return err
		}
		return s.applyPlanLinks(project.ID, issueID, rtm.RemoteTestPlanTestCases(linksRaw))

	case rtm.EntityTestExecution:
		runsRaw, err := s.Client.GetTestExecutionTestCases(ctx, key)
		if err != nil {
			return err
		}
		return s.applyExecutionRuns(project.ID, issueID, rtm.RemoteTestExecutionTestCases(runsRaw))
	}
	return nil
}

func (s *TreeSyncer) applyRelations(issueID, projectID int64, rels []rtm.RemoteRelation) error {
	local := make([]db.Relation, 0, len(rels))
	for _, r := range rels {
		rel := db.Relation{
			SrcIssueID:   issueID,
			RelationType: r.Type,
			DstJiraKey:   r.DstKey,
			DstSummary:   r.DstSummary,
		}
		if other, err := s.Store.GetIssueByRemoteKey(projectID, r.DstKey); err != nil {
			return err
		} else if other != nil {
			rel.DstIssueID = other.ID
		}
		local = append(local, rel)
	}
	return s.Store.ReplaceRelationsFor(issueID, local)
}

// applyPlanLinks resolves remote test case keys to local ids. Keys not yet
// pulled are created as clean shells so the link has a target.
func (s *TreeSyncer) applyPlanLinks(projectID, planID int64, links []rtm.RemotePlanLink) error {
	local := make([]db.PlanLink, 0, len(links))
	for _, l := range links {
		tcID, err := s.resolveIssueShell(projectID, l.Key, rtm.EntityTestCase, l.Summary)
		if err != nil {
			return err
		}
		local = append(local, db.PlanLink{TestCaseID: tcID, OrderNo: l.Order})
	}
	return s.Store.ReplaceTestPlanTestCases(planID, local)
}

func (s *TreeSyncer) applyExecutionRuns(projectID, execIssueID int64, runs []rtm.RemoteExecutionLink) error {
	exec := &db.TestExecution{IssueID: execIssueID}
	if existing, err := s.Store.GetTestExecutionByIssue(execIssueID); err != nil {
		return err
	} else if existing != nil {
		exec = existing
	}
	if err := s.Store.UpsertTestExecution(exec); err != nil {
		return err
	}

	local := make([]db.TestCaseExecution, 0, len(runs))
	for _, r := range runs {
		tcID, err := s.resolveIssueShell(projectID, r.Key, rtm.EntityTestCase, "")
		if err != nil {
			return err
		}
		local = append(local, db.TestCaseExecution{
			TestCaseID: tcID,
			TCETestKey: r.TCEKey,
			OrderNo:    r.Order,
			Assignee:   r.Assignee,
			Result:     r.Result,
			ActualTime: r.ActualTime,
			Defects:    r.Defects,
		})
	}
	return s.Store.ReplaceTestCaseExecutions(exec.ID, local)
}

func (s *TreeSyncer) resolveIssueShell(projectID int64, key, entityType, summary string) (int64, error) {
	fields := map[string]any{}
	if summary != "" {
		fields["summary"] = summary
	}
	return s.Store.UpsertIssueByRemoteKey(projectID, entityType, key, fields)
}
