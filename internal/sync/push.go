package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/rtmsync/internal/db"
	"github.com/randalmurphal/rtmsync/internal/rtm"
)

// Pusher replays local dirty issues to the remote service. Local-only
// issues become remote creates; known issues become updates.
type Pusher struct {
	Store  *db.Store
	Client RemoteClient
	Logger *slog.Logger

	// Progress, when set, is called after each issue with the running
	// counts. A panicking callback aborts that notification only.
	Progress func(done, total int)
}

// PushResult summarizes one push run.
type PushResult struct {
	Successes int
	Failures  []PushFailure
}

// PushFailure is one issue that could not be pushed.
type PushFailure struct {
	IssueID   int64
	Summary   string
	IssueType string
	Err       error
}

func (p *Pusher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Push sends every dirty issue of the project. The batch is fail-soft: one
// failed issue is recorded and the rest still go out. Creates run before
// updates so new issues get keys other rows may reference.
func (p *Pusher) Push(ctx context.Context, project *db.Project) (*PushResult, error) {
	if project == nil {
		return nil, fmt.Errorf("sync: project is required")
	}
	log := p.logger()

	dirty, err := p.Store.ListDirtyIssues(project.ID)
	if err != nil {
		return nil, err
	}
	result := &PushResult{}
	total := len(dirty)

	for i := range dirty {
		issue := &dirty[i]
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := p.pushOne(ctx, project, issue); err != nil {
			log.Warn("push failed",
				"issue", issue.ID,
				"type", issue.IssueType,
				"summary", issue.Summary,
				"error", err)
			result.Failures = append(result.Failures, PushFailure{
				IssueID:   issue.ID,
				Summary:   issue.Summary,
				IssueType: issue.IssueType,
				Err:       err,
			})
		} else {
			result.Successes++
		}
		p.notify(i+1, total)
	}

	if err := p.Store.SetLastPush(project.ID, time.Now().UTC()); err != nil {
		return result, err
	}
	log.Info("push complete",
		"project", project.ProjectKey,
		"pushed", result.Successes,
		"failed", len(result.Failures))
	return result, nil
}

func (p *Pusher) notify(done, total int) {
	if p.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger().Warn("progress callback panicked", "panic", r)
		}
	}()
	p.Progress(done, total)
}

func (p *Pusher) pushOne(ctx context.Context, project *db.Project, issue *db.Issue) error {
	local := pushColumns(issue)

	if issue.LocalOnly || issue.JiraKey == "" {
		payload := rtm.CreatePayload(project.ProjectKey, issue.IssueType, local)
		resp, err := p.Client.CreateEntity(ctx, issue.IssueType, payload)
		if err != nil {
			return err
		}
		key := rtm.ExtractCreatedKey(resp)
		if key == "" {
			return fmt.Errorf("create response carried no issue key")
		}
		if err := p.Store.MarkClean(issue.ID, key); err != nil {
			return err
		}
		issue.JiraKey = key
		p.pushSteps(ctx, issue)
		return nil
	}

	payload := rtm.UpdatePayload(local)
	if _, err := p.Client.UpdateEntity(ctx, issue.IssueType, issue.JiraKey, payload); err != nil {
		return err
	}
	if err := p.Store.MarkClean(issue.ID, ""); err != nil {
		return err
	}
	p.pushSteps(ctx, issue)
	return nil
}

// pushSteps mirrors local test case steps to the remote after a successful
// issue push. A failure here does not dirty the issue again; steps move on
// the next explicit push.
func (p *Pusher) pushSteps(ctx context.Context, issue *db.Issue) {
	if issue.IssueType != db.TypeTestCase || issue.JiraKey == "" {
		return
	}
	steps, err := p.Store.ListSteps(issue.ID)
	if err != nil {
		p.logger().Warn("steps load failed", "issue", issue.ID, "error", err)
		return
	}
	if len(steps) == 0 {
		return
	}
	remote := make([]rtm.RemoteStep, 0, len(steps))
	for _, st := range steps {
		remote = append(remote, rtm.RemoteStep{
			GroupNo:  st.GroupNo,
			OrderNo:  st.OrderNo,
			Action:   st.Action,
			Input:    st.Input,
			Expected: st.Expected,
		})
	}
	if _, err := p.Client.PutSteps(ctx, issue.JiraKey, rtm.StepsPutPayload(remote)); err != nil {
		p.logger().Warn("steps push failed", "issue", issue.JiraKey, "error", err)
	}
}

// pushColumns selects the columns the remote accepts on both create and
// update.
func pushColumns(issue *db.Issue) map[string]any {
	return map[string]any{
		"summary":     issue.Summary,
		"description": issue.Description,
		"labels":      issue.Labels,
		"components":  issue.Components,
		"due_date":    issue.DueDate,
		"environment": issue.Environment,
	}
}
