package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkflow(t *testing.T, oracle *scriptedOracle, tools ...*domain.Tool) *HandoffWorkflow {
	t.Helper()
	reg := domain.NewToolRegistry()
	for _, tool := range tools {
		require.NoError(t, reg.Register(tool))
	}
	wf, err := NewHandoffWorkflow(testLogger(), oracle, reg, nil, domain.AgentConfig{MaxSteps: 6, TimeoutSeconds: 5}, nil)
	require.NoError(t, err)
	return wf
}

func TestNewHandoffWorkflow_RejectsIncompleteTable(t *testing.T) {
	table := domain.HandoffTable{
		domain.RolePlanner:  {domain.RoleExecutor},
		domain.RoleExecutor: {domain.RolePlanner},
		domain.RoleReviewer: {domain.RolePlanner},
	}
	_, err := NewHandoffWorkflow(testLogger(), nil, nil, nil, domain.AgentConfig{}, table)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrHandoffNotAllowed)

	dangling := domain.HandoffTable{
		domain.RolePlanner: {domain.RoleExecutor},
	}
	_, err = NewHandoffWorkflow(testLogger(), nil, nil, nil, domain.AgentConfig{}, dangling)
	assert.ErrorIs(t, err, domain.ErrHandoffNotAllowed)
}

func TestHandoffWorkflow_PlanExecuteReview(t *testing.T) {
	oracle := &scriptedOracle{replies: []string{
		"```json\n[{\"name\": \"search_author\", \"args\": {\"name\": \"Yann LeCun\"}}, {\"name\": \"select_from_db\", \"args\": {\"query\": \"SELECT 1\"}}]\n```",
		"Yann LeCun (search_author) is ranked 1 (select_from_db).",
	}}
	wf := newTestWorkflow(t, oracle, staticTool("search_author", "yann-lecun"), staticTool("select_from_db", "rank 1"))
	rec := &eventRecorder{}

	res, err := wf.Run(context.Background(), "run-wf", "Who is Yann LeCun?", domain.RunOptions{}, rec)
	require.NoError(t, err)

	assert.Equal(t, 2, oracle.calls())
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Equal(t, "Yann LeCun (search_author) is ranked 1 (select_from_db).", res.FinalText)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "search_author", res.Sources[0].Tool)
	assert.Equal(t, "select_from_db", res.Sources[1].Tool)

	assert.Equal(t, []domain.RunEventKind{
		domain.EventAgentSwitch, // Planner
		domain.EventModelOutput,
		domain.EventAgentSwitch, // Executor
		domain.EventToolCallStarted,
		domain.EventToolCallFinished,
		domain.EventToolCallStarted,
		domain.EventToolCallFinished,
		domain.EventAgentSwitch, // Reviewer
		domain.EventModelOutput,
		domain.EventRunFinished,
	}, rec.kinds())

	var agents []string
	for _, ev := range rec.events {
		if ev.Kind == domain.EventAgentSwitch {
			agents = append(agents, ev.Agent)
		}
	}
	assert.Equal(t, []string{"Planner", "Executor", "Reviewer"}, agents)

	review := oracle.prompt(1)
	last := review.Messages[len(review.Messages)-1].Content
	assert.Contains(t, last, "[step-1] search_author")
	assert.Contains(t, last, "[step-2] select_from_db")
	assert.Contains(t, last, "rank 1")
}

func TestHandoffWorkflow_ReviewerHandsBack(t *testing.T) {
	oracle := &scriptedOracle{replies: []string{
		`[{"name": "search_author", "args": {"name": "Hinton"}}]`,
		"HANDOFF: Planner - also fetch the papers of geoffrey-hinton",
		`{"plan": [{"name": "get_author_papers", "args": {"author_id": "geoffrey-hinton"}}]}`,
		"Final Answer: Hinton wrote many papers (get_author_papers).",
	}}
	wf := newTestWorkflow(t, oracle, staticTool("search_author", "geoffrey-hinton"), staticTool("get_author_papers", "Deep Learning"))
	rec := &eventRecorder{}

	res, err := wf.Run(context.Background(), "run-back", "Hinton's papers?", domain.RunOptions{}, rec)
	require.NoError(t, err)

	assert.Equal(t, 4, oracle.calls())
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Equal(t, "Hinton wrote many papers (get_author_papers).", res.FinalText)
	assert.Len(t, res.Sources, 2)

	// the second planner prompt carries the reviewer note and prior results
	replan := oracle.prompt(2)
	last := replan.Messages[len(replan.Messages)-1].Content
	assert.Contains(t, last, "also fetch the papers of geoffrey-hinton")
	assert.Contains(t, last, "[step-1] search_author")

	var agents []string
	for _, ev := range rec.events {
		if ev.Kind == domain.EventAgentSwitch {
			agents = append(agents, ev.Agent)
		}
	}
	assert.Equal(t, []string{"Planner", "Executor", "Reviewer", "Planner", "Executor", "Reviewer"}, agents)
}

func TestHandoffWorkflow_InvalidPlanIsRetried(t *testing.T) {
	oracle := &scriptedOracle{replies: []string{
		"I would search for the author first.",
		"[]",
		`[{"name": "search_author", "args": {"name": "Bengio"}}]`,
		"Bengio found (search_author).",
	}}
	wf := newTestWorkflow(t, oracle, staticTool("search_author", "yoshua-bengio"))

	res, err := wf.Run(context.Background(), "run-retry", "Bengio?", domain.RunOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, oracle.calls())
	assert.Equal(t, domain.RunStatusCompleted, res.Status)

	var errs int
	for _, s := range res.Trace {
		if s.Kind == domain.StepObservation && s.IsError {
			errs++
		}
	}
	assert.Equal(t, 2, errs)
}

func TestHandoffWorkflow_FailedPlanReturnsToPlanner(t *testing.T) {
	failing := &domain.Tool{
		Name:        "get_author_papers",
		Description: "papers",
		Execute: func(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
			return domain.ToolResult{}, errors.New("upstream unavailable")
		},
	}
	oracle := &scriptedOracle{replies: []string{
		`[{"name": "get_author_papers", "args": {"author_id": "x"}}]`,
		`[{"name": "search_author", "args": {"name": "x"}}]`,
		"Only the author was found (search_author).",
	}}
	wf := newTestWorkflow(t, oracle, failing, staticTool("search_author", "x-id"))
	rec := &eventRecorder{}

	res, err := wf.Run(context.Background(), "run-fail-plan", "x?", domain.RunOptions{}, rec)
	require.NoError(t, err)
	assert.Equal(t, 3, oracle.calls())
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Len(t, res.Sources, 1)

	var agents []string
	for _, ev := range rec.events {
		if ev.Kind == domain.EventAgentSwitch {
			agents = append(agents, ev.Agent)
		}
	}
	assert.Equal(t, []string{"Planner", "Executor", "Planner", "Executor", "Reviewer"}, agents)
}

func TestHandoffWorkflow_StepLimit(t *testing.T) {
	oracle := &scriptedOracle{replies: []string{"no plan today"}}
	wf := newTestWorkflow(t, oracle)

	res, err := wf.Run(context.Background(), "run-wf-limit", "anything", domain.RunOptions{MaxSteps: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, oracle.calls())
	assert.Equal(t, domain.RunStatusStepLimit, res.Status)
	assert.Equal(t, stepLimitAnswer, res.FinalText)
}

func TestHandoffWorkflow_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	oracle := oracleFunc(func(ctx context.Context, prompt domain.ModelPrompt) (domain.Message, error) {
		<-release
		return domain.Message{Content: "[]"}, nil
	})
	wf, err := NewHandoffWorkflow(testLogger(), oracle, nil, nil, domain.AgentConfig{}, nil)
	require.NoError(t, err)
	rec := &eventRecorder{}

	res, err := wf.Run(context.Background(), "run-wf-timeout", "slow", domain.RunOptions{Timeout: 50 * time.Millisecond}, rec)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.RunStatusTimedOut, res.Status)
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, domain.EventRunFinished, last.Kind)
	assert.Equal(t, domain.RunStatusTimedOut, last.Status)
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    int
		wantErr bool
	}{
		{"bare array", `[{"name": "a", "args": {"x": 1}}]`, 1, false},
		{"prose around array", "Here is the plan:\n[{\"name\": \"a\"}, {\"name\": \"b\"}]\nDone.", 2, false},
		{"wrapped", `{"plan": [{"name": "a", "args": {}}]}`, 1, false},
		{"fenced", "```json\n[{\"name\": \"a\"}]\n```", 1, false},
		{"empty", "[]", 0, true},
		{"no array", "I think we should search.", 0, true},
		{"missing name", `[{"args": {}}]`, 0, true},
		{"broken json", `[{"name": "a",]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := parsePlan(tt.reply)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, items, tt.want)
			for _, it := range items {
				assert.NotNil(t, it.Args)
			}
		})
	}
}

func TestParseHandoff(t *testing.T) {
	role, rest, ok := parseHandoff("HANDOFF: Planner: need more data")
	assert.True(t, ok)
	assert.Equal(t, domain.RolePlanner, role)
	assert.Equal(t, "need more data", rest)

	role, rest, ok = parseHandoff("handoff: planner")
	assert.True(t, ok)
	assert.Equal(t, domain.RolePlanner, role)
	assert.Empty(t, rest)

	role, _, ok = parseHandoff("HANDOFF: executor - rerun step-1")
	assert.True(t, ok)
	assert.Equal(t, domain.RoleExecutor, role)

	_, _, ok = parseHandoff("The answer mentions HANDOFF: Planner later")
	assert.False(t, ok)
}

func TestHandoffWorkflow_ReviewerDisallowedHandoffIsFedBack(t *testing.T) {
	oracle := &scriptedOracle{replies: []string{
		`[{"name": "search_author", "args": {"name": "Hinton"}}]`,
		"HANDOFF: Executor - run it again",
		"Final Answer: Hinton is geoffrey-hinton (search_author).",
	}}
	wf := newTestWorkflow(t, oracle, staticTool("search_author", "geoffrey-hinton"))

	res, err := wf.Run(context.Background(), "run-bad-handoff", "Who is Hinton?", domain.RunOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, oracle.calls())
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Equal(t, "Hinton is geoffrey-hinton (search_author).", res.FinalText)

	retry := oracle.prompt(2)
	last := retry.Messages[len(retry.Messages)-1].Content
	assert.Contains(t, last, `hand-off from Reviewer to "Executor" is not allowed`)
}
