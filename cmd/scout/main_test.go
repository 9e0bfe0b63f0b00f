package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/techscout/internal/adapters/duckdb"
	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/services"
)

func TestParseInfluencers(t *testing.T) {
	doc := `{"tech_influencers": [
		{"name": "Andrew Ng", "bio": "AI pioneer", "twitter_username": "AndrewYNg", "nb_twitter_followers": 1000000, "type": "Mega", "links": ["https://x.com/AndrewYNg"], "rank": 1},
		{"name": "Jane Doe", "bio": "", "nb_twitter_followers": 1200}
	]}`

	rows, err := parseInfluencers(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 1, rows[0].ID)
	assert.Equal(t, 2, rows[1].ID)
	require.NotNil(t, rows[0].TwitterUsername)
	assert.Equal(t, "AndrewYNg", *rows[0].TwitterUsername)
	assert.Equal(t, []string{"https://x.com/AndrewYNg"}, rows[0].Links)
	assert.Nil(t, rows[1].TwitterUsername)
	assert.Nil(t, rows[1].Rank)
}

func TestParseInfluencers_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "nope"},
		{"missing array", `{"people": []}`},
		{"blank name", `{"tech_influencers": [{"name": " "}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseInfluencers(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, domain.RunEvent{Kind: domain.EventAgentSwitch, Agent: "Planner"})
	printEvent(&buf, domain.RunEvent{Kind: domain.EventModelOutput, Text: "Thought: look it up"})
	printEvent(&buf, domain.RunEvent{Kind: domain.EventToolCallStarted, Tool: "search_author", Args: map[string]any{"name": "Hinton"}})
	printEvent(&buf, domain.RunEvent{Kind: domain.EventToolCallFinished, Tool: "search_author", Args: map[string]any{"name": "Hinton"}, Output: `[{"id":"geoffrey-hinton"}]`})
	printEvent(&buf, domain.RunEvent{Kind: domain.EventRunFinished, Status: domain.RunStatusCompleted})

	out := buf.String()
	assert.Contains(t, out, "🤖 Agent: Planner")
	assert.Contains(t, out, "📤 Output: Thought: look it up")
	assert.Contains(t, out, "🔨 Calling Tool: search_author")
	assert.Contains(t, out, `With arguments: {"name":"Hinton"}`)
	assert.Contains(t, out, "🔧 Tool Result (search_author):")
	assert.Contains(t, out, `Output: [{"id":"geoffrey-hinton"}]`)
	assert.Contains(t, out, "Run finished (completed)")
}

type replyOracle string

func (o replyOracle) Complete(context.Context, domain.ModelPrompt) (domain.Message, error) {
	return domain.Message{Role: domain.RoleAssistant, Content: string(o)}, nil
}

func newTestRuns(t *testing.T, reply string) *services.RunService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, err := duckdb.NewRepository(filepath.Join(t.TempDir(), "cli.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	defaults := domain.AgentConfig{MaxSteps: 3, TimeoutSeconds: 5}
	agent := services.NewReasoningAgent(logger, replyOracle(reply), domain.NewToolRegistry(), nil, defaults)
	convs, err := services.NewConversationStore(repo, 8)
	require.NoError(t, err)
	return services.NewRunService(logger, agent, nil, convs, repo, nil, 1)
}

func TestAsk_StreamsAndPrintsAnswer(t *testing.T) {
	runs := newTestRuns(t, "Thought: I know it.\nFinal Answer: Paris")
	var buf bytes.Buffer

	err := ask(context.Background(), runs, &buf, &askOptions{timeout: 5 * time.Second}, "Capital of France?")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "📤 Output:")
	assert.Contains(t, out, "Agent: Paris")
	assert.Less(t, strings.Index(out, "📤 Output:"), strings.Index(out, "Agent: Paris"))
}

func TestAsk_BlankTask(t *testing.T) {
	runs := newTestRuns(t, "Final Answer: x")
	err := ask(context.Background(), runs, io.Discard, &askOptions{}, "  ")
	assert.ErrorIs(t, err, domain.ErrEmptyTask)
}

func TestRepl_KeepsConversation(t *testing.T) {
	runs := newTestRuns(t, "Final Answer: noted")
	in := strings.NewReader("first question\n\nsecond question\nquit\n")
	var buf bytes.Buffer
	opts := &askOptions{quiet: true}

	require.NoError(t, repl(context.Background(), runs, in, &buf, opts))
	require.NotEmpty(t, opts.conversationID)
	assert.Equal(t, 2, strings.Count(buf.String(), "Agent: noted"))

	recs, err := runs.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, domain.ConversationID(opts.conversationID), rec.ConversationID)
	}
}
