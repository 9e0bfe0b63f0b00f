package services

import (
	"errors"
	"testing"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply_FinalAnswer(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		wantThought string
		wantFinal   string
	}{
		{
			name:        "thought and answer",
			reply:       "Thought: The user asks about France.\nFinal Answer: Paris",
			wantThought: "The user asks about France.",
			wantFinal:   "Paris",
		},
		{
			name:      "answer only",
			reply:     "Final Answer: 42",
			wantFinal: "42",
		},
		{
			name:      "multiline answer",
			reply:     "Final Answer: Top papers:\n1. Attention\n2. BERT",
			wantFinal: "Top papers:\n1. Attention\n2. BERT",
		},
		{
			name:        "final wins over action",
			reply:       "Thought: done\nAction: lookup\nAction Input: {}\nFinal Answer: skip the tool",
			wantThought: "done",
			wantFinal:   "skip the tool",
		},
		{
			name:      "case insensitive marker",
			reply:     "final answer: yes",
			wantFinal: "yes",
		},
		{
			name:        "indented marker",
			reply:       "Thought: enough\n  Final Answer: indented",
			wantThought: "enough",
			wantFinal:   "indented",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseReply(tt.reply)
			require.NoError(t, err)
			require.NotNil(t, parsed.Final)
			assert.Equal(t, domain.StepFinalAnswer, parsed.Final.Kind)
			assert.Equal(t, tt.wantFinal, parsed.Final.Text)
			assert.Equal(t, tt.wantThought, parsed.Thought)
			assert.Empty(t, parsed.Actions)
		})
	}
}

func TestParseReply_Actions(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantTool []string
		wantArgs []map[string]any
	}{
		{
			name:     "single action",
			reply:    "Thought: search first\nAction: search_author\nAction Input: {\"name\": \"Yann LeCun\"}",
			wantTool: []string{"search_author"},
			wantArgs: []map[string]any{{"name": "Yann LeCun"}},
		},
		{
			name:     "marker mid-sentence is not an answer",
			reply:    "Thought: I need data before my final answer: let me search\nAction: search_author\nAction Input: {\"name\": \"Hinton\"}",
			wantTool: []string{"search_author"},
			wantArgs: []map[string]any{{"name": "Hinton"}},
		},
		{
			name:     "backticked tool and trailing text",
			reply:    "Action: `get_author_papers`\nAction Input: {\"author_id\": \"yann-lecun\"} and then I will summarize",
			wantTool: []string{"get_author_papers"},
			wantArgs: []map[string]any{{"author_id": "yann-lecun"}},
		},
		{
			name:     "nested braces and braces in strings",
			reply:    "Action: select_from_db\nAction Input: {\"query\": \"SELECT '{x}' FROM influencers\", \"opts\": {\"limit\": 5}}",
			wantTool: []string{"select_from_db"},
			wantArgs: []map[string]any{{"query": "SELECT '{x}' FROM influencers", "opts": map[string]any{"limit": float64(5)}}},
		},
		{
			name:     "batch",
			reply:    "Action: a\nAction Input: {\"n\": 1}\nAction: b\nAction Input: {\"n\": 2}",
			wantTool: []string{"a", "b"},
			wantArgs: []map[string]any{{"n": float64(1)}, {"n": float64(2)}},
		},
		{
			name:     "empty object",
			reply:    "Action: list_all\nAction Input: {}",
			wantTool: []string{"list_all"},
			wantArgs: []map[string]any{{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseReply(tt.reply)
			require.NoError(t, err)
			assert.Nil(t, parsed.Final)
			require.Len(t, parsed.Actions, len(tt.wantTool))
			for i, a := range parsed.Actions {
				assert.Equal(t, domain.StepAction, a.Kind)
				assert.Equal(t, tt.wantTool[i], a.Tool)
				assert.Equal(t, tt.wantArgs[i], a.Args)
			}
		})
	}
}

func TestParseReply_Errors(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		wantReason  domain.ParseReason
		wantThought string
	}{
		{"no action no answer", "Thought: hmm, not sure", domain.ParseMissingAction, "hmm, not sure"},
		{"empty reply", "", domain.ParseMissingAction, ""},
		{"blank tool", "Action:   \nAction Input: {}", domain.ParseBlankTool, ""},
		{"missing input", "Action: lookup", domain.ParseBadArguments, ""},
		{"not an object", "Action: lookup\nAction Input: [1, 2]", domain.ParseBadArguments, ""},
		{"invalid json", "Thought: go\nAction: lookup\nAction Input: {\"q\": }", domain.ParseBadArguments, "go"},
		{"unbalanced", "Action: lookup\nAction Input: {\"q\": \"x\"", domain.ParseBadArguments, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseReply(tt.reply)
			require.Error(t, err)
			var pe *domain.ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantReason, pe.Reason)
			assert.Equal(t, tt.reply, pe.Reply)
			assert.Equal(t, tt.wantThought, parsed.Thought)
		})
	}
}
