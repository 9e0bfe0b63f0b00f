package services

import (
	"strings"
	"testing"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatterFixture(t *testing.T) (*domain.ToolRegistry, domain.ConversationMemory, domain.ReasoningTrace) {
	t.Helper()
	reg := domain.NewToolRegistry()
	require.NoError(t, reg.Register(staticTool("search_author", "x")))
	require.NoError(t, reg.Register(staticTool("get_author_papers", "y")))

	var mem domain.ConversationMemory
	mem = mem.Append(domain.RoleSystem, "ignored system note")
	mem = mem.Append(domain.RoleUser, "Papers by Yann LeCun?")

	trace := domain.ReasoningTrace{
		domain.Thought("resolve the author"),
		domain.Action("search_author", map[string]any{"name": "Yann LeCun", "exact": true}),
		domain.Observation(`[{"id":"yann-lecun"}]`, false),
	}
	return reg, mem, trace
}

func TestFormatPrompt_Idempotent(t *testing.T) {
	reg, mem, trace := formatterFixture(t)

	a := FormatPrompt(reg, mem, trace, "Prefer recent papers.")
	b := FormatPrompt(reg, mem, trace, "Prefer recent papers.")
	assert.Equal(t, a, b)
}

func TestFormatPrompt_Layout(t *testing.T) {
	reg, mem, trace := formatterFixture(t)

	p := FormatPrompt(reg, mem, trace, "Prefer recent papers.")
	require.Len(t, p.Messages, 4)

	sys := p.Messages[0]
	assert.Equal(t, domain.RoleSystem, sys.Role)
	assert.Contains(t, sys.Content, "technology scout")
	assert.Contains(t, sys.Content, "search_author")
	assert.Contains(t, sys.Content, "get_author_papers")
	assert.True(t, strings.HasSuffix(sys.Content, "ADDITIONAL CONTEXT:\nPrefer recent papers."))
	assert.NotContains(t, sys.Content, "ignored system note")

	// tools listed in sorted order
	assert.Less(t, strings.Index(sys.Content, "get_author_papers"), strings.Index(sys.Content, "search_author"))

	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "Papers by Yann LeCun?"}, p.Messages[1])

	// thought and action merge into one assistant turn
	assert.Equal(t, domain.RoleAssistant, p.Messages[2].Role)
	assert.Equal(t,
		"Thought: resolve the author\nAction: search_author\nAction Input: {\"exact\":true,\"name\":\"Yann LeCun\"}",
		p.Messages[2].Content)

	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: `Observation: [{"id":"yann-lecun"}]`}, p.Messages[3])
}

func TestFormatPrompt_NoExtraContext(t *testing.T) {
	p := FormatPrompt(nil, nil, nil, "  ")
	require.Len(t, p.Messages, 1)
	assert.NotContains(t, p.Messages[0].Content, "ADDITIONAL CONTEXT")
	assert.Contains(t, p.Messages[0].Content, "Available Tools: none")
}
