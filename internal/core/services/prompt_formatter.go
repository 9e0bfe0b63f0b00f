package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/manthysbr/techscout/internal/core/domain"
)

const scoutIdentity = `You are a technology scout. You help users track AI research and the people behind it.
Think step by step. When a question is about a researcher's papers, first resolve the author ID with a
search tool, then fetch the papers with that exact ID. When a question is about AI personalities,
query the local database. For general questions that need no tool, answer directly.`

// FormatPrompt renders the system instructions (identity, tool list, reply format, extra context),
// the conversation memory and the reasoning trace into the oracle's chat input.
// It has no side effects: identical inputs always produce identical prompts.
func FormatPrompt(tools *domain.ToolRegistry, memory domain.ConversationMemory, trace domain.ReasoningTrace, extraContext string) domain.ModelPrompt {
	msgs := make([]domain.Message, 0, len(memory)+len(trace)+1)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: systemInstructions(tools, extraContext)})

	for _, m := range memory {
		if m.Role == domain.RoleSystem {
			continue
		}
		msgs = append(msgs, domain.Message{Role: m.Role, Content: m.Content})
	}

	for _, step := range trace {
		role, text := renderStep(step)
		if text == "" {
			continue
		}
		if last := len(msgs) - 1; msgs[last].Role == role && last > 0 {
			msgs[last].Content += "\n" + text
			continue
		}
		msgs = append(msgs, domain.Message{Role: role, Content: text})
	}

	return domain.ModelPrompt{Messages: msgs}
}

func systemInstructions(tools *domain.ToolRegistry, extraContext string) string {
	var toolsDesc string
	if tools == nil {
		toolsDesc = domain.NewToolRegistry().FormatToolsForPrompt()
	} else {
		toolsDesc = tools.FormatToolsForPrompt()
	}

	var b strings.Builder
	b.WriteString(scoutIdentity)
	b.WriteString(`

You use the ReAct pattern: Thought → Action → Observation → ... → Final Answer.

FORMAT (tool call):
Thought: <reasoning>
Action: <EXACT tool name from the list below>
Action Input: <JSON object with the tool arguments>

FORMAT (direct answer):
Thought: <reasoning>
Final Answer: <response>

`)
	b.WriteString(toolsDesc)
	b.WriteString(`
RULES:
1. Always start with "Thought:".
2. Use the EXACT tool name from "Available Tools". Do NOT invent tool names.
3. Action Input must be a valid JSON object on one line.
4. After each Action you will receive an "Observation:". Use it to decide the next step.
5. If an Observation reports an error, fix the arguments or pick another tool.
6. Cite the tool results you relied on in the Final Answer.`)

	if ctx := strings.TrimSpace(extraContext); ctx != "" {
		b.WriteString("\n\nADDITIONAL CONTEXT:\n")
		b.WriteString(ctx)
	}
	return b.String()
}

// renderStep maps a trace step to the chat role that authored it and its text form.
func renderStep(step domain.ReasoningStep) (domain.MessageRole, string) {
	switch step.Kind {
	case domain.StepThought:
		return domain.RoleAssistant, "Thought: " + step.Text
	case domain.StepAction:
		args, err := json.Marshal(step.Args)
		if err != nil || step.Args == nil {
			args = []byte("{}")
		}
		return domain.RoleAssistant, fmt.Sprintf("Action: %s\nAction Input: %s", step.Tool, args)
	case domain.StepObservation:
		return domain.RoleUser, "Observation: " + step.Text
	case domain.StepFinalAnswer:
		return domain.RoleAssistant, "Final Answer: " + step.Text
	default:
		return domain.RoleAssistant, ""
	}
}
