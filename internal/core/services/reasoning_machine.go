package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manthysbr/techscout/internal/core/domain"
)

// loopPhase enumerates the states of the reasoning loop.
type loopPhase int

const (
	phaseInit loopPhase = iota
	phasePrepare
	phaseQuery     // waiting for the oracle reply
	phaseAct       // announcing the next pending action
	phaseAwaitTool // waiting for the tool outcome of the announced action
	phaseObserve
	phaseFinalize
	phaseDone
)

func (p loopPhase) String() string {
	switch p {
	case phaseInit:
		return "init"
	case phasePrepare:
		return "prepare"
	case phaseQuery:
		return "query"
	case phaseAct:
		return "act"
	case phaseAwaitTool:
		return "await_tool"
	case phaseObserve:
		return "observe"
	case phaseFinalize:
		return "finalize"
	case phaseDone:
		return "done"
	default:
		return "unknown"
	}
}

const stepLimitAnswer = "Step limit reached before a final answer was found."

// loopState is the full state threaded through the machine.
type loopState struct {
	phase loopPhase
	run   *domain.RunState

	// seed for Init
	task      string
	inherited domain.ConversationMemory

	prompt domain.ModelPrompt

	pending      []domain.ReasoningStep
	cursor       int
	observations []domain.ReasoningStep
	records      []domain.ToolCallRecord

	status    domain.RunStatus
	finalText string
}

// toolOutcome is the result of invoking one pending action.
type toolOutcome struct {
	result domain.ToolResult
	err    error
}

// loopInput carries the external result consumed by phaseQuery and phaseAwaitTool.
type loopInput struct {
	reply   *domain.Message
	outcome *toolOutcome
}

// reasoningMachine holds the static configuration of one run.
type reasoningMachine struct {
	agent        string
	runID        domain.RunID
	tools        *domain.ToolRegistry
	maxSteps     int
	extraContext string
	now          func() time.Time
}

// step is the single transition function of the loop: it consumes the current
// state plus the external input the state was waiting for, and returns the
// next state together with the events produced by the transition.
func (m *reasoningMachine) step(st loopState, in loopInput) (loopState, []domain.RunEvent) {
	switch st.phase {
	case phaseInit:
		st.run = domain.NewRunState(m.runID, st.task, st.inherited)
		st.phase = phasePrepare
		return st, []domain.RunEvent{m.event(st, domain.RunEvent{Kind: domain.EventAgentSwitch, Agent: m.agent})}

	case phasePrepare:
		if st.run.StepCounter >= m.maxSteps {
			st.status = domain.RunStatusStepLimit
			st.finalText = stepLimitAnswer
			st.run.AppendStep(domain.FinalAnswer(stepLimitAnswer))
			st.phase = phaseFinalize
			return st, nil
		}
		st.prompt = FormatPrompt(m.tools, st.run.Memory, st.run.Trace, m.extraContext)
		st.phase = phaseQuery
		return st, nil

	case phaseQuery:
		if in.reply == nil {
			return st, nil
		}
		st.run.StepCounter++
		text := in.reply.Content
		events := []domain.RunEvent{m.event(st, domain.RunEvent{Kind: domain.EventModelOutput, Text: text})}

		parsed, err := ParseReply(text)
		if parsed.Thought != "" {
			st.run.AppendStep(domain.Thought(parsed.Thought))
		}
		switch {
		case err != nil:
			st.run.AppendStep(domain.Observation(parseErrorObservation(err), true))
			st.phase = phasePrepare
		case parsed.Final != nil:
			st.run.AppendStep(*parsed.Final)
			st.status = domain.RunStatusCompleted
			st.finalText = parsed.Final.Text
			st.phase = phaseFinalize
		default:
			for _, a := range parsed.Actions {
				st.run.AppendStep(a)
			}
			st.pending = parsed.Actions
			st.cursor = 0
			st.observations = nil
			st.records = nil
			st.phase = phaseAct
		}
		return st, events

	case phaseAct:
		action := st.pending[st.cursor]
		st.phase = phaseAwaitTool
		return st, []domain.RunEvent{m.event(st, domain.RunEvent{
			Kind: domain.EventToolCallStarted,
			Tool: action.Tool,
			Args: action.Args,
		})}

	case phaseAwaitTool:
		if in.outcome == nil {
			return st, nil
		}
		action := st.pending[st.cursor]
		obs, rec := m.observe(action, *in.outcome)
		st.observations = append(st.observations, obs)
		if rec != nil {
			st.records = append(st.records, *rec)
		}
		st.cursor++
		if st.cursor < len(st.pending) {
			st.phase = phaseAct
		} else {
			st.phase = phaseObserve
		}
		return st, []domain.RunEvent{m.event(st, domain.RunEvent{
			Kind:    domain.EventToolCallFinished,
			Tool:    action.Tool,
			Args:    action.Args,
			Output:  obs.Text,
			IsError: obs.IsError,
		})}

	case phaseObserve:
		for _, obs := range st.observations {
			st.run.AppendStep(obs)
		}
		st.run.Sources = append(st.run.Sources, st.records...)
		st.pending, st.observations, st.records, st.cursor = nil, nil, nil, 0
		st.phase = phasePrepare
		return st, nil

	case phaseFinalize:
		st.run.Memory = st.run.Memory.Append(domain.RoleAssistant, st.finalText)
		st.phase = phaseDone
		return st, []domain.RunEvent{m.event(st, domain.RunEvent{
			Kind:   domain.EventRunFinished,
			Text:   st.finalText,
			Status: st.status,
		})}
	}
	return st, nil
}

func (m *reasoningMachine) event(st loopState, ev domain.RunEvent) domain.RunEvent {
	ev.RunID = m.runID
	if st.run != nil {
		ev.Step = st.run.StepCounter
	}
	ev.At = m.clock()
	return ev
}

// observe converts a tool outcome into the observation fed back to the oracle
// and, on success, the record kept in the sources log.
func (m *reasoningMachine) observe(action domain.ReasoningStep, out toolOutcome) (domain.ReasoningStep, *domain.ToolCallRecord) {
	if out.err == nil {
		content := out.result.Content
		if strings.TrimSpace(content) == "" {
			content = "(empty result)"
		}
		return domain.Observation(content, false), &domain.ToolCallRecord{
			Tool:        action.Tool,
			Args:        action.Args,
			Observation: content,
			Structured:  out.result.Structured,
			At:          m.clock(),
		}
	}

	if errors.Is(out.err, domain.ErrToolNotFound) {
		return domain.Observation(m.unknownToolObservation(action.Tool), true), nil
	}

	var invErr *domain.InvocationError
	if errors.As(out.err, &invErr) && invErr.Category == domain.InvocationNotFound {
		return domain.Observation(fmt.Sprintf(
			"Error: %s failed: %v. Hint: the requested item was not found. Check the ID format: "+
				"use the exact identifier returned by a previous search result, without extra quotes, spaces or a display name.",
			action.Tool, invErr.Cause), true), nil
	}

	cause := out.err
	if invErr != nil {
		cause = invErr.Cause
	}
	return domain.Observation(fmt.Sprintf(
		"Error: %s failed: %v. Hint: check the arguments against the tool description and try again, or use a different tool.",
		action.Tool, cause), true), nil
}

func (m *reasoningMachine) unknownToolObservation(name string) string {
	var names []string
	if m.tools != nil {
		names = m.tools.Names()
	}
	valid := "(none)"
	if len(names) > 0 {
		valid = strings.Join(names, ", ")
	}
	msg := fmt.Sprintf("Error: unknown tool %q. Valid tools are: %s.", name, valid)
	if m.tools != nil {
		if s := m.tools.Suggest(name); s != "" {
			msg += fmt.Sprintf(" Did you mean %q?", s)
		}
	}
	return msg
}

func (m *reasoningMachine) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now().UTC()
}

func parseErrorObservation(err error) string {
	var pe *domain.ParseError
	if !errors.As(err, &pe) {
		return "Error: " + err.Error()
	}
	switch pe.Reason {
	case domain.ParseMissingAction:
		return `Error: your reply had neither an "Action:" nor a "Final Answer:". ` +
			`Reply with "Thought:" then either "Action:" plus "Action Input:", or "Final Answer:".`
	case domain.ParseBlankTool:
		return `Error: the "Action:" line did not name a tool. Use an exact name from the tool list.`
	default:
		return fmt.Sprintf(`Error: the "Action Input:" could not be decoded (%s). It must be one JSON object.`, pe.Detail)
	}
}
