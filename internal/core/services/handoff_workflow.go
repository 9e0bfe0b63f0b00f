package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
)

const handoffMarker = "HANDOFF:"

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// HandoffWorkflow runs the Planner → Executor → Reviewer composition over the same
// tool registry and oracle contract as ReasoningAgent.
type HandoffWorkflow struct {
	logger *slog.Logger
	tools  *domain.ToolRegistry
	tracer *TraceCollector
	table  domain.HandoffTable

	mu       sync.RWMutex
	oracle   ports.Oracle
	defaults domain.AgentConfig

	now func() time.Time
}

// NewHandoffWorkflow validates the hand-off table and builds the workflow.
// A table that does not declare Planner→Executor, Executor→Reviewer and
// Reviewer→Planner is rejected here, before any run starts.
func NewHandoffWorkflow(logger *slog.Logger, oracle ports.Oracle, tools *domain.ToolRegistry, tracer *TraceCollector, defaults domain.AgentConfig, table domain.HandoffTable) (*HandoffWorkflow, error) {
	if table == nil {
		table = domain.DefaultHandoffTable()
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("handoff table: %w", err)
	}
	for _, edge := range [][2]domain.Role{
		{domain.RolePlanner, domain.RoleExecutor},
		{domain.RoleExecutor, domain.RoleReviewer},
		{domain.RoleReviewer, domain.RolePlanner},
	} {
		if err := table.Check(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("handoff table: %w", err)
		}
	}
	if tools == nil {
		tools = domain.NewToolRegistry()
	}
	return &HandoffWorkflow{
		logger:   logger,
		tools:    tools,
		tracer:   tracer,
		table:    table,
		oracle:   oracle,
		defaults: defaults,
	}, nil
}

// SetOracle swaps the oracle used by runs started afterwards.
func (w *HandoffWorkflow) SetOracle(o ports.Oracle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.oracle = o
}

// SetDefaults replaces the limits used when RunOptions leave them unset.
func (w *HandoffWorkflow) SetDefaults(cfg domain.AgentConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.defaults = cfg
}

// handoffRun is the per-run state. It is owned by one Run call.
type handoffRun struct {
	id       domain.RunID
	task     string
	maxSteps int
	timeout  time.Duration
	extra    string

	role    domain.Role
	state   *domain.SharedState
	run     *domain.RunState
	note    string
	lastOut []string // step IDs produced by the latest Executor turn

	status    domain.RunStatus
	finalText string

	em *eventEmitter
}

// Run executes the workflow until the Reviewer produces an answer, the oracle
// query budget is spent, or the deadline passes.
func (w *HandoffWorkflow) Run(ctx context.Context, runID domain.RunID, task string, opts domain.RunOptions, obs RunObserver) (domain.RunResult, error) {
	w.mu.RLock()
	oracle, defaults := w.oracle, w.defaults
	w.mu.RUnlock()

	maxSteps, timeout, extra := resolveLimits(opts, defaults)
	if runID == "" {
		runID = domain.NewRunID()
	}
	log := w.logger.With("run_id", string(runID))

	ctx, traceID := w.tracer.StartTrace(ctx, runID, traceName("workflow", task), map[string]string{
		"mode":      string(domain.RunModeHandoff),
		"max_steps": fmt.Sprintf("%d", maxSteps),
	})
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hr := &handoffRun{
		id:       runID,
		task:     task,
		maxSteps: maxSteps,
		timeout:  timeout,
		extra:    extra,
		role:     domain.RolePlanner,
		state:    domain.NewSharedState(),
		run:      domain.NewRunState(runID, task, opts.Memory),
		em:       &eventEmitter{obs: obs},
	}
	hr.em.emit(w.event(hr, domain.RunEvent{Kind: domain.EventAgentSwitch, Agent: string(hr.role)}))
	log.Info("handoff workflow started", "max_steps", maxSteps, "timeout", timeout.String())

	var err error
	for hr.status == "" {
		turnCtx, spanID := w.tracer.StartSpan(ctx, "handoff."+string(hr.role), domain.SpanKindHandoff, map[string]string{"role": string(hr.role)})
		var next domain.Role
		switch hr.role {
		case domain.RolePlanner:
			next, err = w.plannerTurn(turnCtx, deadline, oracle, hr)
		case domain.RoleExecutor:
			next, err = w.executorTurn(turnCtx, deadline, hr)
		case domain.RoleReviewer:
			next, err = w.reviewerTurn(turnCtx, deadline, oracle, hr)
		default:
			err = fmt.Errorf("%w: unknown role %q", domain.ErrHandoffNotAllowed, hr.role)
		}
		if err != nil {
			w.tracer.EndSpan(spanID, domain.SpanStatusError, "", err.Error())
			break
		}
		w.tracer.EndSpan(spanID, domain.SpanStatusOK, string(next), "")

		if hr.status != "" || next == hr.role {
			continue
		}
		if err = w.table.Check(hr.role, next); err != nil {
			break
		}
		log.Info("hand-off", "from", string(hr.role), "to", string(next))
		hr.role = next
		hr.em.emit(w.event(hr, domain.RunEvent{Kind: domain.EventAgentSwitch, Agent: string(hr.role)}))
	}

	if err != nil {
		res, rerr := w.abort(hr, err)
		w.tracer.EndTrace(traceID, spanStatusFor(res.Status), res.Error)
		log.Warn("handoff workflow aborted", "status", res.Status, "role", string(hr.role), "error", rerr)
		return res, rerr
	}

	hr.run.Memory = hr.run.Memory.Append(domain.RoleAssistant, hr.finalText)
	hr.em.emit(w.event(hr, domain.RunEvent{Kind: domain.EventRunFinished, Text: hr.finalText, Status: hr.status}))
	w.tracer.EndTrace(traceID, domain.SpanStatusOK, "")

	res := w.result(hr)
	log.Info("handoff workflow finished", "status", res.Status, "steps", res.Steps, "plan_items", len(hr.state.Plan))
	return res, nil
}

// plannerTurn asks the oracle for a plan. An unusable reply is fed back and
// the Planner asks again, within the same query budget.
func (w *HandoffWorkflow) plannerTurn(ctx, deadline context.Context, oracle ports.Oracle, hr *handoffRun) (domain.Role, error) {
	if w.budgetSpent(hr) {
		return hr.role, nil
	}
	reply, err := w.query(ctx, deadline, oracle, hr, w.plannerPrompt(hr))
	if err != nil {
		return hr.role, err
	}

	items, perr := parsePlan(reply)
	if perr != nil {
		hr.run.AppendStep(domain.Observation("Planner error: "+perr.Error(), true))
		hr.note = "Your previous plan could not be used (" + perr.Error() + "). Reply with a JSON array of {\"name\", \"args\"} objects."
		return hr.role, nil
	}

	hr.run.AppendStep(domain.Thought(fmt.Sprintf("Planner proposed %d step(s)", len(items))))
	hr.state.Plan = append(hr.state.Plan, items...)
	hr.note = ""
	return domain.RoleExecutor, nil
}

// executorTurn runs every pending plan item in order without consulting the oracle.
func (w *HandoffWorkflow) executorTurn(ctx, deadline context.Context, hr *handoffRun) (domain.Role, error) {
	if len(hr.state.Plan) == 0 {
		return hr.role, domain.ErrEmptyPlan
	}

	hr.lastOut = nil
	failures := 0
	for i := hr.state.NextPending(); i >= 0; i = hr.state.NextPending() {
		item := hr.state.Plan[i]
		id := domain.PlanStepID(i)

		hr.run.AppendStep(domain.Action(item.Name, item.Args))
		hr.em.emit(w.event(hr, domain.RunEvent{Kind: domain.EventToolCallStarted, Tool: item.Name, Args: item.Args}))

		spanCtx, spanID := w.tracer.StartSpan(ctx, "tool."+item.Name, domain.SpanKindTool, map[string]string{"tool": item.Name, "plan_step": id})
		res, err := awaitCall(deadline, func() (domain.ToolResult, error) {
			return w.tools.Invoke(spanCtx, item.Name, item.Args)
		})
		if derr := deadline.Err(); err != nil && derr != nil {
			w.tracer.EndSpan(spanID, domain.SpanStatusCancelled, "", derr.Error())
			return hr.role, deadlineError(derr)
		}

		outcome := domain.StepOutcome{Tool: item.Name}
		if err != nil {
			w.tracer.EndSpan(spanID, domain.SpanStatusError, "", err.Error())
			outcome.Content = fmt.Sprintf("Error: %s failed: %v", item.Name, err)
			outcome.IsError = true
			failures++
		} else {
			w.tracer.EndSpan(spanID, domain.SpanStatusOK, res.Content, "")
			outcome.Content = res.Content
			hr.run.Sources = append(hr.run.Sources, domain.ToolCallRecord{
				Tool:        item.Name,
				Args:        item.Args,
				Observation: res.Content,
				Structured:  res.Structured,
				At:          w.clock(),
			})
		}
		hr.state.Results[id] = outcome
		hr.lastOut = append(hr.lastOut, id)

		hr.run.AppendStep(domain.Observation(outcome.Content, outcome.IsError))
		hr.em.emit(w.event(hr, domain.RunEvent{
			Kind:    domain.EventToolCallFinished,
			Tool:    item.Name,
			Args:    item.Args,
			Output:  outcome.Content,
			IsError: outcome.IsError,
		}))
	}

	if failures > 0 && failures == len(hr.lastOut) && w.table.Allows(domain.RoleExecutor, domain.RolePlanner) {
		hr.note = "Every step of the last plan failed. Propose different tool calls."
		return domain.RolePlanner, nil
	}
	return domain.RoleReviewer, nil
}

// reviewerTurn synthesizes the answer, or hands control back to the Planner.
func (w *HandoffWorkflow) reviewerTurn(ctx, deadline context.Context, oracle ports.Oracle, hr *handoffRun) (domain.Role, error) {
	if !hr.state.Complete() {
		return hr.role, domain.ErrPlanIncomplete
	}
	if w.budgetSpent(hr) {
		return hr.role, nil
	}
	reply, err := w.query(ctx, deadline, oracle, hr, w.reviewerPrompt(hr))
	if err != nil {
		return hr.role, err
	}

	text := strings.TrimSpace(reply)
	if target, rest, ok := parseHandoff(text); ok {
		if target == domain.RolePlanner && w.table.Allows(domain.RoleReviewer, domain.RolePlanner) {
			hr.run.AppendStep(domain.Thought("Reviewer: " + rest))
			hr.note = rest
			return domain.RolePlanner, nil
		}
		// Rejected hand-offs are fed back; the Reviewer gets another turn.
		msg := fmt.Sprintf("Error: hand-off from %s to %q is not allowed. Reply with the final answer", domain.RoleReviewer, target)
		if w.table.Allows(domain.RoleReviewer, domain.RolePlanner) {
			msg += ` or "` + handoffMarker + ` Planner" followed by what is missing`
		}
		msg += "."
		hr.run.AppendStep(domain.Observation(msg, true))
		hr.note = msg
		return hr.role, nil
	}

	if m := finalAnswerRe.FindStringSubmatch(text); len(m) > 1 {
		text = strings.TrimSpace(m[1])
	}
	hr.run.AppendStep(domain.FinalAnswer(text))
	hr.finalText = text
	hr.status = domain.RunStatusCompleted
	return hr.role, nil
}

// budgetSpent finalizes the run when the oracle query budget is exhausted.
func (w *HandoffWorkflow) budgetSpent(hr *handoffRun) bool {
	if hr.run.StepCounter < hr.maxSteps {
		return false
	}
	hr.run.AppendStep(domain.FinalAnswer(stepLimitAnswer))
	hr.finalText = stepLimitAnswer
	hr.status = domain.RunStatusStepLimit
	return true
}

func (w *HandoffWorkflow) query(ctx, deadline context.Context, oracle ports.Oracle, hr *handoffRun, prompt domain.ModelPrompt) (string, error) {
	if oracle == nil {
		return "", errors.New("oracle: not configured")
	}
	spanCtx, spanID := w.tracer.StartSpan(ctx, fmt.Sprintf("llm.%s (step %d)", strings.ToLower(string(hr.role)), hr.run.StepCounter+1), domain.SpanKindLLM, nil)
	if mn, ok := oracle.(modelNamer); ok {
		w.tracer.SetSpanModel(spanID, mn.Model())
	}
	w.tracer.SetSpanInput(spanID, prompt.Messages[len(prompt.Messages)-1].Content)

	reply, err := awaitCall(deadline, func() (domain.Message, error) {
		return oracle.Complete(spanCtx, prompt)
	})
	switch {
	case errors.Is(err, domain.ErrTimeout):
		w.tracer.EndSpan(spanID, domain.SpanStatusCancelled, "", err.Error())
		return "", err
	case err != nil:
		w.tracer.EndSpan(spanID, domain.SpanStatusError, "", err.Error())
		return "", fmt.Errorf("oracle: %w", err)
	}
	w.tracer.EndSpan(spanID, domain.SpanStatusOK, reply.Content, "")

	hr.run.StepCounter++
	hr.em.emit(w.event(hr, domain.RunEvent{Kind: domain.EventModelOutput, Agent: string(hr.role), Text: reply.Content}))
	return reply.Content, nil
}

func (w *HandoffWorkflow) plannerPrompt(hr *handoffRun) domain.ModelPrompt {
	var sys strings.Builder
	sys.WriteString(scoutIdentity)
	sys.WriteString(`

You are the Planner. Break the task into an ordered list of tool calls.
Reply with ONLY a JSON array, no prose:
[{"name": "<exact tool name>", "args": {<tool arguments>}}]
Each step runs without seeing the output of earlier steps, so only plan calls whose arguments you already know.

`)
	sys.WriteString(w.tools.FormatToolsForPrompt())
	if ctx := strings.TrimSpace(hr.extra); ctx != "" {
		sys.WriteString("\nADDITIONAL CONTEXT:\n")
		sys.WriteString(ctx)
	}

	var user strings.Builder
	user.WriteString("Task: ")
	user.WriteString(hr.task)
	if len(hr.state.Results) > 0 {
		user.WriteString("\n\nResults so far:\n")
		user.WriteString(formatResults(hr.state))
	}
	if hr.note != "" {
		user.WriteString("\n\nNote: ")
		user.WriteString(hr.note)
	}
	return w.withHistory(hr, sys.String(), user.String())
}

func (w *HandoffWorkflow) reviewerPrompt(hr *handoffRun) domain.ModelPrompt {
	sys := scoutIdentity + `

You are the Reviewer. Write a concise answer to the task using only the results below,
and cite the tool each fact came from.
If the results are not enough to answer, reply with "` + handoffMarker + ` Planner" followed by what is missing.`

	user := "Task: " + hr.task + "\n\nResults:\n" + formatResults(hr.state)
	if hr.note != "" {
		user += "\n\nNote: " + hr.note
	}
	return w.withHistory(hr, sys, user)
}

// withHistory places inherited conversation turns between the system message and the role's request.
func (w *HandoffWorkflow) withHistory(hr *handoffRun, system, request string) domain.ModelPrompt {
	msgs := []domain.Message{{Role: domain.RoleSystem, Content: system}}
	history := hr.run.Memory
	if n := len(history); n > 0 {
		history = history[:n-1] // the task itself goes into the request
	}
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		msgs = append(msgs, domain.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: request})
	return domain.ModelPrompt{Messages: msgs}
}

func (w *HandoffWorkflow) abort(hr *handoffRun, cause error) (domain.RunResult, error) {
	res := w.result(hr)
	res.FinalText = ""
	if errors.Is(cause, domain.ErrTimeout) {
		res.Status = domain.RunStatusTimedOut
		res.Error = fmt.Sprintf("run timed out after %s", hr.timeout)
		cause = fmt.Errorf("%w after %s", domain.ErrTimeout, hr.timeout)
	} else {
		res.Status = domain.RunStatusFailed
		res.Error = cause.Error()
	}
	hr.em.emit(w.event(hr, domain.RunEvent{Kind: domain.EventRunFinished, Text: res.Error, Status: res.Status}))
	return res, cause
}

func (w *HandoffWorkflow) result(hr *handoffRun) domain.RunResult {
	return domain.RunResult{
		RunID:     hr.id,
		Status:    hr.status,
		FinalText: hr.finalText,
		Sources:   hr.run.Sources,
		Trace:     hr.run.Trace,
		Memory:    hr.run.Memory,
		Steps:     hr.run.StepCounter,
	}
}

func (w *HandoffWorkflow) event(hr *handoffRun, ev domain.RunEvent) domain.RunEvent {
	ev.RunID = hr.id
	ev.Step = hr.run.StepCounter
	ev.At = w.clock()
	return ev
}

func (w *HandoffWorkflow) clock() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now().UTC()
}

// parsePlan extracts the JSON plan from a Planner reply. Both a bare array and
// an object with a "plan" field are accepted, optionally inside a code fence.
func parsePlan(reply string) ([]domain.PlanItem, error) {
	text := strings.TrimSpace(reply)
	if m := codeFenceRe.FindStringSubmatch(text); len(m) > 1 {
		text = strings.TrimSpace(m[1])
	}

	var items []domain.PlanItem
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
			var wrapped struct {
				Plan []domain.PlanItem `json:"plan"`
			}
			if werr := json.Unmarshal([]byte(text), &wrapped); werr != nil {
				return nil, fmt.Errorf("plan is not valid JSON: %v", err)
			}
			items = wrapped.Plan
		}
	} else {
		return nil, errors.New("no JSON array found")
	}

	if len(items) == 0 {
		return nil, domain.ErrEmptyPlan
	}
	for i, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return nil, fmt.Errorf("plan item %d has no tool name", i+1)
		}
		if it.Args == nil {
			items[i].Args = map[string]any{}
		}
	}
	return items, nil
}

// parseHandoff reports whether text starts with "HANDOFF: <role>" and returns
// the named role and the remainder. Known role names are matched case-insensitively.
func parseHandoff(text string) (domain.Role, string, bool) {
	if len(text) < len(handoffMarker) || !strings.EqualFold(text[:len(handoffMarker)], handoffMarker) {
		return "", "", false
	}
	rest := strings.TrimSpace(text[len(handoffMarker):])
	end := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(rest)
	}
	role := domain.Role(rest[:end])
	for _, known := range []domain.Role{domain.RolePlanner, domain.RoleExecutor, domain.RoleReviewer} {
		if strings.EqualFold(string(role), string(known)) {
			role = known
		}
	}
	rest = strings.TrimLeft(strings.TrimSpace(rest[end:]), ":.- ")
	return role, rest, true
}

func formatResults(state *domain.SharedState) string {
	var b strings.Builder
	for i := range state.Plan {
		id := domain.PlanStepID(i)
		out, ok := state.Results[id]
		if !ok {
			continue
		}
		args, _ := json.Marshal(state.Plan[i].Args)
		fmt.Fprintf(&b, "[%s] %s %s\n%s\n", id, out.Tool, args, truncate(out.Content, maxInputOutput))
	}
	return strings.TrimRight(b.String(), "\n")
}
