package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
)

// ScoutAgentName is the agent name announced by the single-agent loop.
const ScoutAgentName = "TechScout"

// modelNamer is implemented by oracles that know which model they talk to.
type modelNamer interface {
	Model() string
}

// ReasoningAgent drives the reasoning state machine: it performs the oracle and
// tool calls the machine waits on and feeds their results back in.
type ReasoningAgent struct {
	logger *slog.Logger
	tools  *domain.ToolRegistry
	tracer *TraceCollector

	mu       sync.RWMutex
	oracle   ports.Oracle
	defaults domain.AgentConfig

	now func() time.Time
}

// NewReasoningAgent creates an agent. tracer may be nil.
func NewReasoningAgent(logger *slog.Logger, oracle ports.Oracle, tools *domain.ToolRegistry, tracer *TraceCollector, defaults domain.AgentConfig) *ReasoningAgent {
	if tools == nil {
		tools = domain.NewToolRegistry()
	}
	return &ReasoningAgent{
		logger:   logger,
		oracle:   oracle,
		tools:    tools,
		tracer:   tracer,
		defaults: defaults,
	}
}

// SetOracle swaps the oracle used by runs started afterwards.
func (a *ReasoningAgent) SetOracle(o ports.Oracle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.oracle = o
}

// SetDefaults replaces the agent limits used when RunOptions leave them unset.
func (a *ReasoningAgent) SetDefaults(cfg domain.AgentConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.defaults = cfg
}

// Tools exposes the registry the agent dispatches to.
func (a *ReasoningAgent) Tools() *domain.ToolRegistry {
	return a.tools
}

func (a *ReasoningAgent) snapshot() (ports.Oracle, domain.AgentConfig) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.oracle, a.defaults
}

// resolveLimits merges per-run options over the configured defaults.
func resolveLimits(opts domain.RunOptions, defaults domain.AgentConfig) (int, time.Duration, string) {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaults.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = domain.DefaultMaxSteps
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaults.Timeout()
	}
	if timeout <= 0 {
		timeout = domain.DefaultTimeoutSeconds * time.Second
	}
	extra := opts.ExtraContext
	if extra == "" {
		extra = defaults.ExtraContext
	}
	return maxSteps, timeout, extra
}

// Run executes one reasoning run to completion.
//
// Tool failures and malformed replies never abort the run. The returned error is
// non-nil only when the run timed out (wrapping domain.ErrTimeout) or the oracle
// transport failed; the RunResult is filled in every case.
func (a *ReasoningAgent) Run(ctx context.Context, runID domain.RunID, task string, opts domain.RunOptions, obs RunObserver) (domain.RunResult, error) {
	oracle, defaults := a.snapshot()
	maxSteps, timeout, extra := resolveLimits(opts, defaults)
	if runID == "" {
		runID = domain.NewRunID()
	}
	log := a.logger.With("run_id", string(runID))

	ctx, traceID := a.tracer.StartTrace(ctx, runID, traceName("run", task), map[string]string{
		"max_steps": fmt.Sprintf("%d", maxSteps),
		"timeout":   timeout.String(),
	})

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m := &reasoningMachine{
		agent:        ScoutAgentName,
		runID:        runID,
		tools:        a.tools,
		maxSteps:     maxSteps,
		extraContext: extra,
		now:          a.now,
	}
	em := &eventEmitter{obs: obs}
	st := loopState{phase: phaseInit, task: task, inherited: opts.Memory}

	log.Info("reasoning run started", "max_steps", maxSteps, "timeout", timeout.String())

	var in loopInput
	for st.phase != phaseDone {
		switch st.phase {
		case phaseQuery:
			reply, err := a.query(ctx, deadline, oracle, st)
			if err != nil {
				res, rerr := a.abort(m, em, st, timeout, err)
				a.tracer.EndTrace(traceID, spanStatusFor(res.Status), res.Error)
				log.Warn("reasoning run aborted", "status", res.Status, "step", res.Steps, "error", rerr)
				return res, rerr
			}
			log.Debug("oracle replied", "step", st.run.StepCounter+1, "reply", truncate(reply.Content, 200))
			in = loopInput{reply: &reply}

		case phaseAwaitTool:
			action := st.pending[st.cursor]
			out, err := a.invoke(ctx, deadline, action)
			if err != nil {
				res, rerr := a.abort(m, em, st, timeout, err)
				a.tracer.EndTrace(traceID, spanStatusFor(res.Status), res.Error)
				log.Warn("reasoning run aborted", "status", res.Status, "tool", action.Tool, "error", rerr)
				return res, rerr
			}
			if out.err != nil {
				log.Info("tool call failed", "tool", action.Tool, "error", out.err)
			}
			in = loopInput{outcome: &out}
		}

		var events []domain.RunEvent
		st, events = m.step(st, in)
		in = loopInput{}
		em.emit(events...)
	}

	res := resultOf(st)
	a.tracer.EndTrace(traceID, domain.SpanStatusOK, "")
	log.Info("reasoning run finished", "status", res.Status, "steps", res.Steps, "sources", len(res.Sources))
	return res, nil
}

// query performs the single oracle call of phaseQuery, racing it against the deadline.
func (a *ReasoningAgent) query(ctx, deadline context.Context, oracle ports.Oracle, st loopState) (domain.Message, error) {
	if oracle == nil {
		return domain.Message{}, errors.New("oracle: not configured")
	}
	step := st.run.StepCounter + 1
	spanCtx, spanID := a.tracer.StartSpan(ctx, fmt.Sprintf("llm.query (step %d)", step), domain.SpanKindLLM, map[string]string{
		"step": fmt.Sprintf("%d", step),
	})
	if len(st.prompt.Messages) > 0 {
		last := st.prompt.Messages[len(st.prompt.Messages)-1].Content
		a.tracer.SetSpanInput(spanID, tailBytes(last, 500))
	}
	if mn, ok := oracle.(modelNamer); ok {
		a.tracer.SetSpanModel(spanID, mn.Model())
	}

	reply, err := awaitCall(deadline, func() (domain.Message, error) {
		return oracle.Complete(spanCtx, st.prompt)
	})
	switch {
	case errors.Is(err, domain.ErrTimeout):
		a.tracer.EndSpan(spanID, domain.SpanStatusCancelled, "", err.Error())
		return domain.Message{}, err
	case err != nil:
		a.tracer.EndSpan(spanID, domain.SpanStatusError, "", err.Error())
		return domain.Message{}, fmt.Errorf("oracle: %w", err)
	}
	a.tracer.EndSpan(spanID, domain.SpanStatusOK, reply.Content, "")
	return reply, nil
}

// invoke runs one pending action. Tool failures come back inside the outcome;
// the error return is reserved for the run deadline.
func (a *ReasoningAgent) invoke(ctx, deadline context.Context, action domain.ReasoningStep) (toolOutcome, error) {
	spanCtx, spanID := a.tracer.StartSpan(ctx, "tool."+action.Tool, domain.SpanKindTool, map[string]string{"tool": action.Tool})
	a.tracer.SetSpanInput(spanID, fmt.Sprintf("%v", action.Args))

	res, err := awaitCall(deadline, func() (domain.ToolResult, error) {
		return a.tools.Invoke(spanCtx, action.Tool, action.Args)
	})
	if derr := deadline.Err(); err != nil && derr != nil {
		a.tracer.EndSpan(spanID, domain.SpanStatusCancelled, "", derr.Error())
		return toolOutcome{}, deadlineError(derr)
	}
	if err != nil {
		a.tracer.EndSpan(spanID, domain.SpanStatusError, "", err.Error())
		return toolOutcome{err: err}, nil
	}
	a.tracer.EndSpan(spanID, domain.SpanStatusOK, res.Content, "")
	return toolOutcome{result: res}, nil
}

// abort ends the run outside the normal Finalize path. Whatever the pending call
// produced is discarded; RunState stays as it was before the call.
func (a *ReasoningAgent) abort(m *reasoningMachine, em *eventEmitter, st loopState, timeout time.Duration, cause error) (domain.RunResult, error) {
	res := resultOf(st)
	if errors.Is(cause, domain.ErrTimeout) {
		res.Status = domain.RunStatusTimedOut
		res.Error = fmt.Sprintf("run timed out after %s", timeout)
		cause = fmt.Errorf("%w after %s", domain.ErrTimeout, timeout)
	} else {
		res.Status = domain.RunStatusFailed
		res.Error = cause.Error()
	}
	res.FinalText = ""
	em.emit(m.event(st, domain.RunEvent{
		Kind:   domain.EventRunFinished,
		Text:   res.Error,
		Status: res.Status,
	}))
	return res, cause
}

// awaitCall runs call in its own goroutine and waits for either its result or the
// deadline. The call keeps running after a timeout; its result is dropped.
func awaitCall[T any](deadline context.Context, call func() (T, error)) (T, error) {
	var zero T
	if err := deadline.Err(); err != nil {
		return zero, deadlineError(err)
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-deadline.Done():
		return zero, deadlineError(deadline.Err())
	}
}

func deadlineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout
	}
	return err
}

func resultOf(st loopState) domain.RunResult {
	res := domain.RunResult{
		Status:    st.status,
		FinalText: st.finalText,
	}
	if st.run != nil {
		res.RunID = st.run.RunID
		res.Sources = st.run.Sources
		res.Trace = st.run.Trace
		res.Memory = st.run.Memory
		res.Steps = st.run.StepCounter
	}
	return res
}

func spanStatusFor(s domain.RunStatus) domain.SpanStatus {
	switch s {
	case domain.RunStatusCompleted, domain.RunStatusStepLimit:
		return domain.SpanStatusOK
	case domain.RunStatusTimedOut:
		return domain.SpanStatusCancelled
	default:
		return domain.SpanStatusError
	}
}

func traceName(kind, task string) string {
	name := strings.ToValidUTF8(kind+": "+task, "\uFFFD")
	if len(name) > 80 {
		name = clipBytes(name, 80) + "..."
	}
	return name
}
