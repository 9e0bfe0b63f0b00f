package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunID uniquely identifies one reasoning run.
type RunID string

// NewRunID returns a fresh run identifier (run-<uuid>).
func NewRunID() RunID {
	return RunID("run-" + uuid.New().String())
}

// StepKind tags the variant held by a ReasoningStep.
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
	StepFinalAnswer StepKind = "final_answer"
)

// ReasoningStep is one unit of the reasoning trace. Only the fields of its Kind are set.
type ReasoningStep struct {
	Kind StepKind `json:"kind"`

	// Thought, Observation and FinalAnswer carry their payload in Text.
	Text string `json:"text,omitempty"`

	// Action fields.
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`

	// IsError marks observations that describe a failure.
	IsError bool `json:"is_error,omitempty"`
}

// Thought builds a thought step.
func Thought(text string) ReasoningStep {
	return ReasoningStep{Kind: StepThought, Text: text}
}

// Action builds an action step.
func Action(tool string, args map[string]any) ReasoningStep {
	return ReasoningStep{Kind: StepAction, Tool: tool, Args: args}
}

// Observation builds an observation step.
func Observation(text string, isError bool) ReasoningStep {
	return ReasoningStep{Kind: StepObservation, Text: text, IsError: isError}
}

// FinalAnswer builds a final answer step.
func FinalAnswer(text string) ReasoningStep {
	return ReasoningStep{Kind: StepFinalAnswer, Text: text}
}

// ReasoningTrace is the append-only sequence of steps for one run.
type ReasoningTrace []ReasoningStep

// ParsedReply is what the parser extracts from one oracle reply:
// an optional thought plus either actions or a final answer.
type ParsedReply struct {
	Thought string
	Actions []ReasoningStep
	Final   *ReasoningStep
}

// ToolCallRecord is one tool invocation kept for later citation.
type ToolCallRecord struct {
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args,omitempty"`
	Observation string         `json:"observation"`
	Structured  any            `json:"structured,omitempty"`
	Error       string         `json:"error,omitempty"`
	At          time.Time      `json:"at"`
}

// SourcesLog accumulates successful tool outputs of a run.
type SourcesLog []ToolCallRecord

// RunState is the complete mutable context of one in-progress run.
// It is owned by exactly one loop execution.
type RunState struct {
	RunID       RunID              `json:"run_id"`
	Task        string             `json:"task"`
	Memory      ConversationMemory `json:"memory"`
	Trace       ReasoningTrace     `json:"trace"`
	Sources     SourcesLog         `json:"sources"`
	StepCounter int                `json:"step_counter"`
}

// NewRunState seeds a run from its task and an optionally inherited memory.
func NewRunState(id RunID, task string, inherited ConversationMemory) *RunState {
	mem := inherited.Clone()
	mem = mem.Append(RoleUser, task)
	return &RunState{
		RunID:  id,
		Task:   task,
		Memory: mem,
	}
}

// AppendStep adds a step to the trace.
func (s *RunState) AppendStep(step ReasoningStep) {
	s.Trace = append(s.Trace, step)
}

// RunStatus is the terminal outcome of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStepLimit RunStatus = "step_limit"
	RunStatusTimedOut  RunStatus = "timed_out"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning && s != ""
}

// RunResult is the payload handed back to the caller when a run ends.
type RunResult struct {
	RunID     RunID              `json:"run_id"`
	Status    RunStatus          `json:"status"`
	FinalText string             `json:"final_text"`
	Sources   SourcesLog         `json:"sources"`
	Trace     ReasoningTrace     `json:"trace"`
	Memory    ConversationMemory `json:"memory,omitempty"`
	Steps     int                `json:"steps"`
	Error     string             `json:"error,omitempty"`
}

// RunOptions are the per-run knobs. Zero values fall back to AgentConfig defaults.
type RunOptions struct {
	MaxSteps     int
	Timeout      time.Duration
	ExtraContext string
	Memory       ConversationMemory
}

// RunMode distinguishes the single-agent loop from the hand-off workflow.
type RunMode string

const (
	RunModeReasoning RunMode = "reasoning"
	RunModeHandoff   RunMode = "handoff"
)

// RunRecord is the persisted view of a finished run.
type RunRecord struct {
	ID             RunID          `json:"id"`
	Mode           RunMode        `json:"mode"`
	Task           string         `json:"task"`
	ConversationID ConversationID `json:"conversation_id,omitempty"`
	Status         RunStatus      `json:"status"`
	FinalText      string         `json:"final_text"`
	Steps          int            `json:"steps"`
	Sources        SourcesLog     `json:"sources"`
	Trace          ReasoningTrace `json:"trace"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}
