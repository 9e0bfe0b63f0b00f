package domain

import "time"

// RunEventKind tags a progress event of a run.
type RunEventKind string

const (
	EventAgentSwitch      RunEventKind = "agent_switch"
	EventModelOutput      RunEventKind = "model_output"
	EventToolCallStarted  RunEventKind = "tool_call_started"
	EventToolCallFinished RunEventKind = "tool_call_finished"
	EventRunFinished      RunEventKind = "run_finished"
)

// RunEvent is emitted in the exact order the loop performs the underlying action.
// Seq is assigned by the emitter and is strictly increasing within a run.
type RunEvent struct {
	RunID RunID        `json:"run_id"`
	Seq   int          `json:"seq"`
	Kind  RunEventKind `json:"kind"`
	Step  int          `json:"step"`

	// AgentSwitch
	Agent string `json:"agent,omitempty"`

	// ModelOutput
	Text string `json:"text,omitempty"`

	// ToolCallStarted / ToolCallFinished
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Output  string         `json:"output,omitempty"`
	IsError bool           `json:"is_error,omitempty"`

	// RunFinished
	Status RunStatus `json:"status,omitempty"`

	At time.Time `json:"at"`
}
