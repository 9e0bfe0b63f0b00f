package domain

import "fmt"

// Role names an agent in the hand-off workflow.
type Role string

const (
	RolePlanner  Role = "Planner"
	RoleExecutor Role = "Executor"
	RoleReviewer Role = "Reviewer"
)

// HandoffTable lists, per role, the roles it may transfer control to.
type HandoffTable map[Role][]Role

// DefaultHandoffTable is Planner→Executor, Executor→{Planner, Reviewer}, Reviewer→{Planner}.
func DefaultHandoffTable() HandoffTable {
	return HandoffTable{
		RolePlanner:  {RoleExecutor},
		RoleExecutor: {RolePlanner, RoleReviewer},
		RoleReviewer: {RolePlanner},
	}
}

// Allows reports whether from may hand off to to.
func (t HandoffTable) Allows(from, to Role) bool {
	for _, r := range t[from] {
		if r == to {
			return true
		}
	}
	return false
}

// Check returns ErrHandoffNotAllowed when from→to is not declared.
func (t HandoffTable) Check(from, to Role) error {
	if !t.Allows(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrHandoffNotAllowed, from, to)
	}
	return nil
}

// Validate rejects tables that reference undeclared roles.
func (t HandoffTable) Validate() error {
	for from, targets := range t {
		for _, to := range targets {
			if _, ok := t[to]; !ok {
				return fmt.Errorf("%w: %s -> %s (unknown role)", ErrHandoffNotAllowed, from, to)
			}
		}
	}
	return nil
}

// PlanItem is one tool call proposed by the Planner.
type PlanItem struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// PlanStepID is the identity of a plan item in the results map.
func PlanStepID(index int) string {
	return fmt.Sprintf("step-%d", index+1)
}

// StepOutcome records what executing a plan item produced.
type StepOutcome struct {
	Tool    string `json:"tool"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// SharedState travels across hand-offs. A nil Plan means the Planner has not run yet.
type SharedState struct {
	Plan    []PlanItem             `json:"plan"`
	Results map[string]StepOutcome `json:"results"`
}

// NewSharedState returns the initial {plan: uninitialized, results: {}} state.
func NewSharedState() *SharedState {
	return &SharedState{Results: map[string]StepOutcome{}}
}

// NextPending returns the index of the first plan item without a result, or -1.
func (s *SharedState) NextPending() int {
	for i := range s.Plan {
		if _, done := s.Results[PlanStepID(i)]; !done {
			return i
		}
	}
	return -1
}

// Complete reports whether every plan item has a recorded result.
func (s *SharedState) Complete() bool {
	return len(s.Plan) > 0 && s.NextPending() < 0
}
