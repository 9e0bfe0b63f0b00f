package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
	"golang.org/x/sync/semaphore"
)

// contextWindow bounds how much inherited memory a run receives.
const contextWindow = 20

// RunRequest is what a caller submits.
type RunRequest struct {
	Mode           domain.RunMode
	Task           string
	ConversationID domain.ConversationID
	MaxSteps       int
	Timeout        time.Duration
	ExtraContext   string
}

// RunService is the entry point for reasoning runs: it limits concurrency,
// carries conversation memory between runs, fans events out on the bus and
// persists every finished run.
type RunService struct {
	logger   *slog.Logger
	agent    *ReasoningAgent
	workflow *HandoffWorkflow // optional
	convs    *ConversationStore
	runs     ports.RunRepository // optional
	bus      *EventBus           // optional
	sem      *semaphore.Weighted

	mu     sync.RWMutex
	active map[domain.RunID]domain.RunRecord
	wg     sync.WaitGroup
}

// NewRunService wires the run façade. maxConcurrent <= 0 defaults to 4.
func NewRunService(logger *slog.Logger, agent *ReasoningAgent, workflow *HandoffWorkflow, convs *ConversationStore, runs ports.RunRepository, bus *EventBus, maxConcurrent int) *RunService {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &RunService{
		logger:   logger,
		agent:    agent,
		workflow: workflow,
		convs:    convs,
		runs:     runs,
		bus:      bus,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		active:   make(map[domain.RunID]domain.RunRecord),
	}
}

// SetOracle hot-swaps the oracle of both run modes.
func (s *RunService) SetOracle(o ports.Oracle) {
	s.agent.SetOracle(o)
	if s.workflow != nil {
		s.workflow.SetOracle(o)
	}
}

// SetAgentDefaults updates the limits applied when a request leaves them unset.
func (s *RunService) SetAgentDefaults(cfg domain.AgentConfig) {
	s.agent.SetDefaults(cfg)
	if s.workflow != nil {
		s.workflow.SetDefaults(cfg)
	}
}

// Tools exposes the registry shared by both run modes.
func (s *RunService) Tools() *domain.ToolRegistry {
	return s.agent.Tools()
}

// Execute runs a request to completion and returns its record.
// A timed-out or failed run still returns its record alongside the error.
func (s *RunService) Execute(ctx context.Context, req RunRequest, obs RunObserver) (domain.RunRecord, error) {
	rec, err := s.begin(req)
	if err != nil {
		return domain.RunRecord{}, err
	}
	return s.execute(ctx, rec, req, obs)
}

// Start launches a request in the background and returns the running record at once.
// Progress is published on the event bus under the run ID.
func (s *RunService) Start(ctx context.Context, req RunRequest) (domain.RunRecord, error) {
	rec, err := s.begin(req)
	if err != nil {
		return domain.RunRecord{}, err
	}
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(runCtx, rec, req, nil); err != nil {
			s.logger.Warn("background run ended with error", "run_id", string(rec.ID), "error", err)
		}
	}()
	return rec, nil
}

// Wait blocks until every background run has finished.
func (s *RunService) Wait() {
	s.wg.Wait()
}

func (s *RunService) begin(req RunRequest) (domain.RunRecord, error) {
	if strings.TrimSpace(req.Task) == "" {
		return domain.RunRecord{}, domain.ErrEmptyTask
	}
	switch req.Mode {
	case "":
		req.Mode = domain.RunModeReasoning
	case domain.RunModeReasoning:
	case domain.RunModeHandoff:
		if s.workflow == nil {
			return domain.RunRecord{}, fmt.Errorf("run mode %q is not configured", req.Mode)
		}
	default:
		return domain.RunRecord{}, fmt.Errorf("unknown run mode %q", req.Mode)
	}

	rec := domain.RunRecord{
		ID:             domain.NewRunID(),
		Mode:           req.Mode,
		Task:           req.Task,
		ConversationID: req.ConversationID,
		Status:         domain.RunStatusRunning,
		StartedAt:      time.Now().UTC(),
	}
	s.mu.Lock()
	s.active[rec.ID] = rec
	s.mu.Unlock()
	return rec, nil
}

func (s *RunService) execute(ctx context.Context, rec domain.RunRecord, req RunRequest, obs RunObserver) (domain.RunRecord, error) {
	log := s.logger.With("run_id", string(rec.ID), "mode", string(rec.Mode))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return s.finish(ctx, rec, domain.RunResult{Status: domain.RunStatusFailed, Error: err.Error()}, err)
	}
	defer s.sem.Release(1)

	var mem domain.ConversationMemory
	if s.convs != nil {
		var err error
		if mem, err = s.convs.Load(ctx, rec.ConversationID); err != nil {
			log.Warn("conversation memory unavailable, starting fresh", "conversation_id", string(rec.ConversationID), "error", err)
			mem = nil
		}
	}

	opts := domain.RunOptions{
		MaxSteps:     req.MaxSteps,
		Timeout:      req.Timeout,
		ExtraContext: req.ExtraContext,
		Memory:       BuildContextWindow(mem, contextWindow),
	}

	observer := &finishGate{next: MultiObserver{NewBusObserver(s.bus), obs}}
	var (
		res domain.RunResult
		err error
	)
	if rec.Mode == domain.RunModeHandoff {
		res, err = s.workflow.Run(ctx, rec.ID, rec.Task, opts, observer)
	} else {
		res, err = s.agent.Run(ctx, rec.ID, rec.Task, opts, observer)
	}

	if err == nil && s.convs != nil && rec.ConversationID != "" {
		// keep the full history, not only the window the run saw
		full := append(mem.Clone(), res.Memory[len(opts.Memory):]...)
		if serr := s.convs.Save(ctx, rec.ConversationID, full); serr != nil {
			log.Warn("failed to save conversation memory", "error", serr)
		}
	}
	rec, err = s.finish(ctx, rec, res, err)
	observer.release()
	return rec, err
}

// finishGate holds run_finished back until the record is stored, so a client
// reacting to the event reads the final record.
type finishGate struct {
	next RunObserver

	mu   sync.Mutex
	held *domain.RunEvent
}

func (g *finishGate) OnEvent(ev domain.RunEvent) {
	if ev.Kind == domain.EventRunFinished {
		g.mu.Lock()
		g.held = &ev
		g.mu.Unlock()
		return
	}
	g.next.OnEvent(ev)
}

func (g *finishGate) release() {
	g.mu.Lock()
	held := g.held
	g.held = nil
	g.mu.Unlock()
	if held != nil {
		g.next.OnEvent(*held)
	}
}

func (s *RunService) finish(ctx context.Context, rec domain.RunRecord, res domain.RunResult, runErr error) (domain.RunRecord, error) {
	now := time.Now().UTC()
	rec.Status = res.Status
	if rec.Status == "" {
		rec.Status = domain.RunStatusFailed
	}
	rec.FinalText = res.FinalText
	rec.Steps = res.Steps
	rec.Sources = res.Sources
	rec.Trace = res.Trace
	rec.Error = res.Error
	if runErr != nil && rec.Error == "" {
		rec.Error = runErr.Error()
	}
	rec.FinishedAt = &now

	if s.runs != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := s.runs.SaveRun(saveCtx, rec); err != nil {
			s.logger.Warn("failed to persist run", "run_id", string(rec.ID), "error", err)
		}
		cancel()
	}

	s.mu.Lock()
	if s.runs != nil {
		delete(s.active, rec.ID)
	} else {
		s.active[rec.ID] = rec
	}
	s.mu.Unlock()

	s.logger.Info("run finished", "run_id", string(rec.ID), "status", rec.Status, "steps", rec.Steps)
	return rec, runErr
}

// Get returns a run, in progress or finished.
func (s *RunService) Get(ctx context.Context, id domain.RunID) (domain.RunRecord, error) {
	s.mu.RLock()
	rec, ok := s.active[id]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}
	if s.runs == nil {
		return domain.RunRecord{}, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return s.runs.GetRun(ctx, id)
}

// List returns the most recent runs, in-progress ones first.
func (s *RunService) List(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	out := make([]domain.RunRecord, 0, len(s.active))
	for _, rec := range s.active {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if s.runs != nil && len(out) < limit {
		stored, err := s.runs.ListRuns(ctx, limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, stored...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// IsActive reports whether a run is still executing.
func (s *RunService) IsActive(id domain.RunID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.active[id]
	return ok && !rec.Status.Terminal()
}

// ErrRunInactive is returned when subscribing to a run that already ended.
var ErrRunInactive = errors.New("run is not in progress")
