package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/techscout/internal/config"
	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/services"
)

const (
	defaultListLimit = 50
	toolRunTimeout   = 30 * time.Second
)

// Server exposes runs, traces, tools and settings over HTTP.
type Server struct {
	logger    *slog.Logger
	runs      *services.RunService
	eventBus  *services.EventBus
	tracer    *services.TraceCollector
	settings  *config.SettingsStore // optional
	validator *requestValidator
}

func NewServer(
	logger *slog.Logger,
	runs *services.RunService,
	eventBus *services.EventBus,
	tracer *services.TraceCollector,
	settings *config.SettingsStore,
) (*Server, error) {
	v, err := newRequestValidator(logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		logger:    logger,
		runs:      runs,
		eventBus:  eventBus,
		tracer:    tracer,
		settings:  settings,
		validator: v,
	}, nil
}

// Handler returns the http.Handler for the server.
// Every request is checked against the embedded OpenAPI document first.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/runs", s.runHandler(domain.RunModeReasoning))
	mux.HandleFunc("POST /v1/workflows", s.runHandler(domain.RunModeHandoff))
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.handleRunEvents)

	mux.HandleFunc("GET /v1/traces", s.handleListTraces)
	mux.HandleFunc("GET /v1/traces/{id}", s.handleGetTrace)

	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools/{name}/run", s.handleRunTool)

	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)

	return s.validator.Middleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runRequestBody is the JSON body of POST /v1/runs and POST /v1/workflows.
type runRequestBody struct {
	Task           string `json:"task"`
	ConversationID string `json:"conversation_id"`
	MaxSteps       int    `json:"max_steps"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	ExtraContext   string `json:"extra_context"`
	Async          bool   `json:"async"`
}

// runHandler serves both run modes. A synchronous run answers 200 with the
// final record whatever its status; an async run answers 202 at once and
// its progress can be followed on /v1/runs/{id}/events.
func (s *Server) runHandler(mode domain.RunMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body runRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req := services.RunRequest{
			Mode:           mode,
			Task:           body.Task,
			ConversationID: domain.ConversationID(body.ConversationID),
			MaxSteps:       body.MaxSteps,
			Timeout:        time.Duration(body.TimeoutSeconds) * time.Second,
			ExtraContext:   body.ExtraContext,
		}

		if body.Async {
			rec, err := s.runs.Start(r.Context(), req)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, rec)
			return
		}

		rec, err := s.runs.Execute(r.Context(), req, nil)
		if err != nil && rec.ID == "" {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			s.logger.Warn("run ended with error", "run_id", string(rec.ID), "status", rec.Status, "error", err)
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := bindLimit(w, r)
	if !ok {
		return
	}
	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := bindPathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.runs.Get(r.Context(), domain.RunID(id))
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("failed to get run", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListTraces returns trace summaries, newest first.
// GET /v1/traces?limit=50
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit, ok := bindLimit(w, r)
	if !ok {
		return
	}
	traces, err := s.tracer.ListTraces(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list traces", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list traces")
		return
	}
	if traces == nil {
		traces = []domain.TraceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"traces": traces,
		"count":  len(traces),
	})
}

// handleGetTrace returns a single trace with all spans.
// GET /v1/traces/{id}
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id, ok := bindPathID(w, r, "id")
	if !ok {
		return
	}
	trace, err := s.tracer.GetTrace(r.Context(), domain.TraceID(id))
	if err != nil {
		if errors.Is(err, domain.ErrTraceNotFound) {
			writeError(w, http.StatusNotFound, "trace not found")
			return
		}
		s.logger.Error("failed to get trace", "trace_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get trace")
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

type toolDTO struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Parameters  domain.ToolParameters `json:"parameters"`
}

// handleListTools lists every tool the oracle may call.
// GET /v1/tools
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := s.runs.Tools().ListTools()
	dtos := make([]toolDTO, 0, len(tools))
	for _, t := range tools {
		dtos = append(dtos, toolDTO{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": dtos,
		"count": len(dtos),
	})
}

// handleRunTool executes a tool by name with the provided JSON params.
// POST /v1/tools/{name}/run
// Body: {"params": {...}}
func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	name, ok := bindPathID(w, r, "name")
	if !ok {
		return
	}

	var body struct {
		Params map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), toolRunTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.runs.Tools().Invoke(ctx, name, body.Params)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, domain.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"ok":          false,
			"tool":        name,
			"error":       err.Error(),
			"duration_ms": elapsed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"tool":        name,
		"result":      res,
		"duration_ms": elapsed,
	})
}

// bindPathID reads a required path parameter the way generated servers do.
func bindPathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", name, r.PathValue(name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+": "+err.Error())
		return "", false
	}
	return id, true
}

// bindLimit reads the optional ?limit= query parameter.
func bindLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit: "+err.Error())
		return 0, false
	}
	if limit == nil || *limit <= 0 {
		return defaultListLimit, true
	}
	return *limit, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
