package kernel

import (
	"encoding/json"
	"net/http"

	"github.com/manthysbr/techscout/internal/core/domain"
)

// settingsBody is the editable part of the configuration.
type settingsBody struct {
	Agent domain.AgentConfig       `json:"agent"`
	LLM   domain.LLMProviderConfig `json:"llm"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings store not available")
		return
	}
	cfg := s.settings.GetMaskedConfig()
	writeJSON(w, http.StatusOK, settingsBody{Agent: cfg.Agent, LLM: cfg.Providers.LLM})
}

// handleUpdateSettings merges the body over the current settings, so omitted
// fields keep their value. A masked api_key is treated as unchanged.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings store not available")
		return
	}

	current := s.settings.GetMaskedConfig()
	body := settingsBody{Agent: current.Agent, LLM: current.Providers.LLM}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	update := s.settings.GetConfig()
	update.Agent = body.Agent
	update.Providers.LLM = body.LLM
	if err := s.settings.UpdateConfig(r.Context(), update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.settings.GetMaskedConfig()
	writeJSON(w, http.StatusOK, settingsBody{Agent: cfg.Agent, LLM: cfg.Providers.LLM})
}
