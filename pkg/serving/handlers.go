package serving

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"InferenceGovernor/pkg/backends"
	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/sessions"
	"InferenceGovernor/pkg/telemetry"
)

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RejectionResponse is the 503 body for refused admissions.
type RejectionResponse struct {
	Reason   sessions.Reason `json:"reason"`
	Error    string          `json:"error"`
	Active   int             `json:"active_sessions"`
	Capacity int             `json:"effective_capacity"`
	State    telemetry.State `json:"state"`
}

// SessionInfo describes one session in GET /sessions.
type SessionInfo struct {
	ID           string         `json:"id"`
	Phase        sessions.Phase `json:"phase"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	RequestCount int            `json:"request_count"`
	TotalUnits   int            `json:"total_units"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
}

// SessionsResponse is returned by GET /sessions.
type SessionsResponse struct {
	Count             int           `json:"count"`
	Max               int           `json:"max"`
	EffectiveCapacity int           `json:"effective_capacity"`
	Sessions          []SessionInfo `json:"sessions"`
}

// ChatRequest is the body of POST /chat. An empty SessionID admits a new
// session for the request.
type ChatRequest struct {
	SessionID   string  `json:"session_id,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// ChatMetrics carries the timing of one dispatched request.
type ChatMetrics struct {
	TTFTMs         float64 `json:"ttft_ms"`
	TotalLatencyMs float64 `json:"total_latency_ms"`
	Throughput     float64 `json:"throughput"`
	OutputTokens   int     `json:"output_tokens"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	SessionID string      `json:"session_id"`
	Response  string      `json:"response"`
	Metrics   ChatMetrics `json:"metrics"`
}

// TelemetryResponse is returned by GET /telemetry.
type TelemetryResponse struct {
	Available         bool `json:"available"`
	EffectiveCapacity int  `json:"effective_capacity"`
	telemetry.Snapshot
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status             string          `json:"status"`
	Model              string          `json:"model"`
	Backend            string          `json:"backend"`
	ActiveSessions     int             `json:"active_sessions"`
	MaxSessions        int             `json:"max_sessions"`
	EffectiveCapacity  int             `json:"effective_capacity"`
	TelemetryAvailable bool            `json:"telemetry_available"`
	State              telemetry.State `json:"state"`
}

// ConfigResponse is returned by GET /config.
type ConfigResponse struct {
	Pool      sessions.Config `json:"pool"`
	MaxIdle   string          `json:"max_idle"`
	Backend   string          `json:"backend"`
	Model     string          `json:"model"`
	Telemetry struct {
		Source   string               `json:"source"`
		Interval string               `json:"interval"`
		Thermal  telemetry.Thresholds `json:"thermal"`
		Memory   telemetry.Thresholds `json:"memory"`
	} `json:"telemetry"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:             "healthy",
		Model:              s.cfg.Backend.Model,
		Backend:            s.cfg.Backend.Kind,
		ActiveSessions:     s.pool.Count(),
		MaxSessions:        s.pool.Capacity(),
		EffectiveCapacity:  s.pool.EffectiveCapacity(),
		TelemetryAvailable: s.poller != nil,
		State:              s.poller.State(),
	})
}

func (s *Server) config(w http.ResponseWriter, r *http.Request) {
	var resp ConfigResponse
	resp.Pool = s.pool.Config()
	resp.MaxIdle = s.cfg.Pool.MaxIdle.String()
	resp.Backend = s.cfg.Backend.Kind
	resp.Model = s.cfg.Backend.Model
	resp.Telemetry.Source = s.cfg.Telemetry.Source
	resp.Telemetry.Interval = s.cfg.Telemetry.Interval.String()
	resp.Telemetry.Thermal = s.cfg.Telemetry.Thermal
	resp.Telemetry.Memory = s.cfg.Telemetry.Memory
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.pool.Create()
	if err != nil {
		s.writeAdmissionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreateSessionResponse{SessionID: sess.ID, CreatedAt: sess.CreatedAt})
}

func (s *Server) releaseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.pool.Release(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "released", "session_id": id})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	list := s.pool.List()
	infos := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		infos = append(infos, SessionInfo{
			ID:           sess.ID,
			Phase:        sess.Phase(now, s.cfg.Pool.MaxIdle),
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
			RequestCount: sess.RequestCount,
			TotalUnits:   sess.TotalUnits,
			AvgLatencyMs: sess.AvgLatencyMs,
		})
	}
	writeJSON(w, http.StatusOK, SessionsResponse{
		Count:             len(infos),
		Max:               s.pool.Capacity(),
		EffectiveCapacity: s.pool.EffectiveCapacity(),
		Sessions:          infos,
	})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = backends.DefaultMaxTokens
	}

	if req.SessionID == "" {
		sess, err := s.pool.Create()
		if err != nil {
			s.writeAdmissionError(w, err)
			return
		}
		req.SessionID = sess.ID
	}

	sample, err := s.dispatcher.Dispatch(r.Context(), req.SessionID, dispatch.Work{
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if errors.Is(err, sessions.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found: "+req.SessionID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !sample.Success {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":      sample.Err,
			"session_id": req.SessionID,
		})
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		SessionID: req.SessionID,
		Response:  sample.Text,
		Metrics: ChatMetrics{
			TTFTMs:         sample.TTFTMillis(),
			TotalLatencyMs: sample.TotalMillis(),
			Throughput:     sample.Throughput,
			OutputTokens:   sample.Units,
		},
	})
}

func (s *Server) telemetry(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.poller.Latest()
	if !ok {
		snap = telemetry.Snapshot{
			Source:         s.cfg.Telemetry.Source,
			Readings:       []telemetry.Reading{},
			Recommendation: telemetry.Recommend(telemetry.StateUnknown, telemetry.StateUnknown),
		}
	}
	writeJSON(w, http.StatusOK, TelemetryResponse{
		Available:         ok,
		EffectiveCapacity: s.pool.EffectiveCapacity(),
		Snapshot:          snap,
	})
}

func (s *Server) writeAdmissionError(w http.ResponseWriter, err error) {
	var ae *sessions.AdmissionError
	if !errors.As(err, &ae) {
		s.logger.Error("session creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, RejectionResponse{
		Reason:   ae.Reason,
		Error:    ae.Error(),
		Active:   ae.Active,
		Capacity: ae.Capacity,
		State:    ae.State,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
