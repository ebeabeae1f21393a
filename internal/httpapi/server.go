// Package httpapi is the REST surface of the research engine: session
// submission, status polling, cancellation, report retrieval, and a
// websocket feed of status changes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	sdkclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/config"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/db"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/memory"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/session"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/workflows"
)

// WorkflowClient is the slice of the Temporal client the API needs.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options sdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (sdkclient.WorkflowRun, error)
	CancelWorkflow(ctx context.Context, workflowID, runID string) error
}

// Server handles the research HTTP API.
type Server struct {
	sessions *session.Manager
	memory   *memory.Store
	reports  *db.Store // nil when persistence is disabled
	temporal WorkflowClient
	cfg      *config.Config
	logger   *zap.Logger
}

// NewServer wires the API handlers. reports may be nil.
func NewServer(
	sessions *session.Manager,
	mem *memory.Store,
	reports *db.Store,
	temporal WorkflowClient,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		sessions: sessions,
		memory:   mem,
		reports:  reports,
		temporal: temporal,
		cfg:      cfg,
		logger:   logger,
	}
}

// Routes returns the API mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/cancel", s.handleCancelSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/report", s.handleGetReport)
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// WorkflowID returns the deterministic workflow ID for a session.
func WorkflowID(sessionID string) string {
	return "research-" + sessionID
}

type createSessionRequest struct {
	Text               string `json:"text"`
	TemperatureProfile string `json:"temperature_profile"`
	MaxSubAgents       int    `json:"max_sub_agents"`
	OutputLanguage     string `json:"output_language"`
	Persist            bool   `json:"persist"`
}

type createSessionResponse struct {
	SessionID  string `json:"session_id"`
	WorkflowID string `json:"workflow_id"`
	State      string `json:"state"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validateCreateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := models.ResearchQuery{
		ID:                 uuid.New().String(),
		Text:               req.Text,
		TemperatureProfile: req.TemperatureProfile,
		MaxSubAgents:       req.MaxSubAgents,
		OutputLanguage:     req.OutputLanguage,
		Persist:            req.Persist,
		CreatedAt:          time.Now().UTC(),
	}
	if query.TemperatureProfile == "" {
		query.TemperatureProfile = models.ProfileBalanced
	}

	if _, err := s.sessions.Create(r.Context(), query); err != nil {
		s.logger.Error("Failed to create session record", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	run, err := s.temporal.ExecuteWorkflow(r.Context(), sdkclient.StartWorkflowOptions{
		ID:        WorkflowID(query.ID),
		TaskQueue: s.cfg.Temporal.TaskQueue,
	}, workflows.ResearchSessionWorkflow, workflows.SessionInput{
		Query:    query,
		Research: s.cfg.Research,
		Pipeline: s.cfg.Pipeline,
	})
	if err != nil {
		s.logger.Error("Failed to start session workflow",
			zap.String("session_id", query.ID),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "workflow engine unavailable")
		return
	}

	s.logger.Info("Session submitted",
		zap.String("session_id", query.ID),
		zap.String("workflow_id", run.GetID()),
	)
	writeJSON(w, http.StatusAccepted, createSessionResponse{
		SessionID:  query.ID,
		WorkflowID: run.GetID(),
		State:      models.SessionCreated,
	})
}

func validateCreateRequest(req createSessionRequest) error {
	if req.Text == "" {
		return errors.New("text is required")
	}
	switch req.TemperatureProfile {
	case "", models.ProfileConservative, models.ProfileBalanced, models.ProfileCreative:
	default:
		return errors.New("temperature_profile must be conservative, balanced, or creative")
	}
	if req.MaxSubAgents < 0 {
		return errors.New("max_sub_agents must be >= 0")
	}
	return nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record.Status)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if record.Status.Terminal() {
		writeError(w, http.StatusConflict, "session already "+record.Status.State)
		return
	}

	if err := s.temporal.CancelWorkflow(r.Context(), WorkflowID(record.Query.ID), ""); err != nil {
		s.logger.Error("Failed to cancel session workflow",
			zap.String("session_id", record.Query.ID),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "workflow engine unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": record.Query.ID,
		"state":      "cancelling",
	})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if record.Report != nil {
		writeJSON(w, http.StatusOK, record.Report)
		return
	}

	// The session record may have expired out of Redis while the database
	// still holds the persisted report.
	if s.reports != nil {
		if report, err := s.reports.GetReport(r.Context(), record.Query.ID); err == nil {
			writeJSON(w, http.StatusOK, report)
			return
		}
	}

	if record.Status.Terminal() {
		writeError(w, http.StatusNotFound, "session produced no report")
		return
	}
	writeError(w, http.StatusConflict, "report not ready: session is "+record.Status.State)
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*session.Record, bool) {
	id := r.PathValue("id")
	record, err := s.sessions.Get(r.Context(), id)
	if errors.Is(err, models.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to load session", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return nil, false
	}
	return record, true
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}

	check("memory", s.memory.Ping(ctx))
	check("sessions", s.sessions.Ping(ctx))
	if s.reports != nil {
		check("database", s.reports.Ping(ctx))
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
