package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkclient "go.temporal.io/sdk/client"
	"go.uber.org/zap/zaptest"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/circuitbreaker"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/config"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/memory"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/session"
)

type fakeRun struct {
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-1" }
func (r fakeRun) Get(ctx context.Context, valuePtr interface{}) error {
	return nil
}
func (r fakeRun) GetWithOptions(ctx context.Context, valuePtr interface{}, options sdkclient.WorkflowRunGetOptions) error {
	return nil
}

type fakeTemporal struct {
	started   []string
	cancelled []string
	startErr  error
}

func (f *fakeTemporal) ExecuteWorkflow(ctx context.Context, options sdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (sdkclient.WorkflowRun, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, options.ID)
	return fakeRun{id: options.ID}, nil
}

func (f *fakeTemporal) CancelWorkflow(ctx context.Context, workflowID, runID string) error {
	f.cancelled = append(f.cancelled, workflowID)
	return nil
}

type apiHarness struct {
	server   *Server
	sessions *session.Manager
	temporal *fakeTemporal
}

func newAPIHarness(t *testing.T) apiHarness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	wrapper := circuitbreaker.NewRedisWrapper(client, circuitbreaker.DefaultConfig(), zaptest.NewLogger(t))
	store := memory.NewStore(wrapper, "research", time.Hour, zaptest.NewLogger(t))
	sessions := session.NewManager(wrapper, time.Hour, 100, zaptest.NewLogger(t))
	temporal := &fakeTemporal{}

	server := NewServer(sessions, store, nil, temporal, config.Default(), zaptest.NewLogger(t))
	return apiHarness{server: server, sessions: sessions, temporal: temporal}
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionStartsWorkflow(t *testing.T) {
	h := newAPIHarness(t)
	mux := h.server.Routes()

	rec := postJSON(t, mux, "/api/v1/sessions", createSessionRequest{
		Text:               "how do ion thrusters work",
		TemperatureProfile: models.ProfileCreative,
		MaxSubAgents:       4,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, WorkflowID(resp.SessionID), resp.WorkflowID)

	require.Len(t, h.temporal.started, 1)
	assert.Equal(t, resp.WorkflowID, h.temporal.started[0])

	record, err := h.sessions.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCreated, record.Status.State)
	assert.Equal(t, models.ProfileCreative, record.Query.TemperatureProfile)
}

func TestCreateSessionRejectsEmptyText(t *testing.T) {
	h := newAPIHarness(t)
	rec := postJSON(t, h.server.Routes(), "/api/v1/sessions", createSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.temporal.started)
}

func TestCreateSessionRejectsUnknownProfile(t *testing.T) {
	h := newAPIHarness(t)
	rec := postJSON(t, h.server.Routes(), "/api/v1/sessions", createSessionRequest{
		Text:               "q",
		TemperatureProfile: "reckless",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSessionReportsWorkflowEngineDown(t *testing.T) {
	h := newAPIHarness(t)
	h.temporal.startErr = errors.New("connection refused")

	rec := postJSON(t, h.server.Routes(), "/api/v1/sessions", createSessionRequest{Text: "q"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetSessionStatus(t *testing.T) {
	h := newAPIHarness(t)
	_, err := h.sessions.Create(context.Background(), models.ResearchQuery{ID: "sess-1", Text: "q"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1", nil)
	rec := httptest.NewRecorder()
	h.server.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.SessionCreated, status.State)
}

func TestGetSessionUnknownID(t *testing.T) {
	h := newAPIHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope", nil)
	rec := httptest.NewRecorder()
	h.server.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelSession(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	_, err := h.sessions.Create(ctx, models.ResearchQuery{ID: "sess-1", Text: "q"})
	require.NoError(t, err)

	rec := postJSON(t, h.server.Routes(), "/api/v1/sessions/sess-1/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, h.temporal.cancelled, 1)
	assert.Equal(t, WorkflowID("sess-1"), h.temporal.cancelled[0])
}

func TestCancelTerminalSessionConflicts(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	_, err := h.sessions.Create(ctx, models.ResearchQuery{ID: "sess-1", Text: "q"})
	require.NoError(t, err)
	require.NoError(t, h.sessions.UpdateStatus(ctx, models.SessionStatus{SessionID: "sess-1", State: models.SessionCancelled}))

	rec := postJSON(t, h.server.Routes(), "/api/v1/sessions/sess-1/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, h.temporal.cancelled)
}

func TestGetReport(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	_, err := h.sessions.Create(ctx, models.ResearchQuery{ID: "sess-1", Text: "q"})
	require.NoError(t, err)

	// Not ready while the session is still running.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/report", nil)
	rec := httptest.NewRecorder()
	h.server.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, h.sessions.SetReport(ctx, "sess-1", models.Report{
		QueryID:       "sess-1",
		NarrativeText: "narrative",
		Language:      "en",
	}))

	rec = httptest.NewRecorder()
	h.server.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "narrative", report.NarrativeText)
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.server.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["memory"])
}

func TestEventFeedStreamsStatusChanges(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	_, err := h.sessions.Create(ctx, models.ResearchQuery{ID: "sess-1", Text: "q"})
	require.NoError(t, err)

	srv := httptest.NewServer(h.server.Routes())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/sess-1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// First frame reflects the created state.
	var ev statusEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "status", ev.Type)
	assert.Equal(t, models.SessionCreated, ev.Status.State)

	// Drive the session to a terminal state; the feed must deliver it and
	// then close.
	require.NoError(t, h.sessions.UpdateStatus(ctx, models.SessionStatus{SessionID: "sess-1", State: models.SessionResearchRunning}))
	require.NoError(t, h.sessions.UpdateStatus(ctx, models.SessionStatus{SessionID: "sess-1", State: models.SessionFailed, FailureReason: "boom"}))

	sawTerminal := false
	for !sawTerminal {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("feed closed before terminal frame: %v", err)
		}
		if ev.Type == "terminal" {
			sawTerminal = true
			assert.Equal(t, models.SessionFailed, ev.Status.State)
		}
	}
}

func TestEventFeedUnknownSession(t *testing.T) {
	h := newAPIHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope/events", nil)
	rec := httptest.NewRecorder()
	h.server.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
