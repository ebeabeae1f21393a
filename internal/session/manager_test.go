package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/circuitbreaker"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	wrapper := circuitbreaker.NewRedisWrapper(client, circuitbreaker.DefaultConfig(), zaptest.NewLogger(t))
	return NewManager(wrapper, time.Hour, 10, zaptest.NewLogger(t))
}

func testQuery(id string) models.ResearchQuery {
	return models.ResearchQuery{
		ID:                 id,
		Text:               "what changed in the market",
		TemperatureProfile: models.ProfileBalanced,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestCreateAndGet(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, testQuery("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, models.SessionCreated, created.Status.State)

	got, err := mgr.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "what changed in the market", got.Query.Text)
}

func TestGetUnknownSession(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Get(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestStatusTransitions(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, testQuery("sess-1"))
	require.NoError(t, err)

	for _, state := range []string{
		models.SessionResearchRunning,
		models.SessionResearchDone,
		models.SessionPipelineRunning,
		models.SessionCompleted,
	} {
		require.NoError(t, mgr.UpdateStatus(ctx, models.SessionStatus{
			SessionID: "sess-1",
			State:     state,
		}), state)
	}

	got, err := mgr.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status.State)
}

func TestInvalidTransitionRejected(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, testQuery("sess-1"))
	require.NoError(t, err)

	// Skipping the research phase is not allowed.
	err = mgr.UpdateStatus(ctx, models.SessionStatus{
		SessionID: "sess-1",
		State:     models.SessionPipelineRunning,
	})
	assert.Error(t, err)
}

func TestTerminalStateIsSticky(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, testQuery("sess-1"))
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateStatus(ctx, models.SessionStatus{
		SessionID: "sess-1",
		State:     models.SessionCancelled,
	}))

	// A late status write from a slow worker must not resurrect the session.
	err = mgr.UpdateStatus(ctx, models.SessionStatus{
		SessionID: "sess-1",
		State:     models.SessionResearchRunning,
	})
	assert.Error(t, err)

	got, err := mgr.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, got.Status.State)
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []string{
		models.SessionCreated,
		models.SessionResearchRunning,
		models.SessionResearchDone,
		models.SessionPipelineRunning,
	} {
		assert.True(t, ValidTransition(from, models.SessionCancelled), from)
		assert.True(t, ValidTransition(from, models.SessionFailed), from)
	}
	assert.False(t, ValidTransition(models.SessionCompleted, models.SessionCancelled))
	assert.False(t, ValidTransition(models.SessionFailed, models.SessionCancelled))
}

func TestSetReport(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, testQuery("sess-1"))
	require.NoError(t, err)

	report := models.Report{
		QueryID:           "sess-1",
		NarrativeText:     "the narrative",
		OverallConfidence: 0.8123,
		GeneratedAt:       time.Now().UTC(),
	}
	require.NoError(t, mgr.SetReport(ctx, "sess-1", report))

	got, err := mgr.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got.Report)
	assert.Equal(t, 0.8123, got.Report.OverallConfidence)
}

func TestCacheEviction(t *testing.T) {
	mgr := newTestManager(t)
	mgr.cacheSize = 3
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := mgr.Create(ctx, testQuery(id))
		require.NoError(t, err)
	}

	mgr.mu.RLock()
	cached := len(mgr.cache)
	mgr.mu.RUnlock()
	assert.LessOrEqual(t, cached, 3)

	// Evicted records are still readable through Redis.
	got, err := mgr.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Query.ID)
}
