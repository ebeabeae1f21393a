package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/circuitbreaker"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/metrics"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// Manager keeps session records in Redis with a bounded local cache.
// Writers are the workflow activities; readers are the HTTP surface.
type Manager struct {
	client    *circuitbreaker.RedisWrapper
	logger    *zap.Logger
	ttl       time.Duration
	mu        sync.RWMutex
	cache     map[string]*Record
	access    map[string]time.Time
	cacheSize int
}

// NewManager creates a session manager on the wrapped Redis client.
func NewManager(client *circuitbreaker.RedisWrapper, ttl time.Duration, cacheSize int, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	return &Manager{
		client:    client,
		logger:    logger,
		ttl:       ttl,
		cache:     make(map[string]*Record),
		access:    make(map[string]time.Time),
		cacheSize: cacheSize,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("research:session:%s", sessionID)
}

// Create stores a fresh record in the Created state.
func (m *Manager) Create(ctx context.Context, query models.ResearchQuery) (*Record, error) {
	now := time.Now().UTC()
	record := &Record{
		Query: query,
		Status: models.SessionStatus{
			SessionID: query.ID,
			State:     models.SessionCreated,
			UpdatedAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.save(ctx, record); err != nil {
		return nil, fmt.Errorf("create session %s: %w", query.ID, err)
	}

	m.cachePut(record)
	metrics.SessionsStarted.Inc()
	m.logger.Info("Session created",
		zap.String("session_id", query.ID),
		zap.Bool("persist", query.Persist),
	)
	return record, nil
}

// Get returns the record for sessionID, preferring the local cache.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	if record, ok := m.cache[sessionID]; ok {
		m.mu.RUnlock()
		m.mu.Lock()
		m.access[sessionID] = time.Now()
		m.mu.Unlock()
		metrics.SessionCacheHits.Inc()
		return record, nil
	}
	m.mu.RUnlock()
	metrics.SessionCacheMisses.Inc()

	data, err := m.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}

	m.cachePut(&record)
	return &record, nil
}

// UpdateStatus applies a status projection, enforcing the state machine.
// Stale updates (a transition the machine does not allow) are rejected so
// a terminal state can never be overwritten.
func (m *Manager) UpdateStatus(ctx context.Context, status models.SessionStatus) error {
	record, err := m.Get(ctx, status.SessionID)
	if err != nil {
		return err
	}

	if !ValidTransition(record.Status.State, status.State) {
		return fmt.Errorf("invalid session transition %s -> %s for %s",
			record.Status.State, status.State, status.SessionID)
	}

	updated := *record
	updated.Status = status
	if updated.Status.UpdatedAt.IsZero() {
		updated.Status.UpdatedAt = time.Now().UTC()
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := m.save(ctx, &updated); err != nil {
		return fmt.Errorf("update session %s: %w", status.SessionID, err)
	}
	m.cachePut(&updated)

	if status.Terminal() {
		metrics.SessionsFinished.WithLabelValues(status.State).Inc()
		metrics.SessionDuration.WithLabelValues(status.State).
			Observe(time.Since(record.CreatedAt).Seconds())
	}

	m.logger.Info("Session status updated",
		zap.String("session_id", status.SessionID),
		zap.String("state", status.State),
		zap.String("active_stage", status.ActiveStage),
		zap.Bool("partial", status.Partial),
	)
	return nil
}

// SetReport attaches the final report to a session record.
func (m *Manager) SetReport(ctx context.Context, sessionID string, report models.Report) error {
	record, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	updated := *record
	updated.Report = &report
	updated.UpdatedAt = time.Now().UTC()

	if err := m.save(ctx, &updated); err != nil {
		return fmt.Errorf("store report for session %s: %w", sessionID, err)
	}
	m.cachePut(&updated)
	return nil
}

// Ping reports backend reachability for health checks.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *Manager) save(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return m.client.Set(ctx, sessionKey(record.Query.ID), data, m.ttl).Err()
}

func (m *Manager) cachePut(record *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache[record.Query.ID] = record
	m.access[record.Query.ID] = time.Now()

	// Evict least recently used entries past the cap.
	for len(m.cache) > m.cacheSize {
		oldestID := ""
		var oldest time.Time
		for id, at := range m.access {
			if oldestID == "" || at.Before(oldest) {
				oldestID = id
				oldest = at
			}
		}
		delete(m.cache, oldestID)
		delete(m.access, oldestID)
	}
	metrics.SessionCacheSize.Set(float64(len(m.cache)))
}
