// Package db persists completed research sessions to Postgres. Persistence
// is opt-in per session; sessions without the persist flag never touch the
// database.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/metrics"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// Store writes reports and session records.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// NewStore wraps an existing connection; used by tests.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// reportRow mirrors the research_reports table.
type reportRow struct {
	SessionID         string    `db:"session_id"`
	QueryText         string    `db:"query_text"`
	NarrativeText     string    `db:"narrative_text"`
	Citations         []byte    `db:"citations"`
	OverallConfidence float64   `db:"overall_confidence"`
	Language          string    `db:"language"`
	QualityWarning    bool      `db:"quality_warning"`
	GeneratedAt       time.Time `db:"generated_at"`
}

// SaveReport upserts the final report of a completed session.
func (s *Store) SaveReport(ctx context.Context, queryText string, report models.Report) error {
	citations, err := json.Marshal(report.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}

	row := reportRow{
		SessionID:         report.QueryID,
		QueryText:         queryText,
		NarrativeText:     report.NarrativeText,
		Citations:         citations,
		OverallConfidence: report.OverallConfidence,
		Language:          report.Language,
		QualityWarning:    report.QualityWarning,
		GeneratedAt:       report.GeneratedAt,
	}

	const query = `
		INSERT INTO research_reports
			(session_id, query_text, narrative_text, citations, overall_confidence, language, quality_warning, generated_at)
		VALUES
			(:session_id, :query_text, :narrative_text, :citations, :overall_confidence, :language, :quality_warning, :generated_at)
		ON CONFLICT (session_id) DO UPDATE SET
			narrative_text = EXCLUDED.narrative_text,
			citations = EXCLUDED.citations,
			overall_confidence = EXCLUDED.overall_confidence,
			language = EXCLUDED.language,
			quality_warning = EXCLUDED.quality_warning,
			generated_at = EXCLUDED.generated_at`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("save report for session %s: %w", report.QueryID, err)
	}

	metrics.ReportsPersisted.Inc()
	s.logger.Info("Report persisted",
		zap.String("session_id", report.QueryID),
		zap.Float64("overall_confidence", report.OverallConfidence),
	)
	return nil
}

// GetReport loads a persisted report by session ID.
func (s *Store) GetReport(ctx context.Context, sessionID string) (models.Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row,
		`SELECT session_id, query_text, narrative_text, citations, overall_confidence, language, quality_warning, generated_at
		 FROM research_reports WHERE session_id = $1`, sessionID)
	if err == sql.ErrNoRows {
		return models.Report{}, models.ErrSessionNotFound
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("load report for session %s: %w", sessionID, err)
	}

	var citations []models.Citation
	if len(row.Citations) > 0 {
		if err := json.Unmarshal(row.Citations, &citations); err != nil {
			return models.Report{}, fmt.Errorf("decode citations for session %s: %w", sessionID, err)
		}
	}

	return models.Report{
		QueryID:           row.SessionID,
		NarrativeText:     row.NarrativeText,
		Citations:         citations,
		OverallConfidence: row.OverallConfidence,
		Language:          row.Language,
		QualityWarning:    row.QualityWarning,
		GeneratedAt:       row.GeneratedAt,
	}, nil
}

// SaveSessionOutcome records the terminal state of a session for audit.
func (s *Store) SaveSessionOutcome(ctx context.Context, status models.SessionStatus) error {
	const query = `
		INSERT INTO session_outcomes (session_id, state, partial, failure_reason, finished_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			partial = EXCLUDED.partial,
			failure_reason = EXCLUDED.failure_reason,
			finished_at = EXCLUDED.finished_at`

	_, err := s.db.ExecContext(ctx, query,
		status.SessionID, status.State, status.Partial, status.FailureReason, status.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save outcome for session %s: %w", status.SessionID, err)
	}
	return nil
}

// Ping reports backend reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
