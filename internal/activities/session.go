package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/metrics"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// UpdateSessionStatus projects workflow progress into the pollable session
// record.
func (a *Activities) UpdateSessionStatus(ctx context.Context, status models.SessionStatus) error {
	return a.sessions.UpdateStatus(ctx, status)
}

// AttachReportInput carries the finished report and the persistence flag
// of the originating query.
type AttachReportInput struct {
	SessionID string        `json:"session_id"`
	QueryText string        `json:"query_text"`
	Persist   bool          `json:"persist"`
	Report    models.Report `json:"report"`
}

// AttachReport stores the report on the session record and, when the
// caller opted in, writes it to the database.
func (a *Activities) AttachReport(ctx context.Context, in AttachReportInput) error {
	if err := a.sessions.SetReport(ctx, in.SessionID, in.Report); err != nil {
		return err
	}

	if in.Persist && a.reports != nil {
		if err := a.reports.SaveReport(ctx, in.QueryText, in.Report); err != nil {
			// The session record already holds the report; losing the
			// database copy degrades, it does not fail the session.
			a.logger.Error("Failed to persist report",
				zap.String("session_id", in.SessionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// TeardownInput controls end-of-session memory cleanup.
type TeardownInput struct {
	SessionID string `json:"session_id"`
	Persist   bool   `json:"persist"`
}

// TeardownSession deletes the session's memory namespace unless the
// caller opted into persistence. Runs on every terminal state, including
// cancellation.
func (a *Activities) TeardownSession(ctx context.Context, in TeardownInput) error {
	if in.Persist {
		keys, err := a.memory.Keys(ctx, in.SessionID)
		if err != nil {
			a.logger.Warn("Failed to count persisted memory entries",
				zap.String("session_id", in.SessionID),
				zap.Error(err),
			)
		}
		a.logger.Info("Keeping session memory namespace",
			zap.String("session_id", in.SessionID),
			zap.Int("entries", len(keys)),
		)
		return nil
	}

	if err := a.memory.DeleteNamespace(ctx, in.SessionID); err != nil {
		metrics.MemoryOperations.WithLabelValues("delete_namespace", "error").Inc()
		return err
	}
	metrics.MemoryOperations.WithLabelValues("delete_namespace", "ok").Inc()
	metrics.MemoryNamespacesDeleted.Inc()
	return nil
}

// RecordOutcome archives the terminal session state to the database for
// persisted sessions.
func (a *Activities) RecordOutcome(ctx context.Context, status models.SessionStatus) error {
	if a.reports == nil {
		return nil
	}
	return a.reports.SaveSessionOutcome(ctx, status)
}
