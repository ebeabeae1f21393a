// Package workflows contains the Temporal workflow driving one research
// session from query to report: decompose, fan out research workers,
// collect under a deadline, then run the quality pipeline over the merged
// findings.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/activities"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/agents"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/config"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// SessionInput starts one research session workflow.
type SessionInput struct {
	Query    models.ResearchQuery  `json:"query"`
	Research config.ResearchConfig `json:"research"`
	Pipeline config.PipelineConfig `json:"pipeline"`
}

// SessionResult is the terminal outcome of a session workflow. FailureReason
// is set only for failed sessions; Partial marks reports built from an
// incomplete worker set.
type SessionResult struct {
	Report        models.Report `json:"report"`
	State         string        `json:"state"`
	Partial       bool          `json:"partial"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

// ResearchSessionWorkflow runs one session through its full state machine:
// created -> research_running -> research_done -> pipeline_running ->
// completed, with failed and cancelled reachable from any running state.
func ResearchSessionWorkflow(ctx workflow.Context, in SessionInput) (SessionResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting research session",
		"session_id", in.Query.ID,
		"profile", in.Query.TemperatureProfile,
		"persist", in.Query.Persist,
	)

	if in.Research.DefaultFanout == 0 {
		in.Research = config.Default().Research
	}
	if in.Pipeline.StageTimeout == 0 {
		in.Pipeline = config.Default().Pipeline
	}

	s := &sessionRun{input: in}

	// Decompose the query into sub-queries.
	s.updateStatus(ctx, models.SessionStatus{
		SessionID: in.Query.ID,
		State:     models.SessionResearchRunning,
	})

	var decomposition activities.DecomposeResult
	decomposeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: in.Research.WorkerTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
	err := workflow.ExecuteActivity(decomposeCtx, "DecomposeQuery", activities.DecomposeInput{
		Query:  in.Query,
		Fanout: in.Query.MaxSubAgents,
	}).Get(ctx, &decomposition)
	if err != nil {
		return s.finish(ctx, models.SessionStatus{
			SessionID:     in.Query.ID,
			State:         terminalStateFor(ctx),
			FailureReason: fmt.Sprintf("decompose query: %v", err),
		}, models.Report{})
	}

	// Fan out research workers and collect under the coordinator deadline.
	results, cancelled := s.runResearch(ctx, decomposition.SubQueries)
	if cancelled {
		return s.finish(ctx, models.SessionStatus{
			SessionID: in.Query.ID,
			State:     models.SessionCancelled,
		}, models.Report{})
	}

	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	if succeeded == 0 {
		return s.finish(ctx, models.SessionStatus{
			SessionID:     in.Query.ID,
			State:         models.SessionFailed,
			WorkersDone:   len(results),
			WorkersTotal:  len(decomposition.SubQueries),
			FailureReason: models.ErrResearchExhausted.Error(),
		}, models.Report{})
	}
	partial := succeeded < len(decomposition.SubQueries)

	s.updateStatus(ctx, models.SessionStatus{
		SessionID:    in.Query.ID,
		State:        models.SessionResearchDone,
		Partial:      partial,
		WorkersDone:  len(results),
		WorkersTotal: len(decomposition.SubQueries),
	})

	// Quality pipeline over the merged findings.
	report, err := s.runPipeline(ctx, results, partial)
	if err != nil {
		state := terminalStateFor(ctx)
		reason := ""
		if state == models.SessionFailed {
			reason = err.Error()
		}
		return s.finish(ctx, models.SessionStatus{
			SessionID:     in.Query.ID,
			State:         state,
			Partial:       partial,
			WorkersDone:   len(results),
			WorkersTotal:  len(decomposition.SubQueries),
			FailureReason: reason,
		}, models.Report{})
	}

	// Attach the report before flipping the terminal state so a completed
	// session always has its report readable.
	attachCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
	if err := workflow.ExecuteActivity(attachCtx, "AttachReport", activities.AttachReportInput{
		SessionID: in.Query.ID,
		QueryText: in.Query.Text,
		Persist:   in.Query.Persist,
		Report:    report,
	}).Get(ctx, nil); err != nil {
		logger.Warn("Failed to attach report to session", "session_id", in.Query.ID, "error", err)
	}

	return s.finish(ctx, models.SessionStatus{
		SessionID:    in.Query.ID,
		State:        models.SessionCompleted,
		Partial:      partial,
		WorkersDone:  len(results),
		WorkersTotal: len(decomposition.SubQueries),
	}, report)
}

// sessionRun carries per-run state shared by the workflow phases.
type sessionRun struct {
	input SessionInput
}

// collectedResult pairs a worker result with its fan-out slot.
type collectedResult struct {
	Index  int
	Result models.WorkerResult
}

// runResearch fans out one research worker per sub-query and collects
// results until all report in or the coordinator deadline fires. Workers
// that miss the deadline are recorded as timed out. The second return is
// true when the session was cancelled mid-collection.
func (s *sessionRun) runResearch(ctx workflow.Context, subs []models.SubQuery) ([]models.WorkerResult, bool) {
	logger := workflow.GetLogger(ctx)
	sessionID := s.input.Query.ID

	workerCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: s.input.Research.WorkerTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	// Buffered so workers finishing after the deadline never block on a
	// receiver that has moved on.
	resultChan := workflow.NewBufferedChannel(ctx, len(subs))
	for i, sub := range subs {
		index := i
		subQuery := sub
		workflow.Go(ctx, func(gCtx workflow.Context) {
			task := agents.Task{
				WorkerID:  subQuery.WorkerID,
				Role:      models.RoleResearch,
				SessionID: sessionID,
				SubQuery:  subQuery,
			}

			var result models.WorkerResult
			err := workflow.ExecuteActivity(workerCtx, "ExecuteWorker", task).Get(gCtx, &result)
			if err != nil {
				result = workerFailure(subQuery.WorkerID, err)
			}
			resultChan.Send(gCtx, collectedResult{Index: index, Result: result})
		})
	}

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()
	deadline := workflow.NewTimer(timerCtx, s.input.Research.CoordinatorDeadline)

	collected := make(map[int]models.WorkerResult, len(subs))
	deadlineHit := false
	cancelled := false

	for len(collected) < len(subs) && !deadlineHit && !cancelled {
		sel := workflow.NewSelector(ctx)
		sel.AddReceive(resultChan, func(c workflow.ReceiveChannel, more bool) {
			var res collectedResult
			c.Receive(ctx, &res)
			collected[res.Index] = res.Result
		})
		sel.AddFuture(deadline, func(f workflow.Future) {
			deadlineHit = true
		})
		sel.AddReceive(ctx.Done(), func(c workflow.ReceiveChannel, more bool) {
			cancelled = true
		})
		sel.Select(ctx)

		if !deadlineHit && !cancelled {
			s.updateStatus(ctx, models.SessionStatus{
				SessionID:    sessionID,
				State:        models.SessionResearchRunning,
				WorkersDone:  len(collected),
				WorkersTotal: len(subs),
			})
		}
	}

	if cancelled {
		logger.Info("Research phase cancelled",
			"session_id", sessionID,
			"collected", len(collected),
		)
		return nil, true
	}

	results := make([]models.WorkerResult, 0, len(subs))
	for i, sub := range subs {
		if res, ok := collected[i]; ok {
			results = append(results, res)
			continue
		}
		// The worker missed the coordinator deadline; its findings, if any,
		// are abandoned.
		results = append(results, models.WorkerResult{
			WorkerID:    sub.WorkerID,
			Role:        models.RoleResearch,
			Status:      models.StatusTimeout,
			ErrorReason: "coordinator deadline exceeded",
		})
	}

	if deadlineHit {
		logger.Warn("Coordinator deadline hit",
			"session_id", sessionID,
			"collected", len(collected),
			"expected", len(subs),
		)
	}
	return results, false
}

// workerFailure converts an activity-level error into a worker result so
// one crashed worker never sinks the session.
func workerFailure(workerID string, err error) models.WorkerResult {
	status := models.StatusError
	if temporal.IsTimeoutError(err) || temporal.IsCanceledError(err) {
		status = models.StatusTimeout
	}
	return models.WorkerResult{
		WorkerID:    workerID,
		Role:        models.RoleResearch,
		Status:      status,
		ErrorReason: err.Error(),
	}
}

// updateStatus projects progress into the session record, best effort.
func (s *sessionRun) updateStatus(ctx workflow.Context, status models.SessionStatus) {
	statusCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
	if err := workflow.ExecuteActivity(statusCtx, "UpdateSessionStatus", status).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Failed to update session status",
			"session_id", status.SessionID,
			"state", status.State,
			"error", err,
		)
	}
}

// finish drives the session to its terminal state and tears down its
// memory namespace. After cancellation the original context is dead, so
// cleanup runs on a disconnected one.
func (s *sessionRun) finish(ctx workflow.Context, status models.SessionStatus, report models.Report) (SessionResult, error) {
	cleanCtx := ctx
	if ctx.Err() != nil {
		cleanCtx, _ = workflow.NewDisconnectedContext(ctx)
	}
	cleanCtx = workflow.WithActivityOptions(cleanCtx, shortActivityOptions())

	logger := workflow.GetLogger(ctx)
	if err := workflow.ExecuteActivity(cleanCtx, "UpdateSessionStatus", status).Get(cleanCtx, nil); err != nil {
		logger.Warn("Failed to record terminal session state",
			"session_id", status.SessionID,
			"state", status.State,
			"error", err,
		)
	}
	if err := workflow.ExecuteActivity(cleanCtx, "TeardownSession", activities.TeardownInput{
		SessionID: status.SessionID,
		Persist:   s.input.Query.Persist,
	}).Get(cleanCtx, nil); err != nil {
		logger.Warn("Failed to tear down session memory",
			"session_id", status.SessionID,
			"error", err,
		)
	}
	if s.input.Query.Persist {
		if err := workflow.ExecuteActivity(cleanCtx, "RecordOutcome", status).Get(cleanCtx, nil); err != nil {
			logger.Warn("Failed to archive session outcome",
				"session_id", status.SessionID,
				"error", err,
			)
		}
	}

	logger.Info("Session finished",
		"session_id", status.SessionID,
		"state", status.State,
		"partial", status.Partial,
	)
	return SessionResult{
		Report:        report,
		State:         status.State,
		Partial:       status.Partial,
		FailureReason: status.FailureReason,
	}, nil
}

// terminalStateFor distinguishes cancellation from failure when an
// activity chain is cut short.
func terminalStateFor(ctx workflow.Context) string {
	if ctx.Err() != nil {
		return models.SessionCancelled
	}
	return models.SessionFailed
}

func shortActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
		},
	}
}
