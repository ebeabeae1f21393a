// Package agents implements the worker roles of the research engine. A
// worker receives one task, runs the strategy for its role, and always
// returns a WorkerResult; capability failures become result statuses, not
// errors.
package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/capabilities"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/memory"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// findingsTag marks research output in the memory store so downstream
// stages can discover it without knowing worker keys.
const findingsTag = "findings"

// Task describes one worker invocation.
type Task struct {
	WorkerID  string             `json:"worker_id"`
	Role      string             `json:"role"`
	SessionID string             `json:"session_id"`
	SubQuery  models.SubQuery    `json:"sub_query,omitempty"`
	Input     string             `json:"input,omitempty"`
	Citations []models.Citation  `json:"citations,omitempty"`
	Context   map[string]string  `json:"context,omitempty"`
}

// Output is what a strategy produces on success.
type Output struct {
	Text       string
	Citations  []models.Citation
	Confidence float64
}

// Dependencies are the shared services strategies call.
type Dependencies struct {
	Generator capabilities.TextGenerator
	Searcher  capabilities.DocumentSearcher
	Memory    *memory.Store
	Logger    *zap.Logger
}

// Worker executes tasks with a deadline and classifies outcomes.
type Worker struct {
	deps                   Dependencies
	timeout                time.Duration
	lowConfidenceThreshold float64
}

// NewWorker creates a worker. timeout bounds one task execution;
// lowConfidenceThreshold marks results whose confidence is a soft concern.
func NewWorker(deps Dependencies, timeout time.Duration, lowConfidenceThreshold float64) *Worker {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Worker{
		deps:                   deps,
		timeout:                timeout,
		lowConfidenceThreshold: lowConfidenceThreshold,
	}
}

// Execute runs the task to a terminal WorkerResult. The returned error is
// non-nil only for malformed tasks; operational failures are reported in
// the result status.
func (w *Worker) Execute(ctx context.Context, task Task) (models.WorkerResult, error) {
	strategy, err := strategyForRole(task.Role)
	if err != nil {
		return models.WorkerResult{}, err
	}

	result := models.WorkerResult{
		WorkerID:  task.WorkerID,
		Role:      task.Role,
		StartedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	output, err := strategy.Run(ctx, task, w.deps)
	result.FinishedAt = time.Now().UTC()

	if err != nil {
		result.Status = models.StatusError
		result.ErrorReason = err.Error()
		if models.IsCapabilityTimeout(err) || ctx.Err() == context.DeadlineExceeded {
			result.Status = models.StatusTimeout
			result.ErrorReason = "deadline exceeded"
		}
		w.deps.Logger.Warn("Worker failed",
			zap.String("worker_id", task.WorkerID),
			zap.String("role", task.Role),
			zap.String("status", result.Status),
			zap.Error(err),
		)
		return result, nil
	}

	result.Text = output.Text
	result.Citations = output.Citations
	result.ConfidenceScore = output.Confidence
	result.Status = models.StatusOK
	if output.Confidence < w.lowConfidenceThreshold {
		result.Status = models.StatusLowConfidence
	}

	w.persistFindings(ctx, task, result)
	return result, nil
}

// persistFindings writes the worker's output under its own key prefix in
// the session namespace. Failures here degrade to a log line; the result
// itself is already in hand.
func (w *Worker) persistFindings(ctx context.Context, task Task, result models.WorkerResult) {
	if w.deps.Memory == nil || task.SessionID == "" {
		return
	}

	value, err := encodeResult(result)
	if err != nil {
		w.deps.Logger.Warn("Failed to encode worker result for memory",
			zap.String("worker_id", task.WorkerID),
			zap.Error(err),
		)
		return
	}

	key := task.WorkerID + "/" + task.Role
	tags := []string{task.Role}
	if task.Role == models.RoleResearch {
		tags = append(tags, findingsTag)
	}
	if err := w.deps.Memory.Put(ctx, task.SessionID, key, value, memory.PutOptions{Tags: tags}); err != nil {
		w.deps.Logger.Warn("Failed to persist worker findings",
			zap.String("worker_id", task.WorkerID),
			zap.String("session_id", task.SessionID),
			zap.Error(err),
		)
	}
}
