package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/agents"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/metrics"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// ExecuteWorker runs one worker task to a terminal result. The activity
// errors only on malformed tasks; capability failures come back as result
// statuses so the coordinator can apply its partial-failure policy.
func (a *Activities) ExecuteWorker(ctx context.Context, task agents.Task) (models.WorkerResult, error) {
	start := time.Now()
	result, err := a.worker.Execute(ctx, task)
	if err != nil {
		return models.WorkerResult{}, err
	}

	metrics.WorkerResults.WithLabelValues(task.Role, result.Status).Inc()
	metrics.WorkerDuration.WithLabelValues(task.Role).Observe(time.Since(start).Seconds())
	if task.Role != models.RoleResearch {
		metrics.PipelineStages.WithLabelValues(task.Role, result.Status).Inc()
	}
	if task.Role == models.RoleSummarize {
		if _, redo := task.Context["reflection_feedback"]; redo {
			metrics.ReflectionRedos.Inc()
		}
	}

	a.logger.Info("Worker finished",
		zap.String("worker_id", task.WorkerID),
		zap.String("role", task.Role),
		zap.String("status", result.Status),
		zap.Float64("confidence", result.ConfidenceScore),
		zap.Int("citations", len(result.Citations)),
	)
	return result, nil
}
