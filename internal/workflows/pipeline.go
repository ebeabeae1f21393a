package workflows

import (
	"fmt"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/agents"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/metadata"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// runPipeline refines the merged research findings into the final report:
// credibility critique, summarize, write, reflect, translate, cite. A weak
// reflect verdict re-runs the pipeline from summarize once; a hard stage
// failure aborts the session, and a weak verdict after the redo budget
// only flags the report.
func (s *sessionRun) runPipeline(ctx workflow.Context, results []models.WorkerResult, partial bool) (models.Report, error) {
	sessionID := s.input.Query.ID
	logger := workflow.GetLogger(ctx)

	s.updateStatus(ctx, models.SessionStatus{
		SessionID:   sessionID,
		State:       models.SessionPipelineRunning,
		ActiveStage: models.RoleCredibilityCritique,
		Partial:     partial,
	})

	findings := formatFindings(results)
	var citationLists [][]models.Citation
	for _, r := range results {
		if r.Succeeded() {
			citationLists = append(citationLists, r.Citations)
		}
	}
	citations := metadata.MergeCitations(citationLists...)

	stageCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: s.input.Pipeline.StageTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    2,
			InitialInterval:    s.input.Pipeline.StageTimeout / 10,
			BackoffCoefficient: 2.0,
		},
	})

	// Stage 1: credibility critique. May add corroborating citations.
	critique, err := s.runStage(stageCtx, agents.Task{
		WorkerID:  "pipeline-critic",
		Role:      models.RoleCredibilityCritique,
		SessionID: sessionID,
		Input:     findings,
		Citations: citations,
	})
	if err != nil {
		return models.Report{}, err
	}
	citations = critique.Citations

	// Stages 2-4: summarize, write the report, then let the reflection
	// critic judge it. A weak verdict sends the pipeline back to the
	// summarize stage once, with the critic's feedback folded in; a second
	// weak verdict only flags the report instead of looping.
	qualityWarning := false
	summaryContext := map[string]string{"credibility_critique": critique.Text}

	var draft models.WorkerResult
	for redo := 0; ; redo++ {
		s.setStage(ctx, models.RoleSummarize, partial)
		summary, err := s.runStage(stageCtx, agents.Task{
			WorkerID:  "pipeline-summarizer",
			Role:      models.RoleSummarize,
			SessionID: sessionID,
			Input:     findings,
			Citations: citations,
			Context:   summaryContext,
		})
		if err != nil {
			return models.Report{}, err
		}

		s.setStage(ctx, models.RoleWriteReport, partial)
		draft, err = s.runStage(stageCtx, agents.Task{
			WorkerID:  "pipeline-writer",
			Role:      models.RoleWriteReport,
			SessionID: sessionID,
			Input:     summary.Text,
			Citations: citations,
			Context:   map[string]string{"query": s.input.Query.Text},
		})
		if err != nil {
			return models.Report{}, err
		}

		s.setStage(ctx, models.RoleReflectCritique, partial)
		verdict, err := s.runStage(stageCtx, agents.Task{
			WorkerID:  "pipeline-reflector",
			Role:      models.RoleReflectCritique,
			SessionID: sessionID,
			Input:     draft.Text,
			Citations: citations,
		})
		if err != nil {
			return models.Report{}, err
		}

		if verdict.ConfidenceScore >= s.input.Pipeline.ReflectionThreshold {
			break
		}
		if redo >= s.input.Pipeline.MaxReflectionRedos {
			logger.Warn("Report below reflection threshold after redo budget",
				"session_id", sessionID,
				"score", verdict.ConfidenceScore,
			)
			qualityWarning = true
			break
		}

		logger.Info("Reflection critic requested a re-summarization",
			"session_id", sessionID,
			"score", verdict.ConfidenceScore,
		)
		summaryContext = map[string]string{
			"credibility_critique": critique.Text,
			"reflection_feedback":  verdict.Text,
		}
	}
	narrative := draft

	// Stage 5: translate when the caller asked for another language.
	language := s.input.Query.OutputLanguage
	if language == "" {
		language = "en"
	}
	if language != "en" {
		s.setStage(ctx, models.RoleTranslate, partial)
		translated, err := s.runStage(stageCtx, agents.Task{
			WorkerID:  "pipeline-translator",
			Role:      models.RoleTranslate,
			SessionID: sessionID,
			Input:     narrative.Text,
			Citations: citations,
			Context:   map[string]string{"target_language": language},
		})
		if err != nil {
			return models.Report{}, err
		}
		narrative = translated
	}

	// Stage 6: assign citation indexes and append the reference list.
	s.setStage(ctx, models.RoleCite, partial)
	cited, err := s.runStage(stageCtx, agents.Task{
		WorkerID:  "pipeline-citer",
		Role:      models.RoleCite,
		SessionID: sessionID,
		Input:     narrative.Text,
		Citations: citations,
	})
	if err != nil {
		return models.Report{}, err
	}

	return models.Report{
		QueryID:           sessionID,
		NarrativeText:     cited.Text,
		Citations:         cited.Citations,
		OverallConfidence: metadata.OverallConfidence(results),
		Language:          language,
		QualityWarning:    qualityWarning,
		GeneratedAt:       workflow.Now(ctx).UTC(),
	}, nil
}

// runStage executes one pipeline worker and fails the stage on any
// non-usable status. Unlike research workers, pipeline stages have no
// partial-failure policy; the chain stops here.
func (s *sessionRun) runStage(ctx workflow.Context, task agents.Task) (models.WorkerResult, error) {
	var result models.WorkerResult
	if err := workflow.ExecuteActivity(ctx, "ExecuteWorker", task).Get(ctx, &result); err != nil {
		return models.WorkerResult{}, models.NewPipelineStageError(task.Role, err)
	}
	if !result.Succeeded() {
		return models.WorkerResult{}, models.NewPipelineStageError(task.Role,
			fmt.Errorf("worker %s: %s", result.Status, result.ErrorReason))
	}
	return result, nil
}

func (s *sessionRun) setStage(ctx workflow.Context, stage string, partial bool) {
	s.updateStatus(ctx, models.SessionStatus{
		SessionID:   s.input.Query.ID,
		State:       models.SessionPipelineRunning,
		ActiveStage: stage,
		Partial:     partial,
	})
}

// formatFindings flattens the usable worker outputs into one document for
// the pipeline stages.
func formatFindings(results []models.WorkerResult) string {
	var b strings.Builder
	n := 0
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		n++
		fmt.Fprintf(&b, "## Finding %d (%s)\n\n%s\n\n", n, r.WorkerID, r.Text)
	}
	return b.String()
}
