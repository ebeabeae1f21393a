package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/activities"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/agents"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/config"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// stubActivities is a deterministic activity set for workflow tests. It
// records every task and status update and lets individual workers be
// failed, blocked, or scored.
type stubActivities struct {
	mu            sync.Mutex
	tasks         []agents.Task
	states        []models.SessionStatus
	teardowns     []activities.TeardownInput
	attached      []activities.AttachReportInput
	outcomes      []models.SessionStatus
	failWorkers   map[string]string // worker ID -> status to return
	errorWorkers  map[string]error  // worker ID -> activity-level error
	blockWorkers  map[string]bool   // worker ID -> block until cancelled
	reflectScores []float64         // consumed per reflect call, default 0.9
	fanout        int
}

func newStubActivities(fanout int) *stubActivities {
	return &stubActivities{
		failWorkers:  map[string]string{},
		blockWorkers: map[string]bool{},
		fanout:       fanout,
	}
}

func (s *stubActivities) DecomposeQuery(ctx context.Context, in activities.DecomposeInput) (activities.DecomposeResult, error) {
	subs := make([]models.SubQuery, 0, s.fanout)
	for i := 0; i < s.fanout; i++ {
		subs = append(subs, models.SubQuery{
			ID:            string(rune('a' + i)),
			ParentQueryID: in.Query.ID,
			Text:          in.Query.Text,
			WorkerID:      []string{"worker-1", "worker-2", "worker-3", "worker-4"}[i],
			Temperature:   0.6,
		})
	}
	return activities.DecomposeResult{SubQueries: subs}, nil
}

func (s *stubActivities) ExecuteWorker(ctx context.Context, task agents.Task) (models.WorkerResult, error) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	block := s.blockWorkers[task.WorkerID]
	failStatus := s.failWorkers[task.WorkerID]
	activityErr := s.errorWorkers[task.WorkerID]
	var score float64 = 0.9
	if task.Role == models.RoleReflectCritique && len(s.reflectScores) > 0 {
		score = s.reflectScores[0]
		s.reflectScores = s.reflectScores[1:]
	}
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return models.WorkerResult{}, ctx.Err()
	}
	if activityErr != nil {
		return models.WorkerResult{}, activityErr
	}
	if failStatus != "" {
		return models.WorkerResult{
			WorkerID:    task.WorkerID,
			Role:        task.Role,
			Status:      failStatus,
			ErrorReason: "stubbed failure",
		}, nil
	}

	result := models.WorkerResult{
		WorkerID:        task.WorkerID,
		Role:            task.Role,
		Status:          models.StatusOK,
		Text:            task.Role + " output",
		ConfidenceScore: 0.8,
	}
	switch task.Role {
	case models.RoleResearch:
		result.Citations = []models.Citation{{
			SourceID:        "doc-" + task.WorkerID,
			SourceTitle:     "Doc " + task.WorkerID,
			Excerpt:         "excerpt",
			ConfidenceScore: 0.8,
			SourceType:      models.SourceInternal,
		}}
	case models.RoleReflectCritique:
		result.ConfidenceScore = score
		result.Text = "needs more sourcing"
	case models.RoleCredibilityCritique, models.RoleCite:
		result.Citations = task.Citations
	}
	return result, nil
}

func (s *stubActivities) UpdateSessionStatus(ctx context.Context, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, status)
	return nil
}

func (s *stubActivities) TeardownSession(ctx context.Context, in activities.TeardownInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardowns = append(s.teardowns, in)
	return nil
}

func (s *stubActivities) AttachReport(ctx context.Context, in activities.AttachReportInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, in)
	return nil
}

func (s *stubActivities) RecordOutcome(ctx context.Context, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, status)
	return nil
}

func (s *stubActivities) tasksByRole(role string) []agents.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []agents.Task
	for _, task := range s.tasks {
		if task.Role == role {
			out = append(out, task)
		}
	}
	return out
}

func (s *stubActivities) finalState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return ""
	}
	return s.states[len(s.states)-1].State
}

func newSessionEnv(t *testing.T, stub *stubActivities) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.RegisterWorkflow(ResearchSessionWorkflow)
	env.RegisterActivityWithOptions(stub.DecomposeQuery, activity.RegisterOptions{Name: "DecomposeQuery"})
	env.RegisterActivityWithOptions(stub.ExecuteWorker, activity.RegisterOptions{Name: "ExecuteWorker"})
	env.RegisterActivityWithOptions(stub.UpdateSessionStatus, activity.RegisterOptions{Name: "UpdateSessionStatus"})
	env.RegisterActivityWithOptions(stub.TeardownSession, activity.RegisterOptions{Name: "TeardownSession"})
	env.RegisterActivityWithOptions(stub.AttachReport, activity.RegisterOptions{Name: "AttachReport"})
	env.RegisterActivityWithOptions(stub.RecordOutcome, activity.RegisterOptions{Name: "RecordOutcome"})
	return env
}

func sessionInput(query models.ResearchQuery) SessionInput {
	cfg := config.Default()
	return SessionInput{
		Query:    query,
		Research: cfg.Research,
		Pipeline: cfg.Pipeline,
	}
}

func TestSessionCompletesThroughFullStateMachine(t *testing.T) {
	stub := newStubActivities(3)
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{
		ID:   "sess-1",
		Text: "how do ion thrusters work",
	}))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCompleted, result.State)
	assert.False(t, result.Partial)
	assert.NotEmpty(t, result.Report.NarrativeText)
	assert.Equal(t, "en", result.Report.Language)
	assert.Greater(t, result.Report.OverallConfidence, 0.0)

	// Every research worker ran exactly once.
	assert.Len(t, stub.tasksByRole(models.RoleResearch), 3)

	// The state machine walked forward without skipping phases.
	var seen []string
	last := ""
	for _, status := range stub.states {
		if status.State != last {
			seen = append(seen, status.State)
			last = status.State
		}
	}
	assert.Equal(t, []string{
		models.SessionResearchRunning,
		models.SessionResearchDone,
		models.SessionPipelineRunning,
		models.SessionCompleted,
	}, seen)

	// Report attached, memory torn down.
	require.Len(t, stub.attached, 1)
	assert.Equal(t, "sess-1", stub.attached[0].SessionID)
	require.Len(t, stub.teardowns, 1)
	assert.False(t, stub.teardowns[0].Persist)
}

func TestSessionToleratesPartialWorkerFailure(t *testing.T) {
	stub := newStubActivities(3)
	stub.failWorkers["worker-2"] = models.StatusError
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCompleted, result.State)
	assert.True(t, result.Partial, "a failed worker yields a partial report")
	assert.NotEmpty(t, result.Report.NarrativeText)
}

func TestSessionFailsWhenAllWorkersFail(t *testing.T) {
	stub := newStubActivities(3)
	stub.failWorkers["worker-1"] = models.StatusError
	stub.failWorkers["worker-2"] = models.StatusTimeout
	stub.failWorkers["worker-3"] = models.StatusError
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionFailed, result.State)
	assert.Contains(t, result.FailureReason, "research exhausted")

	// The pipeline never started.
	assert.Empty(t, stub.tasksByRole(models.RoleSummarize))

	// Teardown still ran.
	require.Len(t, stub.teardowns, 1)
}

func TestLowConfidenceWorkerStillCountsAsUsable(t *testing.T) {
	stub := newStubActivities(3)
	stub.failWorkers["worker-1"] = models.StatusError
	stub.failWorkers["worker-2"] = models.StatusLowConfidence
	stub.failWorkers["worker-3"] = models.StatusError
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCompleted, result.State)
	assert.True(t, result.Partial)
}

func TestReflectionTriggersSingleRewrite(t *testing.T) {
	stub := newStubActivities(3)
	stub.reflectScores = []float64{0.4, 0.95}
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCompleted, result.State)
	assert.False(t, result.Report.QualityWarning)

	// The redo restarts at summarize with the critic's feedback, then
	// writes and reflects again.
	summaries := stub.tasksByRole(models.RoleSummarize)
	require.Len(t, summaries, 2)
	assert.Empty(t, summaries[0].Context["reflection_feedback"])
	assert.Equal(t, "needs more sourcing", summaries[1].Context["reflection_feedback"])
	assert.Len(t, stub.tasksByRole(models.RoleWriteReport), 2)
	assert.Len(t, stub.tasksByRole(models.RoleReflectCritique), 2)
}

func TestPersistentLowVerdictFlagsReport(t *testing.T) {
	stub := newStubActivities(3)
	stub.reflectScores = []float64{0.4, 0.4, 0.4}
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCompleted, result.State)
	assert.True(t, result.Report.QualityWarning, "weak report ships flagged, not rewritten forever")

	// Exactly one redo: two summarize passes, two writes, two verdicts.
	assert.Len(t, stub.tasksByRole(models.RoleSummarize), 2)
	assert.Len(t, stub.tasksByRole(models.RoleWriteReport), 2)
	assert.Len(t, stub.tasksByRole(models.RoleReflectCritique), 2)
}

func TestPipelineStageFailureFailsSession(t *testing.T) {
	stub := newStubActivities(2)
	stub.failWorkers["pipeline-summarizer"] = models.StatusError
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionFailed, result.State)
	assert.Contains(t, result.FailureReason, models.RoleSummarize)
	assert.Empty(t, stub.attached)
	require.Len(t, stub.teardowns, 1)
}

func TestCoordinatorDeadlineMarksStragglers(t *testing.T) {
	stub := newStubActivities(3)
	stub.blockWorkers["worker-3"] = true
	env := newSessionEnv(t, stub)

	// Short timeouts keep the blocked worker within the test environment's
	// deadlock detector: the env clock tracks wall time while an activity
	// is running, so the defaults can never be reached.
	in := sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"})
	in.Research.WorkerTimeout = time.Second
	in.Research.CoordinatorDeadline = 2 * time.Second
	env.ExecuteWorkflow(ResearchSessionWorkflow, in)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCompleted, result.State)
	assert.True(t, result.Partial, "a straggler past the deadline leaves a partial report")
}

func TestCancellationTearsDownSession(t *testing.T) {
	stub := newStubActivities(3)
	for _, id := range []string{"worker-1", "worker-2", "worker-3"} {
		stub.blockWorkers[id] = true
	}
	env := newSessionEnv(t, stub)

	env.RegisterDelayedCallback(func() {
		env.CancelWorkflow()
	}, time.Second)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCancelled, result.State)
	assert.Empty(t, result.Report.NarrativeText)

	// Cleanup ran on the disconnected context.
	require.Len(t, stub.teardowns, 1)
	assert.Equal(t, "sess-1", stub.teardowns[0].SessionID)
	assert.Equal(t, models.SessionCancelled, stub.finalState())
}

func TestCancellationDuringSummarizeTearsDown(t *testing.T) {
	stub := newStubActivities(2)
	stub.blockWorkers["pipeline-summarizer"] = true
	env := newSessionEnv(t, stub)

	// Cancel within the deadlock detector's window: the env clock tracks
	// wall time while the summarize activity is blocked.
	env.RegisterDelayedCallback(func() {
		env.CancelWorkflow()
	}, time.Second)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCancelled, result.State)
	assert.Empty(t, result.FailureReason)

	// The next stage never started, and cleanup still ran.
	assert.Empty(t, stub.tasksByRole(models.RoleWriteReport))
	require.Len(t, stub.teardowns, 1)
	assert.Equal(t, "sess-1", stub.teardowns[0].SessionID)
	assert.Equal(t, models.SessionCancelled, stub.finalState())
}

func TestTranslationRunsForNonEnglishOutput(t *testing.T) {
	stub := newStubActivities(2)
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{
		ID:             "sess-1",
		Text:           "q",
		OutputLanguage: "ja",
	}))
	require.True(t, env.IsWorkflowCompleted())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCompleted, result.State)
	assert.Equal(t, "ja", result.Report.Language)

	translations := stub.tasksByRole(models.RoleTranslate)
	require.Len(t, translations, 1)
	assert.Equal(t, "ja", translations[0].Context["target_language"])
}

func TestEnglishOutputSkipsTranslation(t *testing.T) {
	stub := newStubActivities(2)
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())
	assert.Empty(t, stub.tasksByRole(models.RoleTranslate))
}

func TestPersistedSessionRecordsOutcome(t *testing.T) {
	stub := newStubActivities(2)
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{
		ID:      "sess-1",
		Text:    "q",
		Persist: true,
	}))
	require.True(t, env.IsWorkflowCompleted())

	require.Len(t, stub.teardowns, 1)
	assert.True(t, stub.teardowns[0].Persist, "persisted sessions keep their memory namespace")
	require.Len(t, stub.outcomes, 1)
	assert.Equal(t, models.SessionCompleted, stub.outcomes[0].State)
}

func TestWorkerActivityErrorBecomesResultStatus(t *testing.T) {
	stub := newStubActivities(2)
	// One worker's activity fails outright instead of reporting a status.
	stub.errorWorkers = map[string]error{"worker-2": errors.New("worker host lost")}
	env := newSessionEnv(t, stub)

	env.ExecuteWorkflow(ResearchSessionWorkflow, sessionInput(models.ResearchQuery{ID: "sess-1", Text: "q"}))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SessionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.SessionCompleted, result.State)
	assert.True(t, result.Partial)
}
