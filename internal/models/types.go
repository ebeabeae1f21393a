package models

import "time"

// Temperature profiles requested by the caller
const (
	ProfileConservative = "conservative"
	ProfileBalanced     = "balanced"
	ProfileCreative     = "creative"
)

// Worker roles
const (
	RoleResearch            = "research"
	RoleCredibilityCritique = "credibility-critique"
	RoleSummarize           = "summarize"
	RoleWriteReport         = "write-report"
	RoleReflectCritique     = "reflect-critique"
	RoleTranslate           = "translate"
	RoleCite                = "cite"
)

// Worker result statuses
const (
	StatusOK            = "ok"
	StatusTimeout       = "timeout"
	StatusError         = "error"
	StatusLowConfidence = "low_confidence"
)

// Session states
const (
	SessionCreated         = "created"
	SessionResearchRunning = "research_running"
	SessionResearchDone    = "research_done"
	SessionPipelineRunning = "pipeline_running"
	SessionCompleted       = "completed"
	SessionFailed          = "failed"
	SessionCancelled       = "cancelled"
)

// Citation source types
const (
	SourceInternal = "internal"
	SourceWeb      = "web"
)

// ResearchQuery is the immutable description of one research request.
type ResearchQuery struct {
	ID                 string    `json:"id"`
	Text               string    `json:"text"`
	TemperatureProfile string    `json:"temperature_profile"`
	MaxSubAgents       int       `json:"max_sub_agents"`
	OutputLanguage     string    `json:"output_language"`
	Persist            bool      `json:"persist"`
	CreatedAt          time.Time `json:"created_at"`
}

// SubQuery is one decomposed facet of a ResearchQuery.
type SubQuery struct {
	ID            string  `json:"id"`
	ParentQueryID string  `json:"parent_query_id"`
	Text          string  `json:"text"`
	WorkerID      string  `json:"assigned_worker_id"`
	CorpusID      string  `json:"corpus_id"`
	Temperature   float64 `json:"temperature"`
	Approach      string  `json:"approach"`
}

// Citation attaches a scored source excerpt to a finding.
type Citation struct {
	SourceID        string  `json:"source_id"`
	SourceTitle     string  `json:"source_title"`
	Excerpt         string  `json:"excerpt"`
	ConfidenceScore float64 `json:"confidence_score"`
	SourceType      string  `json:"source_type"`
	Index           int     `json:"index,omitempty"` // stable reference index, assigned by the cite stage
}

// WorkerResult is the terminal outcome of one worker invocation.
// It is read-only once produced; merge logic must treat it as a value.
type WorkerResult struct {
	WorkerID        string     `json:"worker_id"`
	Role            string     `json:"role"`
	Status          string     `json:"status"`
	Text            string     `json:"text"`
	Citations       []Citation `json:"citations,omitempty"`
	ConfidenceScore float64    `json:"confidence_score"`
	ErrorReason     string     `json:"error_reason,omitempty"`
	QualityWarning  bool       `json:"quality_warning,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      time.Time  `json:"finished_at"`
}

// Succeeded reports whether the result carries usable findings. Low
// confidence is a soft signal, not a failure.
func (r WorkerResult) Succeeded() bool {
	return r.Status == StatusOK || r.Status == StatusLowConfidence
}

// Report is the final synthesized output of a session. Immutable once the
// session reaches Completed.
type Report struct {
	QueryID           string     `json:"query_id"`
	NarrativeText     string     `json:"narrative_text"`
	Citations         []Citation `json:"citations"`
	OverallConfidence float64    `json:"overall_confidence"`
	Language          string     `json:"language"`
	QualityWarning    bool       `json:"quality_warning,omitempty"`
	GeneratedAt       time.Time  `json:"generated_at"`
}

// MemoryEntry is one value in the session-scoped memory store.
type MemoryEntry struct {
	Key       string        `json:"key"`
	Namespace string        `json:"namespace"`
	Value     []byte        `json:"value"`
	Tags      []string      `json:"tags,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	TTL       time.Duration `json:"ttl"`
}

// SessionStatus is the pollable read-only projection of a session's state
// machine consumed by the dashboard layer. State is monotonic.
type SessionStatus struct {
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	ActiveStage   string    `json:"active_stage,omitempty"`
	Partial       bool      `json:"partial"`
	FailureReason string    `json:"failure_reason,omitempty"`
	WorkersDone   int       `json:"workers_done"`
	WorkersTotal  int       `json:"workers_total"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Terminal reports whether the state admits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s.State {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// ProfileTemperature maps a requested profile to a base sampling
// temperature. Unknown profiles fall back to balanced.
func ProfileTemperature(profile string) float64 {
	switch profile {
	case ProfileConservative:
		return 0.2
	case ProfileCreative:
		return 0.9
	default:
		return 0.6
	}
}
