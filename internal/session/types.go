package session

import (
	"time"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// Record is everything the orchestrator tracks about one session outside
// the workflow itself: the originating query, the pollable status
// projection, and, once completed, the report.
type Record struct {
	Query     models.ResearchQuery `json:"query"`
	Status    models.SessionStatus `json:"status"`
	Report    *models.Report       `json:"report,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// allowedTransitions encodes the session state machine. Terminal states
// have no successors; Failed and Cancelled are reachable from any
// non-terminal state.
var allowedTransitions = map[string][]string{
	models.SessionCreated:         {models.SessionResearchRunning},
	models.SessionResearchRunning: {models.SessionResearchDone},
	models.SessionResearchDone:    {models.SessionPipelineRunning},
	models.SessionPipelineRunning: {models.SessionCompleted},
}

// ValidTransition reports whether a session may move from one state to
// another.
func ValidTransition(from, to string) bool {
	if from == to {
		return true
	}
	// Any non-terminal state may fail or be cancelled.
	if to == models.SessionFailed || to == models.SessionCancelled {
		return !(models.SessionStatus{State: from}).Terminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
