// Package activities implements the Temporal activities of the research
// engine. Workflows never touch Redis, Postgres, or the capability
// services directly; everything side-effecting goes through here.
package activities

import (
	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/agents"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/capabilities"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/config"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/db"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/memory"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/session"
)

// Activities holds the dependencies shared by all activity methods.
type Activities struct {
	worker    *agents.Worker
	generator capabilities.TextGenerator
	memory    *memory.Store
	sessions  *session.Manager
	reports   *db.Store // nil when persistence is disabled
	research  config.ResearchConfig
	logger    *zap.Logger
}

// NewActivities creates an activities instance with its dependencies.
// reports may be nil; sessions with the persist flag then skip database
// writes.
func NewActivities(
	worker *agents.Worker,
	generator capabilities.TextGenerator,
	mem *memory.Store,
	sessions *session.Manager,
	reports *db.Store,
	research config.ResearchConfig,
	logger *zap.Logger,
) *Activities {
	return &Activities{
		worker:    worker,
		generator: generator,
		memory:    mem,
		sessions:  sessions,
		reports:   reports,
		research:  research,
		logger:    logger,
	}
}
