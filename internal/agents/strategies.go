package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/capabilities"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/metadata"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// strategy runs one role's behavior.
type strategy interface {
	Run(ctx context.Context, task Task, deps Dependencies) (Output, error)
}

func strategyForRole(role string) (strategy, error) {
	switch role {
	case models.RoleResearch:
		return researchStrategy{}, nil
	case models.RoleCredibilityCritique:
		return credibilityStrategy{}, nil
	case models.RoleSummarize:
		return summarizeStrategy{}, nil
	case models.RoleWriteReport:
		return writeReportStrategy{}, nil
	case models.RoleReflectCritique:
		return reflectStrategy{}, nil
	case models.RoleTranslate:
		return translateStrategy{}, nil
	case models.RoleCite:
		return citeStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown worker role: %q", role)
	}
}

const defaultTopK = 8

// researchStrategy retrieves documents for the sub-query, converts them to
// scored citations, and synthesizes findings at the sub-query's
// temperature.
type researchStrategy struct{}

func (researchStrategy) Run(ctx context.Context, task Task, deps Dependencies) (Output, error) {
	search, err := deps.Searcher.Search(ctx, capabilities.SearchRequest{
		Query:    task.SubQuery.Text,
		CorpusID: task.SubQuery.CorpusID,
		TopK:     defaultTopK,
	})
	if err != nil {
		return Output{}, err
	}

	citations := metadata.ScoreDocuments(search.Documents)
	var excerpts strings.Builder
	for i, c := range citations {
		fmt.Fprintf(&excerpts, "[%d] %s: %s\n", i+1, c.SourceTitle, c.Excerpt)
	}

	gen, err := deps.Generator.Generate(ctx, capabilities.GenerationRequest{
		SystemPrompt: "You are a research analyst. Answer the question strictly from the provided sources and reference them by number.",
		Prompt: fmt.Sprintf("Question: %s\nApproach: %s\n\nSources:\n%s",
			task.SubQuery.Text, task.SubQuery.Approach, excerpts.String()),
		Temperature: task.SubQuery.Temperature,
	})
	if err != nil {
		return Output{}, err
	}

	return Output{
		Text:       gen.Text,
		Citations:  citations,
		Confidence: meanCitationConfidence(citations),
	}, nil
}

// credibilityStrategy reviews the merged findings, and for weakly supported
// claims runs one follow-up search to either corroborate or flag them. The
// follow-up is a single shot; whatever it yields, the stage concludes.
type credibilityStrategy struct{}

func (credibilityStrategy) Run(ctx context.Context, task Task, deps Dependencies) (Output, error) {
	citations := task.Citations
	weak := weakestCitation(citations, 0.5)

	if weak != nil {
		followUp, err := deps.Searcher.Search(ctx, capabilities.SearchRequest{
			Query: weak.Excerpt,
			TopK:  3,
		})
		if err != nil {
			// Follow-up is best effort; the critique proceeds on the
			// original citations.
			deps.Logger.Warn("Credibility follow-up search failed",
				zap.String("worker_id", task.WorkerID),
				zap.Error(err),
			)
		} else {
			citations = metadata.MergeCitations(citations, metadata.ScoreDocuments(followUp.Documents))
		}
	}

	gen, err := deps.Generator.Generate(ctx, capabilities.GenerationRequest{
		SystemPrompt: "You are a credibility critic. Point out claims whose sourcing is weak and state which sources support each key claim.",
		Prompt: fmt.Sprintf("Findings:\n%s\n\nSources carry confidence scores between 0 and 1; flag claims resting on scores below 0.5. Source diversity of the citation set is %.2f (distinct sources per citation); call out over-reliance on a single source when it is low.",
			task.Input, metadata.SourceDiversity(citations)),
		Temperature: temperatureOrDefault(task, 0.2),
	})
	if err != nil {
		return Output{}, err
	}

	return Output{
		Text:       gen.Text,
		Citations:  citations,
		Confidence: meanCitationConfidence(citations),
	}, nil
}

// summarizeStrategy condenses findings into a brief. The merged digest
// arrives as task input; the per-worker notes persisted during research
// are pulled from memory by tag so detail dropped by the merge is still
// available. Reflection feedback, when present, is folded into the prompt
// so a redo addresses the critique at the synthesis level.
type summarizeStrategy struct{}

func (summarizeStrategy) Run(ctx context.Context, task Task, deps Dependencies) (Output, error) {
	prompt := task.Input
	if critique := task.Context["credibility_critique"]; critique != "" {
		prompt = fmt.Sprintf("%s\n\nCredibility critique of these findings:\n%s", prompt, critique)
	}
	if notes := workerNotes(ctx, task, deps); notes != "" {
		prompt = fmt.Sprintf("%s\n\nFull worker notes:\n%s", prompt, notes)
	}
	if feedback := task.Context["reflection_feedback"]; feedback != "" {
		prompt = fmt.Sprintf("%s\n\nA reviewer raised these issues with the previous report; re-synthesize so they can be addressed:\n%s", prompt, feedback)
	}

	gen, err := deps.Generator.Generate(ctx, capabilities.GenerationRequest{
		SystemPrompt: "You are a summarizer. Produce a faithful, compact summary preserving all source references.",
		Prompt:       prompt,
		Temperature:  temperatureOrDefault(task, 0.3),
	})
	if err != nil {
		return Output{}, err
	}
	return Output{
		Text:       gen.Text,
		Citations:  task.Citations,
		Confidence: stageConfidence(task.Citations),
	}, nil
}

// workerNotes loads the research findings persisted under the session
// namespace, keyed by the findings tag. Best effort; the merged digest in
// the task input already carries the essentials.
func workerNotes(ctx context.Context, task Task, deps Dependencies) string {
	if deps.Memory == nil || task.SessionID == "" {
		return ""
	}
	entries, err := deps.Memory.QueryByTag(ctx, task.SessionID, findingsTag)
	if err != nil {
		deps.Logger.Warn("Failed to load worker notes from memory",
			zap.String("session_id", task.SessionID),
			zap.Error(err),
		)
		return ""
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	var notes strings.Builder
	for _, entry := range entries {
		var result models.WorkerResult
		if json.Unmarshal(entry.Value, &result) != nil || result.Text == "" {
			continue
		}
		fmt.Fprintf(&notes, "### %s\n%s\n", result.WorkerID, result.Text)
	}
	return notes.String()
}

// writeReportStrategy turns the summary and critique into the report
// narrative.
type writeReportStrategy struct{}

func (writeReportStrategy) Run(ctx context.Context, task Task, deps Dependencies) (Output, error) {
	gen, err := deps.Generator.Generate(ctx, capabilities.GenerationRequest{
		SystemPrompt: "You are a report writer. Produce a structured research report with inline numbered source references.",
		Prompt:       task.Input,
		Temperature:  temperatureOrDefault(task, 0.6),
	})
	if err != nil {
		return Output{}, err
	}
	return Output{
		Text:       gen.Text,
		Citations:  task.Citations,
		Confidence: stageConfidence(task.Citations),
	}, nil
}

// reflectionVerdict is the JSON shape the reflect prompt asks for.
type reflectionVerdict struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// reflectStrategy grades the draft report. Its confidence output is the
// quality score; the text output is the feedback used by a redo.
type reflectStrategy struct{}

func (reflectStrategy) Run(ctx context.Context, task Task, deps Dependencies) (Output, error) {
	gen, err := deps.Generator.Generate(ctx, capabilities.GenerationRequest{
		SystemPrompt: `You are a reflection critic. Grade the report for completeness, accuracy and sourcing. Respond with JSON: {"score": <0..1>, "feedback": "<issues to fix>"}.`,
		Prompt:       task.Input,
		Temperature:  temperatureOrDefault(task, 0.2),
	})
	if err != nil {
		return Output{}, err
	}

	verdict, ok := parseVerdict(gen.Text)
	if !ok {
		// An unparseable verdict must not sink the pipeline; accept the
		// draft and note the miss.
		deps.Logger.Warn("Reflection verdict not parseable, accepting draft",
			zap.String("worker_id", task.WorkerID),
		)
		verdict = reflectionVerdict{Score: 1.0}
	}

	return Output{
		Text:       verdict.Feedback,
		Confidence: clampScore(verdict.Score),
	}, nil
}

func parseVerdict(text string) (reflectionVerdict, bool) {
	var v reflectionVerdict
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v, true
	}
	// Models often wrap JSON in prose; try the outermost braces.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &v); err == nil {
			return v, true
		}
	}
	return reflectionVerdict{}, false
}

// translateStrategy renders the report in the requested output language.
type translateStrategy struct{}

func (translateStrategy) Run(ctx context.Context, task Task, deps Dependencies) (Output, error) {
	language := task.Context["target_language"]
	if language == "" {
		// No translation requested: the stage passes the text through.
		return Output{
			Text:       task.Input,
			Citations:  task.Citations,
			Confidence: stageConfidence(task.Citations),
		}, nil
	}

	gen, err := deps.Generator.Generate(ctx, capabilities.GenerationRequest{
		SystemPrompt: fmt.Sprintf("You are a translator. Translate the report into %s, keeping numbered source references intact.", language),
		Prompt:       task.Input,
		Temperature:  temperatureOrDefault(task, 0.2),
	})
	if err != nil {
		return Output{}, err
	}
	return Output{
		Text:       gen.Text,
		Citations:  task.Citations,
		Confidence: stageConfidence(task.Citations),
	}, nil
}

// citeStrategy assigns stable indexes and appends the references section.
// It is deterministic and calls no capability.
type citeStrategy struct{}

func (citeStrategy) Run(ctx context.Context, task Task, deps Dependencies) (Output, error) {
	indexed := metadata.AssignIndexes(task.Citations)

	var refs strings.Builder
	refs.WriteString(task.Input)
	if len(indexed) > 0 {
		refs.WriteString("\n\nReferences:\n")
		for _, c := range indexed {
			fmt.Fprintf(&refs, "[%d] %s (%s, confidence %.2f)\n", c.Index, c.SourceTitle, c.SourceID, c.ConfidenceScore)
		}
	}

	return Output{
		Text:       refs.String(),
		Citations:  indexed,
		Confidence: stageConfidence(indexed),
	}, nil
}

// meanCitationConfidence is zero when no citations exist: research output
// without sources is low confidence by definition.
func meanCitationConfidence(citations []models.Citation) float64 {
	if len(citations) == 0 {
		return 0
	}
	var sum float64
	for _, c := range citations {
		sum += c.ConfidenceScore
	}
	return sum / float64(len(citations))
}

// stageConfidence is meanCitationConfidence with a neutral floor for
// pipeline stages that legitimately carry no citations.
func stageConfidence(citations []models.Citation) float64 {
	if len(citations) == 0 {
		return 0.75
	}
	return meanCitationConfidence(citations)
}

func weakestCitation(citations []models.Citation, below float64) *models.Citation {
	var weakest *models.Citation
	for i := range citations {
		c := &citations[i]
		if c.ConfidenceScore >= below {
			continue
		}
		if weakest == nil || c.ConfidenceScore < weakest.ConfidenceScore {
			weakest = c
		}
	}
	return weakest
}

func temperatureOrDefault(task Task, fallback float64) float64 {
	if task.SubQuery.Temperature > 0 {
		return task.SubQuery.Temperature
	}
	return fallback
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func encodeResult(result models.WorkerResult) ([]byte, error) {
	return json.Marshal(result)
}
