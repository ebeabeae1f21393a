package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/capabilities"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// DecomposeInput asks for a research query to be split into sub-queries.
type DecomposeInput struct {
	Query  models.ResearchQuery `json:"query"`
	Fanout int                  `json:"fanout"`
}

// DecomposeResult carries the sub-queries to fan out.
type DecomposeResult struct {
	SubQueries []models.SubQuery `json:"sub_queries"`
}

// temperatureProfiles are the angle/temperature pairs cycled across
// workers so parallel research approaches the query from distinct
// directions.
var temperatureProfiles = []struct {
	Profile  string
	Approach string
}{
	{models.ProfileConservative, "conservative analysis grounded strictly in established sources"},
	{models.ProfileBalanced, "balanced synthesis weighing multiple perspectives"},
	{models.ProfileCreative, "exploratory analysis surfacing non-obvious angles"},
}

// DecomposeQuery splits the query into fanout sub-queries. The "llm"
// decomposer asks the text generation service for sub-questions and falls
// back to profile decomposition when that fails; the "profile" decomposer
// varies approach and temperature over the same question.
func (a *Activities) DecomposeQuery(ctx context.Context, in DecomposeInput) (DecomposeResult, error) {
	fanout := in.Fanout
	if fanout < 1 {
		fanout = a.research.DefaultFanout
	}
	if fanout > a.research.MaxFanout {
		fanout = a.research.MaxFanout
	}

	if a.research.Decomposer == "llm" {
		if subs, err := a.decomposeLLM(ctx, in.Query, fanout); err == nil {
			return DecomposeResult{SubQueries: subs}, nil
		} else {
			a.logger.Warn("LLM decomposition failed, falling back to profile decomposition",
				zap.String("query_id", in.Query.ID),
				zap.Error(err),
			)
		}
	}

	return DecomposeResult{SubQueries: a.decomposeProfiles(in.Query, fanout)}, nil
}

// decomposeProfiles produces fanout sub-queries over the same question
// with rotated approaches, starting at the profile the caller asked for.
func (a *Activities) decomposeProfiles(query models.ResearchQuery, fanout int) []models.SubQuery {
	start := 0
	for i, p := range temperatureProfiles {
		if p.Profile == query.TemperatureProfile {
			start = i
			break
		}
	}

	subs := make([]models.SubQuery, 0, fanout)
	for i := 0; i < fanout; i++ {
		p := temperatureProfiles[(start+i)%len(temperatureProfiles)]
		subs = append(subs, models.SubQuery{
			ID:            uuid.New().String(),
			ParentQueryID: query.ID,
			Text:          query.Text,
			WorkerID:      fmt.Sprintf("worker-%d", i+1),
			Temperature:   models.ProfileTemperature(p.Profile),
			Approach:      p.Approach,
		})
	}
	return subs
}

func (a *Activities) decomposeLLM(ctx context.Context, query models.ResearchQuery, fanout int) ([]models.SubQuery, error) {
	gen, err := a.generator.Generate(ctx, capabilities.GenerationRequest{
		SystemPrompt: fmt.Sprintf(`You are a research planner. Split the question into exactly %d focused sub-questions covering distinct facets. Respond with a JSON array of strings.`, fanout),
		Prompt:       query.Text,
		Temperature:  models.ProfileTemperature(query.TemperatureProfile),
	})
	if err != nil {
		return nil, err
	}

	texts, err := parseSubQuestions(gen.Text)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("decomposition returned no sub-questions")
	}
	if len(texts) > fanout {
		texts = texts[:fanout]
	}

	subs := make([]models.SubQuery, 0, len(texts))
	for i, text := range texts {
		p := temperatureProfiles[i%len(temperatureProfiles)]
		subs = append(subs, models.SubQuery{
			ID:            uuid.New().String(),
			ParentQueryID: query.ID,
			Text:          text,
			WorkerID:      fmt.Sprintf("worker-%d", i+1),
			Temperature:   models.ProfileTemperature(p.Profile),
			Approach:      p.Approach,
		})
	}
	return subs, nil
}

func parseSubQuestions(text string) ([]string, error) {
	var texts []string
	if err := json.Unmarshal([]byte(text), &texts); err == nil {
		return texts, nil
	}
	// Tolerate prose-wrapped JSON.
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &texts); err == nil {
			return texts, nil
		}
	}
	return nil, fmt.Errorf("sub-questions not parseable as JSON array")
}
