package metadata

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/capabilities"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// CredibilityConfig weights retrieved documents by how much their source
// can be trusted. Loaded from YAML; reloadable at runtime.
type CredibilityConfig struct {
	DefaultWeight float64            `yaml:"default_weight"`
	SourceTypes   map[string]float64 `yaml:"source_types"`
	Sources       map[string]float64 `yaml:"sources"` // per source-ID overrides
}

var (
	credibilityMu     sync.RWMutex
	credibilityConfig *CredibilityConfig
)

func defaultCredibilityConfig() *CredibilityConfig {
	return &CredibilityConfig{
		DefaultWeight: 0.7,
		SourceTypes: map[string]float64{
			models.SourceInternal: 0.9,
			models.SourceWeb:      0.6,
		},
	}
}

// LoadCredibilityRules reads the rules file and installs it as the active
// configuration. An empty path installs the built-in defaults. Safe to call
// from the config watcher on file change.
func LoadCredibilityRules(path string) error {
	cfg := defaultCredibilityConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read credibility rules %s: %w", path, err)
		}
		var parsed CredibilityConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("parse credibility rules %s: %w", path, err)
		}
		if parsed.DefaultWeight > 0 {
			cfg.DefaultWeight = parsed.DefaultWeight
		}
		for st, w := range parsed.SourceTypes {
			cfg.SourceTypes[st] = w
		}
		cfg.Sources = parsed.Sources
	}

	credibilityMu.Lock()
	credibilityConfig = cfg
	credibilityMu.Unlock()
	return nil
}

// ResetCredibilityRulesForTest clears the active configuration.
func ResetCredibilityRulesForTest() {
	credibilityMu.Lock()
	credibilityConfig = nil
	credibilityMu.Unlock()
}

func activeCredibilityConfig() *CredibilityConfig {
	credibilityMu.RLock()
	cfg := credibilityConfig
	credibilityMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	credibilityMu.Lock()
	defer credibilityMu.Unlock()
	if credibilityConfig == nil {
		credibilityConfig = defaultCredibilityConfig()
	}
	return credibilityConfig
}

// CredibilityWeight returns the trust weight for a source.
func CredibilityWeight(sourceID, sourceType string) float64 {
	cfg := activeCredibilityConfig()
	if w, ok := cfg.Sources[sourceID]; ok {
		return w
	}
	if w, ok := cfg.SourceTypes[sourceType]; ok {
		return w
	}
	return cfg.DefaultWeight
}

// ScoreDocuments scores a retrieved document set, dropping documents
// without an excerpt: a citation must point at concrete quoted text.
func ScoreDocuments(docs []capabilities.Document) []models.Citation {
	citations := make([]models.Citation, 0, len(docs))
	for _, doc := range docs {
		if doc.Excerpt == "" {
			continue
		}
		citations = append(citations, ScoreDocument(doc))
	}
	return citations
}

// ScoreDocument converts a retrieved document into a citation, blending
// the retrieval relevance with the source's credibility weight.
func ScoreDocument(doc capabilities.Document) models.Citation {
	sourceType := doc.SourceType
	if sourceType == "" {
		sourceType = models.SourceInternal
	}

	confidence := clamp01(doc.Score) * CredibilityWeight(doc.ID, sourceType)
	return models.Citation{
		SourceID:        doc.ID,
		SourceTitle:     doc.Title,
		Excerpt:         doc.Excerpt,
		ConfidenceScore: clamp01(confidence),
		SourceType:      sourceType,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
