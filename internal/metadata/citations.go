// Package metadata scores, merges, and indexes citations attached to
// research findings.
package metadata

import (
	"math"
	"sort"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

// MergeCitations combines citation lists from multiple workers into one
// deduplicated list. Two citations are the same source reference when they
// share (source_id, excerpt); the merged citation keeps the higher
// confidence score. The result is sorted by confidence descending with
// (source_id, excerpt) as tie-breaker, so the output does not depend on
// input order.
func MergeCitations(lists ...[]models.Citation) []models.Citation {
	type key struct {
		sourceID string
		excerpt  string
	}

	merged := make(map[key]models.Citation)
	for _, list := range lists {
		for _, c := range list {
			k := key{sourceID: c.SourceID, excerpt: c.Excerpt}
			if existing, ok := merged[k]; !ok || c.ConfidenceScore > existing.ConfidenceScore {
				merged[k] = c
			}
		}
	}

	result := make([]models.Citation, 0, len(merged))
	for _, c := range merged {
		result = append(result, c)
	}
	sortCitations(result)
	return result
}

// AssignIndexes numbers citations 1..n in their sorted order so the report
// narrative can reference them stably.
func AssignIndexes(citations []models.Citation) []models.Citation {
	out := make([]models.Citation, len(citations))
	copy(out, citations)
	sortCitations(out)
	for i := range out {
		out[i].Index = i + 1
	}
	return out
}

func sortCitations(citations []models.Citation) {
	sort.Slice(citations, func(i, j int) bool {
		if citations[i].ConfidenceScore != citations[j].ConfidenceScore {
			return citations[i].ConfidenceScore > citations[j].ConfidenceScore
		}
		if citations[i].SourceID != citations[j].SourceID {
			return citations[i].SourceID < citations[j].SourceID
		}
		return citations[i].Excerpt < citations[j].Excerpt
	})
}

// OverallConfidence aggregates per-result confidence into one score,
// weighting each result by its citation count so well-sourced findings
// dominate. Results without citations still count with weight one.
// Rounded to 4 decimals.
func OverallConfidence(results []models.WorkerResult) float64 {
	var weighted, totalWeight float64
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		w := float64(len(r.Citations))
		if w < 1 {
			w = 1
		}
		weighted += r.ConfidenceScore * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return math.Round(weighted/totalWeight*10000) / 10000
}

// SourceDiversity reports the ratio of distinct sources to citations,
// in (0, 1]. Zero citations scores zero.
func SourceDiversity(citations []models.Citation) float64 {
	if len(citations) == 0 {
		return 0
	}
	sources := make(map[string]struct{}, len(citations))
	for _, c := range citations {
		sources[c.SourceID] = struct{}{}
	}
	return float64(len(sources)) / float64(len(citations))
}
