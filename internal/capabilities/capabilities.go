// Package capabilities holds the outbound adapters workers call: text
// generation and document search. Both are plain JSON-over-HTTP clients;
// the services behind them are opaque.
package capabilities

import "context"

// GenerationRequest asks the text generation service for a completion.
type GenerationRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// GenerationResult is the service's completion.
type GenerationResult struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used,omitempty"`
	Model      string `json:"model,omitempty"`
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// SearchRequest asks the document search service for relevant sources.
type SearchRequest struct {
	Query    string `json:"query"`
	CorpusID string `json:"corpus_id,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

// Document is one retrieved source.
type Document struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
	SourceType string  `json:"source_type,omitempty"`
}

// SearchResult is the ranked retrieval outcome.
type SearchResult struct {
	Documents []Document `json:"documents"`
}

// DocumentSearcher retrieves documents for a query.
type DocumentSearcher interface {
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
}
