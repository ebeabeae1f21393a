package capabilities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

func TestTextGeneratorRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req GenerationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 0.2, req.Temperature)

		json.NewEncoder(w).Encode(GenerationResult{Text: "generated findings", TokensUsed: 42})
	}))
	defer srv.Close()

	gen := NewHTTPTextGenerator(srv.URL, 5*time.Second, nil, zaptest.NewLogger(t))
	result, err := gen.Generate(context.Background(), GenerationRequest{
		Prompt:      "analyze the query",
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "generated findings", result.Text)
	assert.Equal(t, 42, result.TokensUsed)
}

func TestDocumentSearcherRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		json.NewEncoder(w).Encode(SearchResult{Documents: []Document{
			{ID: "doc-1", Title: "Source A", Excerpt: "relevant passage", Score: 0.91},
		}})
	}))
	defer srv.Close()

	searcher := NewHTTPDocumentSearcher(srv.URL, 5*time.Second, nil, zaptest.NewLogger(t))
	result, err := searcher.Search(context.Background(), SearchRequest{Query: "topic", TopK: 5})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "doc-1", result.Documents[0].ID)
}

func TestCapabilityErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gen := NewHTTPTextGenerator(srv.URL, 5*time.Second, nil, zaptest.NewLogger(t))
	_, err := gen.Generate(context.Background(), GenerationRequest{Prompt: "p"})
	require.Error(t, err)

	var ce *models.CapabilityError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Timeout)
	assert.Contains(t, ce.Reason, "503")
	assert.False(t, models.IsCapabilityTimeout(err))
}

func TestCapabilityTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	gen := NewHTTPTextGenerator(srv.URL, 50*time.Millisecond, nil, zaptest.NewLogger(t))
	_, err := gen.Generate(context.Background(), GenerationRequest{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, models.IsCapabilityTimeout(err), "slow adapter must classify as timeout, got: %v", err)
}

func TestCapabilityErrorOnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	searcher := NewHTTPDocumentSearcher(srv.URL, 5*time.Second, nil, zaptest.NewLogger(t))
	_, err := searcher.Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)

	var ce *models.CapabilityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "decode response", ce.Reason)
}
