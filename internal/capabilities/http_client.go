package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/metrics"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/ratecontrol"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/tracing"
)

const maxResponseBytes = 10 << 20

// httpCapability is the shared JSON POST plumbing for both adapters.
type httpCapability struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *ratecontrol.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

func newHTTPCapability(name, baseURL string, timeout time.Duration, limiter *ratecontrol.Limiter, logger *zap.Logger) httpCapability {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return httpCapability{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		timeout: timeout,
		logger:  logger,
	}
}

// post sends the request body to path and decodes the response into out.
// Failures come back as *models.CapabilityError so callers can classify
// timeouts apart from adapter errors.
func (c httpCapability) post(ctx context.Context, path string, body, out interface{}) (err error) {
	defer func() {
		metrics.CapabilityCalls.WithLabelValues(c.name, callOutcome(err)).Inc()
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.classify(err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return &models.CapabilityError{Capability: c.name, Reason: "encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracing.StartCapabilitySpan(ctx, c.name, c.baseURL+path)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &models.CapabilityError{Capability: c.name, Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Capability call failed",
			zap.String("capability", c.name),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return c.classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.classify(err)
	}

	if resp.StatusCode != http.StatusOK {
		return &models.CapabilityError{
			Capability: c.name,
			Reason:     fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(data), 200)),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &models.CapabilityError{Capability: c.name, Reason: "decode response", Err: err}
	}
	return nil
}

func (c httpCapability) classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &models.CapabilityError{Capability: c.name, Timeout: true, Reason: "deadline exceeded", Err: err}
	case errors.Is(err, context.Canceled):
		return &models.CapabilityError{Capability: c.name, Reason: "cancelled", Err: err}
	default:
		return &models.CapabilityError{Capability: c.name, Reason: err.Error(), Err: err}
	}
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case models.IsCapabilityTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// HTTPTextGenerator calls the text generation service.
type HTTPTextGenerator struct {
	httpCapability
}

// NewHTTPTextGenerator creates the text generation adapter.
func NewHTTPTextGenerator(baseURL string, timeout time.Duration, limiter *ratecontrol.Limiter, logger *zap.Logger) *HTTPTextGenerator {
	return &HTTPTextGenerator{newHTTPCapability("text_generation", baseURL, timeout, limiter, logger)}
}

// Generate implements TextGenerator.
func (g *HTTPTextGenerator) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	var result GenerationResult
	if err := g.post(ctx, "/generate", req, &result); err != nil {
		return GenerationResult{}, err
	}
	return result, nil
}

// HTTPDocumentSearcher calls the document search service.
type HTTPDocumentSearcher struct {
	httpCapability
}

// NewHTTPDocumentSearcher creates the document search adapter.
func NewHTTPDocumentSearcher(baseURL string, timeout time.Duration, limiter *ratecontrol.Limiter, logger *zap.Logger) *HTTPDocumentSearcher {
	return &HTTPDocumentSearcher{newHTTPCapability("document_search", baseURL, timeout, limiter, logger)}
}

// Search implements DocumentSearcher.
func (s *HTTPDocumentSearcher) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	var result SearchResult
	if err := s.post(ctx, "/search", req, &result); err != nil {
		return SearchResult{}, err
	}
	return result, nil
}
