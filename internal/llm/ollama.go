package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OllamaClient talks to an Ollama server. Every call passes a rate limiter
// and a circuit breaker; completion and embedding use separate models.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	limiter        *rate.Limiter
	model          string
	embeddingModel string
	timeout        time.Duration
	logger         *zap.Logger
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL defaults to http://localhost:11434.
	BaseURL string

	// Model is used for completions (default: qwen2.5:7b).
	Model string

	// EmbeddingModel is used for embeddings (default: nomic-embed-text).
	EmbeddingModel string

	// Timeout bounds each request (default: 30s).
	Timeout time.Duration

	// RequestsPerSecond limits outgoing calls; zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter bucket size (default: 1).
	Burst int

	Breaker CircuitBreakerConfig
	Logger  *zap.Logger
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse carries one embedding per input; we send exactly one.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates a client, filling unset configuration with defaults.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = "nomic-embed-text"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &OllamaClient{
		baseURL:        config.BaseURL,
		client:         &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreakerWithConfig("ollama", config.Breaker, config.Logger),
		limiter:        rate.NewLimiter(limit, config.Burst),
		model:          config.Model,
		embeddingModel: config.EmbeddingModel,
		timeout:        config.Timeout,
		logger:         config.Logger,
	}
}

// Complete asks the completion model for JSON output.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	var resp generateResponse
	err := c.call(ctx, func(ctx context.Context) error {
		return c.post(ctx, "/api/generate", generateRequest{
			Model:  c.model,
			Prompt: prompt,
			Format: "json",
			Stream: false,
		}, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Embed returns the embedding of text from the embedding model.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	err := c.call(ctx, func(ctx context.Context) error {
		if err := c.post(ctx, "/api/embed", embedRequest{Model: c.embeddingModel, Input: text}, &resp); err != nil {
			return err
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
			return fmt.Errorf("ollama returned empty embedding vector")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// call waits for the limiter, then runs fn through the circuit breaker.
func (c *OllamaClient) call(ctx context.Context, fn func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ollama rate limit: %w", err)
	}
	if err := c.circuitBreaker.Do(ctx, fn); err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		c.logger.Debug("ollama: request failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HealthCheck verifies that Ollama answers on /api/version. It bypasses the
// circuit breaker.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("health check returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// GetModel returns the completion model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// EmbeddingModel returns the embedding model name.
func (c *OllamaClient) EmbeddingModel() string {
	return c.embeddingModel
}

// BreakerState reports the circuit breaker state.
func (c *OllamaClient) BreakerState() string {
	return c.circuitBreaker.State()
}

var _ TextGenerator = (*OllamaClient)(nil)

// OllamaEmbedder exposes the embedding side of a client, reporting the
// embedding model from GetModel.
type OllamaEmbedder struct {
	*OllamaClient
}

// GetModel returns the embedding model name.
func (e OllamaEmbedder) GetModel() string {
	return e.embeddingModel
}

var _ EmbeddingGenerator = OllamaEmbedder{}
