package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ErrGenerationExhausted is returned once every retry attempt has failed.
var ErrGenerationExhausted = errors.New("generation attempts exhausted")

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GeneratorConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	// BaseDelay is the first backoff; attempt n waits BaseDelay*2^n.
	BaseDelay time.Duration
}

// GenerateOptions overrides the configured defaults for one call. Zero
// values keep the default.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
	Model       string
}

type GenerationResult struct {
	Content      string        `json:"content"`
	TokensUsed   int           `json:"tokens_used"`
	FinishReason string        `json:"finish_reason"`
	Model        string        `json:"model"`
	ResponseTime time.Duration `json:"response_time"`
}

type UsageStats struct {
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	TotalTokens         int64         `json:"total_tokens"`
	AverageResponseTime time.Duration `json:"average_response_time"`
}

// OpenAICompatibleClient talks to any /chat/completions endpoint and retries
// failed attempts with exponential backoff.
type OpenAICompatibleClient struct {
	httpClient *http.Client
	cfg        GeneratorConfig
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats UsageStats
}

func NewOpenAICompatibleClient(cfg GeneratorConfig, logger *slog.Logger) *OpenAICompatibleClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func (c *OpenAICompatibleClient) Model() string { return c.cfg.Model }

// GenerateWithContext renders the template around query and context and
// generates from it.
func (c *OpenAICompatibleClient) GenerateWithContext(ctx context.Context, query, contextText string, tmpl TemplateType, opts GenerateOptions) (*GenerationResult, error) {
	return c.Generate(ctx, RenderPrompt(tmpl, query, contextText), opts)
}

func (c *OpenAICompatibleClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerationResult, error) {
	start := time.Now()
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = c.cfg.Temperature
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		res, err := c.complete(ctx, model, maxTokens, temperature, []ChatMessage{{Role: "user", Content: prompt}})
		if err == nil {
			res.ResponseTime = time.Since(start)
			c.record(res.ResponseTime, res.TokensUsed, true)
			c.logger.Info("content generated", "model", model, "tokens", res.TokensUsed, "elapsed", res.ResponseTime)
			return res, nil
		}
		lastErr = err
		c.logger.Warn("generation attempt failed", "attempt", attempt+1, "error", err)

		if attempt == c.cfg.MaxRetries-1 || !retryable(err) {
			break
		}
		delay := c.cfg.BaseDelay << attempt
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	c.record(time.Since(start), 0, false)
	return nil, goerr.Wrap(fmt.Errorf("%w: %w", ErrGenerationExhausted, lastErr), "generate content",
		goerr.V("model", model),
		goerr.V("max_retries", c.cfg.MaxRetries),
	)
}

func (c *OpenAICompatibleClient) complete(ctx context.Context, model string, maxTokens int, temperature float64, messages []ChatMessage) (*GenerationResult, error) {
	reqBody := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"stream":      false,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal llm request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read llm response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var parsed struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty llm choices")
	}
	if parsed.Model != "" {
		model = parsed.Model
	}
	return &GenerationResult{
		Content:      parsed.Choices[0].Message.Content,
		TokensUsed:   parsed.Usage.TotalTokens,
		FinishReason: parsed.Choices[0].FinishReason,
		Model:        model,
	}, nil
}

// Ping issues a one-token request without retries.
func (c *OpenAICompatibleClient) Ping(ctx context.Context) error {
	_, err := c.complete(ctx, c.cfg.Model, 1, c.cfg.Temperature, []ChatMessage{{Role: "user", Content: "test"}})
	return err
}

func (c *OpenAICompatibleClient) record(elapsed time.Duration, tokens int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests++
	if ok {
		c.stats.SuccessfulRequests++
		c.stats.TotalTokens += int64(tokens)
	} else {
		c.stats.FailedRequests++
	}
	n := time.Duration(c.stats.TotalRequests)
	c.stats.AverageResponseTime = (c.stats.AverageResponseTime*(n-1) + elapsed) / n
}

func (c *OpenAICompatibleClient) Stats() UsageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// StatusError is a non-2xx answer from the completions endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm response status %d: %s", e.Code, e.Body)
}

// retryable reports whether another attempt can succeed. Client errors other
// than timeouts and rate limiting will fail the same way again.
func retryable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return true
	}
	return se.Code == http.StatusRequestTimeout || se.Code == http.StatusTooManyRequests || se.Code >= 500
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
