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
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ErrEmbedding marks a failed embedding of a single item.
var ErrEmbedding = errors.New("embedding failed")

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// OpenAIEmbedder returns one vector per input text, in input order. A text
// that could not be embedded gets a nil entry instead of failing the call.
type OpenAIEmbedder struct {
	httpClient *http.Client
	cfg        EmbeddingConfig
	logger     *slog.Logger
}

func NewOpenAIEmbedder(cfg EmbeddingConfig, logger *slog.Logger) *OpenAIEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIEmbedder{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

func (e *OpenAIEmbedder) Dimension() int { return e.cfg.Dimension }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		if err := e.embedRange(ctx, texts, start, end, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// embedRange fills out[start:end]. A failed batch request falls back to one
// request per item; only context cancellation is returned as an error.
func (e *OpenAIEmbedder) embedRange(ctx context.Context, texts []string, start, end int, out [][]float32) error {
	idx := make([]int, 0, end-start)
	batch := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		if s := strings.TrimSpace(texts[i]); s != "" {
			idx = append(idx, i)
			batch = append(batch, s)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	vecs, err := e.request(ctx, batch)
	if err == nil && len(vecs) == len(batch) {
		for j, v := range vecs {
			out[idx[j]] = e.check(v, idx[j])
		}
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return goerr.Wrap(ctxErr, "embed batch", goerr.V("size", len(batch)))
	}
	e.logger.Warn("batch embedding failed, falling back to per-item requests", "size", len(batch), "error", err)

	for j, s := range batch {
		v, err := e.request(ctx, []string{s})
		if err != nil || len(v) != 1 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return goerr.Wrap(ctxErr, "embed item", goerr.V("position", idx[j]))
			}
			e.logger.Warn("embedding item failed", "position", idx[j], "error", err)
			continue
		}
		out[idx[j]] = e.check(v[0], idx[j])
	}
	return nil
}

func (e *OpenAIEmbedder) check(v []float32, pos int) []float32 {
	if len(v) == 0 || (e.cfg.Dimension > 0 && len(v) != e.cfg.Dimension) {
		e.logger.Warn("embedding has unexpected dimension", "position", pos, "got", len(v), "want", e.cfg.Dimension)
		return nil
	}
	return v
}

func (e *OpenAIEmbedder) request(ctx context.Context, input []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": e.cfg.Model,
		"input": input,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request: %w", ErrEmbedding, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbedding, resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	sort.SliceStable(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	result := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		result[i] = parsed.Data[i].Embedding
	}
	return result, nil
}
