// Package websearch finds fresh context on the public web: DuckDuckGo
// instant answers, falling back to the Wikipedia summary API, with the text
// of every hit fetched and extracted.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Result struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Snippet   string    `json:"snippet"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

type Config struct {
	DuckDuckGoURL     string
	WikipediaURL      string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
}

const (
	abstractScore    = 0.9
	wikipediaScore   = 0.8
	topicScore       = 0.7
	snippetChars     = 200
	maxBodyBytes     = 2 << 20
	// pages fetched at once; the limiter still paces the requests
	fetchConcurrency = 3
)

type Client struct {
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DuckDuckGoURL == "" {
		cfg.DuckDuckGoURL = "https://api.duckduckgo.com/"
	}
	if cfg.WikipediaURL == "" {
		cfg.WikipediaURL = "https://en.wikipedia.org/api/rest_v1/page/summary/"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Search returns up to count results whose pages yielded usable text. An
// empty result is normal; an error means no search backend answered.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || count <= 0 {
		return nil, nil
	}

	candidates, ddgErr := c.duckDuckGo(ctx, query, count)
	if ddgErr != nil {
		c.logger.Warn("duckduckgo search failed", "error", ddgErr)
	}
	if len(candidates) < 2 {
		wiki, err := c.wikipedia(ctx, query)
		if err != nil {
			c.logger.Warn("wikipedia search failed", "error", err)
			if ddgErr != nil {
				return nil, fmt.Errorf("web search failed: %w", err)
			}
		}
		candidates = append(candidates, wiki...)
	}
	if len(candidates) > count {
		candidates = candidates[:count]
	}

	contents := make([]string, len(candidates))
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for i, r := range candidates {
		g.Go(func() error {
			content, err := c.extract(ctx, r.URL)
			if err != nil {
				c.logger.Warn("content extraction failed", "url", r.URL, "error", err)
				return nil
			}
			contents[i] = content
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Result, 0, len(candidates))
	for i, r := range candidates {
		if contents[i] == "" {
			continue
		}
		r.Content = contents[i]
		r.Timestamp = time.Now()
		out = append(out, r)
	}
	c.logger.Info("web search finished", "query", query, "candidates", len(candidates), "results", len(out))
	return out, nil
}

func (c *Client) duckDuckGo(ctx context.Context, query string, count int) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	body, err := c.get(ctx, c.cfg.DuckDuckGoURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Abstract      string  `json:"Abstract"`
		AbstractText  string  `json:"AbstractText"`
		AbstractURL   string  `json:"AbstractURL"`
		Heading       string  `json:"Heading"`
		RelatedTopics []topic `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse duckduckgo json failed: %w", err)
	}

	var out []Result
	if parsed.Abstract != "" {
		title := parsed.Heading
		if title == "" {
			title = "DuckDuckGo Abstract"
		}
		out = append(out, Result{
			Title:   title,
			URL:     parsed.AbstractURL,
			Snippet: clip(parsed.Abstract, snippetChars),
			Score:   abstractScore,
		})
	}
	for _, t := range flatten(parsed.RelatedTopics) {
		if len(out) >= count {
			break
		}
		title, _, _ := strings.Cut(t.Text, " - ")
		out = append(out, Result{
			Title:   title,
			URL:     t.FirstURL,
			Snippet: clip(t.Text, snippetChars),
			Score:   topicScore,
		})
	}
	return out, nil
}

// topic is a related topic, or a named group of them.
type topic struct {
	Text     string  `json:"Text"`
	FirstURL string  `json:"FirstURL"`
	Topics   []topic `json:"Topics"`
}

func flatten(ts []topic) []topic {
	var out []topic
	for _, t := range ts {
		if t.Text != "" && t.FirstURL != "" {
			out = append(out, t)
		}
		out = append(out, flatten(t.Topics)...)
	}
	return out
}

func (c *Client) wikipedia(ctx context.Context, query string) ([]Result, error) {
	body, err := c.get(ctx, c.cfg.WikipediaURL+url.PathEscape(query))
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Title       string `json:"title"`
		Extract     string `json:"extract"`
		ContentURLs struct {
			Desktop struct {
				Page string `json:"page"`
			} `json:"desktop"`
		} `json:"content_urls"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse wikipedia json failed: %w", err)
	}
	if parsed.Extract == "" {
		return nil, nil
	}
	title := parsed.Title
	if title == "" {
		title = "Wikipedia Article"
	}
	return []Result{{
		Title:   title,
		URL:     parsed.ContentURLs.Desktop.Page,
		Snippet: clip(parsed.Extract, snippetChars),
		Score:   wikipediaScore,
	}}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("response status %d", resp.StatusCode)
	}
	return body, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
