package app

import (
	"sync"
	"time"
)

// Stats is a point-in-time view of the orchestrator counters. Averages cover
// generated (non-cached) responses only.
type Stats struct {
	TotalRequests           int64         `json:"total_requests"`
	CacheHits               int64         `json:"cache_hits"`
	ConversationalResponses int64         `json:"conversational_responses"`
	NoContextResponses      int64         `json:"no_context_responses"`
	GenerationFailures      int64         `json:"generation_failures"`
	AverageResponseTime     time.Duration `json:"avg_response_time"`
	AverageSearchTime       time.Duration `json:"avg_search_time"`
	AverageGenerationTime   time.Duration `json:"avg_generation_time"`
}

type statsCollector struct {
	mu        sync.Mutex
	s         Stats
	generated int64
}

func (c *statsCollector) request() {
	c.mu.Lock()
	c.s.TotalRequests++
	c.mu.Unlock()
}

func (c *statsCollector) cacheHit() {
	c.mu.Lock()
	c.s.CacheHits++
	c.mu.Unlock()
}

func (c *statsCollector) conversational() {
	c.mu.Lock()
	c.s.ConversationalResponses++
	c.mu.Unlock()
}

func (c *statsCollector) noContext() {
	c.mu.Lock()
	c.s.NoContextResponses++
	c.mu.Unlock()
}

func (c *statsCollector) failure() {
	c.mu.Lock()
	c.s.GenerationFailures++
	c.mu.Unlock()
}

// timings folds one generated response into the running means.
func (c *statsCollector) timings(response, search, generation time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generated++
	n := time.Duration(c.generated)
	c.s.AverageResponseTime += (response - c.s.AverageResponseTime) / n
	c.s.AverageSearchTime += (search - c.s.AverageSearchTime) / n
	c.s.AverageGenerationTime += (generation - c.s.AverageGenerationTime) / n
}

func (c *statsCollector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
