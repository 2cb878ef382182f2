package model

import "time"

// RAGResult is built per request and cached as a whole under the request key.
type RAGResult struct {
	Content        string  `json:"content"`
	Sources        Sources `json:"sources"`
	Query          string  `json:"query"`
	TokensUsed     int     `json:"tokens_used"`
	ModelUsed      string  `json:"model_used"`
	FinishReason   string  `json:"finish_reason"`
	Timings        Timings `json:"timings"`
	Cached         bool    `json:"cached"`
	UsedRAG        bool    `json:"used_rag"`
	Classification string  `json:"classification"`
	WebSources     int     `json:"web_sources_count"`
	KBSources      int     `json:"kb_sources_count"`
}

type Timings struct {
	Response   time.Duration `json:"response_time"`
	Search     time.Duration `json:"search_time"`
	WebSearch  time.Duration `json:"web_search_time"`
	KBSearch   time.Duration `json:"kb_search_time"`
	Generation time.Duration `json:"generation_time"`
}
