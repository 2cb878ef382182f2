package app

import (
	"fmt"
	"sort"
	"strings"

	"gopherai-rag/internal/index"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/websearch"
)

const (
	snippetChars   = 200
	tokensPerWord  = 1.3
	kbContextLabel = "Source"
)

func webSources(results []websearch.Result) []model.Source {
	out := make([]model.Source, 0, len(results))
	for _, r := range results {
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		out = append(out, model.WebSource{SourceInfo: model.SourceInfo{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
			Content: content,
			Score:   r.Score,
		}})
	}
	return out
}

// kbCandidates keeps the results at or above relevance, or the top minResults
// when none reach it.
func kbCandidates(results []index.SearchResult, relevance float64, minResults int) []index.SearchResult {
	var relevant []index.SearchResult
	for _, r := range results {
		if r.Score >= relevance {
			relevant = append(relevant, r)
		}
	}
	if len(relevant) > 0 {
		return relevant
	}
	if len(results) > minResults {
		return results[:minResults]
	}
	return results
}

func kbSources(results []index.SearchResult, floor float64) []model.Source {
	out := make([]model.Source, 0, len(results))
	for _, r := range results {
		if r.Score < floor {
			continue
		}
		src := model.KnowledgeBaseSource{
			SourceInfo: model.SourceInfo{
				Title:   r.Title,
				URL:     r.URL,
				Snippet: snippet(r.Content),
				Content: r.Content,
				Score:   r.Score,
			},
			DocumentID: r.ID,
		}
		if p, ok := r.Metadata[index.MetaParentID].(string); ok {
			src.ParentID = p
		}
		src.ChunkIndex = intValue(r.Metadata[index.MetaChunkIndex])
		out = append(out, src)
	}
	return out
}

// mergeSources adds knowledge-base sources only while the web came back thin,
// then orders web before knowledge base and higher scores first.
func mergeSources(web, kb []model.Source, minWeb int) model.Sources {
	all := make(model.Sources, 0, len(web)+len(kb))
	all = append(all, web...)
	if len(web) < minWeb {
		all = append(all, kb...)
	}
	sortSources(all)
	return all
}

func sortSources(s model.Sources) {
	sort.SliceStable(s, func(i, j int) bool {
		wi, wj := s[i].Type() == model.SourceWeb, s[j].Type() == model.SourceWeb
		if wi != wj {
			return wi
		}
		return s[i].Info().Score > s[j].Info().Score
	})
}

// assembleContext tags each source with its kind and position and stops at
// the first source that would push the estimate over maxTokens.
func assembleContext(sources model.Sources, maxTokens int) string {
	var parts []string
	var tokens float64
	for i, src := range sources {
		content := src.Info().Content
		if content == "" {
			continue
		}
		cost := estimateTokens(content)
		if tokens+cost > float64(maxTokens) {
			break
		}
		tokens += cost
		tag := strings.ToUpper(string(src.Type()))
		parts = append(parts, fmt.Sprintf("[%s SOURCE %d]: %s", tag, i+1, content))
	}
	return strings.Join(parts, "\n\n")
}

// knowledgeContext renders index hits for the summary and QA prompts.
func knowledgeContext(results []index.SearchResult, maxTokens int) string {
	var parts []string
	var tokens float64
	for i, r := range results {
		if r.Content == "" {
			continue
		}
		cost := estimateTokens(r.Content)
		if tokens+cost > float64(maxTokens) {
			break
		}
		tokens += cost
		parts = append(parts, fmt.Sprintf("%s %d: %s", kbContextLabel, i+1, r.Content))
	}
	return strings.Join(parts, "\n\n")
}

func estimateTokens(text string) float64 {
	return float64(len(strings.Fields(text))) * tokensPerWord
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetChars {
		return s
	}
	return string(r[:snippetChars]) + "..."
}

// intValue reads a metadata number that may have been through JSON.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
