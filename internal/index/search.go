package index

import (
	"container/heap"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

type SearchResult struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Search returns up to limit rows by descending inner product with the
// query. limit <= 0 uses the configured maximum. An empty query or an empty
// index yields no results.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = ix.cfg.MaxResults
	}
	return ix.search(ctx, query, limit, nil)
}

// SearchByFilters ranks the whole index and keeps results whose metadata has
// every filter key with an equal value.
func (ix *Index) SearchByFilters(ctx context.Context, query string, filters map[string]any, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = ix.cfg.MaxResults
	}
	if len(filters) == 0 {
		return ix.search(ctx, query, limit, nil)
	}
	match := func(r Row) bool {
		for k, want := range filters {
			got, ok := r.Metadata[k]
			if !ok || !sameValue(got, want) {
				return false
			}
		}
		return true
	}
	return ix.search(ctx, query, limit, match)
}

func (ix *Index) search(ctx context.Context, query string, limit int, keep func(Row) bool) ([]SearchResult, error) {
	s := ix.snap.Load()
	if strings.TrimSpace(query) == "" || len(s.rows) == 0 {
		return []SearchResult{}, nil
	}

	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, goerr.Wrap(err, "embed query")
	}
	if len(vecs) != 1 {
		return nil, goerr.New("embed query returned no vector")
	}
	q, ok := ix.normalize(vecs[0])
	if !ok {
		return nil, goerr.New("query embedding unusable", goerr.V("dimension", len(vecs[0])))
	}

	k := min(limit, len(s.rows))
	h := &minHeap{}
	for i, v := range s.vectors {
		if i >= len(s.rows) {
			break
		}
		if keep != nil && !keep(s.rows[i]) {
			continue
		}
		score := dot(q, v)
		if h.Len() < k {
			heap.Push(h, scored{pos: i, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = scored{pos: i, score: score}
			heap.Fix(h, 0)
		}
	}

	out := make([]SearchResult, 0, h.Len())
	for _, it := range *h {
		r := s.rows[it.pos]
		out = append(out, SearchResult{
			ID:       r.ID,
			Title:    r.Title,
			URL:      r.URL,
			Content:  truncate(r.Content, ix.cfg.DisplayChars),
			Score:    float64(it.score),
			Metadata: r.Metadata,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// sameValue compares metadata values by their JSON form so that numbers read
// back from disk equal the ints they were written as.
func sameValue(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

type scored struct {
	pos   int
	score float32
}

type minHeap []scored

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
