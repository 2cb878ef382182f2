package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/model"
)

const testDim = 128

// flakyEmbedder wraps the hashing embedder and fails any text containing
// the word FAIL.
type flakyEmbedder struct {
	inner *ai.HashEmbedder
	mu    sync.Mutex
	calls int
	down  bool
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	down := f.down
	f.mu.Unlock()

	out, err := f.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, t := range texts {
		if down || strings.Contains(t, "FAIL") {
			out[i] = nil
		}
	}
	return out, nil
}

func newEmbedder() *flakyEmbedder {
	return &flakyEmbedder{inner: ai.NewHashEmbedder(testDim)}
}

func newTestIndex(t *testing.T, path string) (*Index, *flakyEmbedder) {
	t.Helper()
	emb := newEmbedder()
	return Open(Config{Path: path, Dimension: testDim}, emb), emb
}

var sampleDocs = []model.Document{
	{
		ID:       "ml",
		Title:    "Introduction to Machine Learning",
		URL:      "https://example.com/ml-intro",
		Content:  "Machine learning is a subset of artificial intelligence that focuses on algorithms that can learn from data.",
		Metadata: map[string]any{"category": "AI", "difficulty": "beginner"},
	},
	{
		ID:       "dl",
		Title:    "Deep Learning Fundamentals",
		URL:      "https://example.com/dl-fundamentals",
		Content:  "Deep learning uses neural networks with multiple layers to model and understand complex patterns in data.",
		Metadata: map[string]any{"category": "AI", "difficulty": "intermediate"},
	},
	{
		Title:   "Baking Bread",
		URL:     "https://example.com/bread",
		Content: "Flour water salt and yeast are all you need for a simple loaf of bread.",
	},
}

func TestSelfSimilarityIsTopResult(t *testing.T) {
	ix, _ := newTestIndex(t, filepath.Join(t.TempDir(), "idx"))
	n, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := ix.Search(context.Background(), sampleDocs[1].Content, 5)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "dl", res[0].ID)
	assert.Greater(t, res[0].Score, 0.99)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	ix, _ := newTestIndex(t, "")
	doc := model.Document{Title: "t", URL: "u", Content: "same content every time"}

	n, err := ix.AddDocuments(context.Background(), []model.Document{doc, doc})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = ix.AddDocuments(context.Background(), []model.Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, ix.Size())
	assert.True(t, ix.Contains(DocumentID(doc.Content)))
}

func TestRejectsDocumentsMissingFields(t *testing.T) {
	ix, _ := newTestIndex(t, "")
	n, err := ix.AddDocuments(context.Background(), []model.Document{
		{Title: "no url", Content: "x"},
		{URL: "no title", Content: "x"},
		{Title: "no content", URL: "u"},
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, ix.Size())
}

func TestFailedItemIsDropped(t *testing.T) {
	ix, _ := newTestIndex(t, "")
	n, err := ix.AddDocuments(context.Background(), []model.Document{
		{ID: "a", Title: "a", URL: "u", Content: "alpha text"},
		{ID: "b", Title: "b", URL: "u", Content: "this will FAIL"},
		{ID: "c", Title: "c", URL: "u", Content: "gamma text"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, ix.Contains("a"))
	assert.False(t, ix.Contains("b"))
	assert.True(t, ix.Contains("c"))
}

func TestChunksExpandToRows(t *testing.T) {
	ix, _ := newTestIndex(t, "")
	doc := model.Document{
		ID: "book", Title: "Book", URL: "u", Content: "whole book",
		Chunks: []model.Chunk{{Text: "chapter one about dragons"}, {Text: "chapter two about knights"}},
	}
	n, err := ix.AddDocuments(context.Background(), []model.Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, ix.Contains("book"))

	rows := ix.Lookup("book")
	require.Len(t, rows, 2)
	assert.Equal(t, "book_chunk_1", rows[1].ID)
	assert.Equal(t, "book", rows[1].ParentID())
	assert.Equal(t, true, rows[1].Metadata[MetaIsChunk])
	assert.Equal(t, 1, rows[1].Metadata[MetaChunkIndex])

	// re-adding the parent is a no-op
	n, err = ix.AddDocuments(context.Background(), []model.Document{doc})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, ix.Stats().Documents)
}

func assertConsistent(t *testing.T, ix *Index) {
	t.Helper()
	snap := ix.snap.Load()
	require.Len(t, snap.pos, len(snap.rows))
	require.Len(t, snap.vectors, len(snap.rows))
	for i, r := range snap.rows {
		assert.Equal(t, i, snap.pos[r.ID], r.ID)
	}
}

func TestReaddingChunkedDocumentWithMissingFirstChunk(t *testing.T) {
	cases := map[string]string{
		"first chunk failed to embed": "FAIL chunk zero",
		"first chunk blank":           "   ",
	}
	for name, first := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "idx")
			ix, _ := newTestIndex(t, path)
			doc := model.Document{
				ID: "p", Title: "Paper", URL: "u", Content: "whole paper",
				Chunks: []model.Chunk{{Text: first}, {Text: "quantum chunk one"}, {Text: "qubit chunk two"}},
			}

			n, err := ix.AddDocuments(context.Background(), []model.Document{doc})
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.False(t, ix.Contains("p_chunk_0"))

			n, err = ix.AddDocuments(context.Background(), []model.Document{doc, doc})
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Equal(t, 2, ix.Size())
			assertConsistent(t, ix)

			res, err := ix.Search(context.Background(), "quantum chunk one", 5)
			require.NoError(t, err)
			require.Len(t, res, 2)
			assert.NotEqual(t, res[0].ID, res[1].ID)

			reopened, _ := newTestIndex(t, path)
			assert.Equal(t, 2, reopened.Size())
			assertConsistent(t, reopened)
		})
	}
}

func TestReaddingChunkedDocumentFillsRecoveredChunk(t *testing.T) {
	ix, emb := newTestIndex(t, "")
	doc := model.Document{
		ID: "p", Title: "Paper", URL: "u", Content: "whole paper",
		Chunks: []model.Chunk{{Text: "intro chunk zero"}, {Text: "body chunk one"}},
	}
	emb.down = true
	n, err := ix.AddDocuments(context.Background(), []model.Document{doc})
	require.NoError(t, err)
	assert.Zero(t, n)

	emb.down = false
	n, err = ix.AddDocuments(context.Background(), []model.Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assertConsistent(t, ix)
}

func TestFailedPersistKeepsPreviousArtifacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, _ := newTestIndex(t, path)
	_, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	// a channel cannot be encoded into the documents file
	_, err = ix.AddDocuments(context.Background(), []model.Document{{
		ID: "bad", Title: "bad", URL: "u", Content: "unencodable metadata",
		Metadata: map[string]any{"ch": make(chan int)},
	}})
	require.Error(t, err)
	assert.Equal(t, 3, ix.Size())
	assert.False(t, ix.Contains("bad"))

	reopened, _ := newTestIndex(t, path)
	assert.Equal(t, 3, reopened.Size())
	assertConsistent(t, reopened)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "idx")
	ix, _ := newTestIndex(t, path)
	_, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	before, err := ix.Search(context.Background(), "neural networks with layers", 3)
	require.NoError(t, err)

	for _, f := range []string{path + ".index", path + "_docs.json", path + "_mapping.gob"} {
		assert.FileExists(t, f)
	}

	reopened, _ := newTestIndex(t, path)
	assert.Equal(t, 3, reopened.Size())
	after, err := reopened.Search(context.Background(), "neural networks with layers", 3)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-6)
	}
}

func TestMissingMappingIsReconstructed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, _ := newTestIndex(t, path)
	_, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path+"_mapping.gob", []byte("garbage"), 0o644))
	reopened, _ := newTestIndex(t, path)
	assert.Equal(t, 3, reopened.Size())
	assert.True(t, reopened.Contains("ml"))

	require.NoError(t, os.Remove(path+"_mapping.gob"))
	reopened, _ = newTestIndex(t, path)
	assert.True(t, reopened.Contains("dl"))
}

func TestCorruptIndexFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, _ := newTestIndex(t, path)
	_, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path+".index", []byte("not an index"), 0o644))
	reopened, _ := newTestIndex(t, path)
	assert.Zero(t, reopened.Size())

	// documents present without an index file is also corrupt
	require.NoError(t, os.Remove(path+".index"))
	reopened, _ = newTestIndex(t, path)
	assert.Zero(t, reopened.Size())

	// and a usable index afterwards
	n, err := reopened.AddDocuments(context.Background(), sampleDocs[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDimensionMismatchOnLoadIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, _ := newTestIndex(t, path)
	_, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	other := Open(Config{Path: path, Dimension: 64}, ai.NewHashEmbedder(64))
	assert.Zero(t, other.Size())
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, _ := newTestIndex(t, path)
	_, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	ok, err := ix.Delete(context.Background(), "ml")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, ix.Contains("ml"))
	assert.Equal(t, 2, ix.Size())

	res, err := ix.Search(context.Background(), sampleDocs[0].Content, 10)
	require.NoError(t, err)
	for _, r := range res {
		assert.NotEqual(t, "ml", r.ID)
	}

	// positions shifted down and persisted
	reopened, _ := newTestIndex(t, path)
	assert.False(t, reopened.Contains("ml"))
	assert.Equal(t, "dl", reopened.Lookup("dl")[0].ID)

	ok, err = ix.Delete(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteByParentRemovesChunks(t *testing.T) {
	ix, _ := newTestIndex(t, "")
	_, err := ix.AddDocuments(context.Background(), []model.Document{
		{ID: "book", Title: "Book", URL: "u", Content: "c", Chunks: []model.Chunk{{Text: "one"}, {Text: "two"}}},
		{ID: "other", Title: "Other", URL: "u", Content: "other content"},
	})
	require.NoError(t, err)

	ok, err := ix.Delete(context.Background(), "book")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, ix.Size())
	assert.Empty(t, ix.Lookup("book"))
}

func TestDeleteKeepsIndexWhenRebuildFails(t *testing.T) {
	ix, emb := newTestIndex(t, "")
	_, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	emb.down = true
	ok, err := ix.Delete(context.Background(), "ml")
	assert.ErrorIs(t, err, ErrRebuildIncomplete)
	assert.False(t, ok)
	assert.True(t, ix.Contains("ml"))
	assert.Equal(t, 3, ix.Size())
}

func TestRebuildAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, emb := newTestIndex(t, path)
	_, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	calls := emb.calls
	require.NoError(t, ix.Rebuild(context.Background()))
	assert.Equal(t, calls+1, emb.calls)
	assert.Equal(t, 3, ix.Size())

	require.NoError(t, ix.Clear(context.Background()))
	assert.Zero(t, ix.Size())
	reopened, _ := newTestIndex(t, path)
	assert.Zero(t, reopened.Size())
}

func TestSearchEdgeCases(t *testing.T) {
	ix, emb := newTestIndex(t, "")

	res, err := ix.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Zero(t, emb.calls)

	_, err = ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	res, err = ix.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, res)

	res, err = ix.Search(context.Background(), "learning", 100)
	require.NoError(t, err)
	assert.Len(t, res, 3)
}

func TestSearchTruncatesContent(t *testing.T) {
	ix := Open(Config{Dimension: testDim, DisplayChars: 10}, ai.NewHashEmbedder(testDim))
	_, err := ix.AddDocuments(context.Background(), []model.Document{{Title: "t", URL: "u", Content: "0123456789abcdef"}})
	require.NoError(t, err)

	res, err := ix.Search(context.Background(), "0123456789abcdef", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "0123456789...", res[0].Content)
}

func TestSearchByFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, _ := newTestIndex(t, path)
	_, err := ix.AddDocuments(context.Background(), sampleDocs)
	require.NoError(t, err)

	res, err := ix.SearchByFilters(context.Background(), "learning from data", map[string]any{"difficulty": "beginner"}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "ml", res[0].ID)

	// numeric metadata survives a reload
	chunkPath := filepath.Join(t.TempDir(), "c")
	chunked, _ := newTestIndex(t, chunkPath)
	_, err = chunked.AddDocuments(context.Background(), []model.Document{
		{ID: "p", Title: "P", URL: "u", Content: "c", Chunks: []model.Chunk{{Text: "first part"}, {Text: "second part"}}},
	})
	require.NoError(t, err)
	chunked, _ = newTestIndex(t, chunkPath)
	res, err = chunked.SearchByFilters(context.Background(), "part", map[string]any{MetaChunkIndex: 1}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "p_chunk_1", res[0].ID)
}

func TestConcurrentSearchDuringAdd(t *testing.T) {
	ix, _ := newTestIndex(t, "")
	_, err := ix.AddDocuments(context.Background(), sampleDocs[:1])
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				res, err := ix.Search(context.Background(), "machine learning", 5)
				assert.NoError(t, err)
				assert.NotEmpty(t, res)
			}
		}()
	}
	_, err = ix.AddDocuments(context.Background(), sampleDocs[1:])
	require.NoError(t, err)
	wg.Wait()
	assert.Equal(t, 3, ix.Size())
}
