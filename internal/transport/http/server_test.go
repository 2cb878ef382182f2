package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/app"
	"gopherai-rag/internal/bootstrap"
	"gopherai-rag/internal/cache"
	"gopherai-rag/internal/classifier"
	"gopherai-rag/internal/config"
	"gopherai-rag/internal/index"
	"gopherai-rag/internal/pkg/jwtutil"
)

const testSecret = "test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router   *gin.Engine
	llmCalls *atomic.Int32
	failLLM  *atomic.Bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{llmCalls: &atomic.Int32{}, failLLM: &atomic.Bool{}}

	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.llmCalls.Add(1)
		if ts.failLLM.Load() {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{{
				"message":       map[string]string{"content": "Quantum computing uses qubits."},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"total_tokens": 17},
		})
	}))
	t.Cleanup(llm.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New(cache.NewMemoryBackend(), cache.Config{}, cache.WithLogger(logger))
	ix := index.Open(index.Config{Dimension: 256}, ai.NewHashEmbedder(256), index.WithLogger(logger))
	gen := ai.NewOpenAICompatibleClient(ai.GeneratorConfig{
		BaseURL:    llm.URL,
		APIKey:     "sk-test",
		Model:      "test-model",
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
	}, logger)

	a := &bootstrap.App{
		Config: &config.Config{
			App:  config.AppConfig{Name: "gopherai-rag", Env: "test", GinMode: gin.TestMode},
			Auth: config.AuthConfig{JWTSecret: testSecret},
		},
		Logger:    logger,
		Cache:     c,
		Index:     ix,
		Generator: gen,
		RAG:       app.NewRAGService(gen, ix, nil, c, app.RAGConfig{}, logger),
		Ingest:    app.NewIngestService(ix, nil, nil, logger),
		StartedAt: time.Now(),
	}
	ts.router = NewRouter(a)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env envelope
	if path != "/healthz" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, "ops", "admin", time.Minute)
	require.NoError(t, err)
	return token
}

type generated struct {
	Content        string           `json:"content"`
	UsedRAG        bool             `json:"used_rag"`
	Cached         bool             `json:"cached"`
	Classification string           `json:"classification"`
	TokensUsed     int              `json:"tokens_used"`
	Sources        []map[string]any `json:"sources"`
}

func TestGenerateConversational(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.do(t, http.MethodPost, "/api/v1/generate", map[string]any{"query": "hi"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out generated
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, classifier.GreetingReply(), out.Content)
	assert.Contains(t, out.Classification, "Conversational query")
	assert.False(t, out.UsedRAG)
	assert.Empty(t, out.Sources)
	assert.Zero(t, ts.llmCalls.Load())
}

func TestGenerateValidation(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.do(t, http.MethodPost, "/api/v1/generate", map[string]any{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotZero(t, env.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/generate", map[string]any{"query": "x", "template_type": "poem"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, temp := range []float64{0, -0.5, 2.5} {
		rec, _ = ts.do(t, http.MethodPost, "/api/v1/generate", map[string]any{"query": "hi", "temperature": temp}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "temperature %v", temp)
	}
	rec, _ = ts.do(t, http.MethodPost, "/api/v1/generate", map[string]any{"query": "hi", "temperature": 0.2}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestThenGenerateWithRetrieval(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/documents", map[string]any{
		"documents": []map[string]any{{
			"title":   "Quantum computing",
			"url":     "https://kb.example.com/quantum",
			"content": "Quantum computing is a type of computing. What is quantum computing? It uses qubits.",
		}},
	}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := map[string]any{"query": "What is quantum computing?", "use_web_search": false}
	rec, env := ts.do(t, http.MethodPost, "/api/v1/generate", body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first generated
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.True(t, first.UsedRAG)
	assert.False(t, first.Cached)
	assert.Equal(t, "Quantum computing uses qubits.", first.Content)
	assert.Equal(t, 17, first.TokensUsed)
	require.NotEmpty(t, first.Sources)
	assert.Equal(t, "knowledge_base", first.Sources[0]["source_type"])

	_, env = ts.do(t, http.MethodPost, "/api/v1/generate", body, "")
	var second generated
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), ts.llmCalls.Load())
}

func TestGenerationFailureMapsToBadGateway(t *testing.T) {
	ts := newTestServer(t)
	ts.failLLM.Store(true)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/generate/qa", map[string]any{"question": "How do qubits work?"}, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "content generation failed", env.Message)
	assert.Equal(t, int32(2), ts.llmCalls.Load())
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := ts.do(t, http.MethodPost, "/index/rebuild", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/index/rebuild", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/index/rebuild", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	viewer, err := jwtutil.GenerateToken(testSecret, "guest", "viewer", time.Minute)
	require.NoError(t, err)
	rec, _ = ts.do(t, http.MethodPost, "/api/v1/index/rebuild", nil, viewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/index/rebuild", nil, adminToken(t))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDocumentLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t)
	content := "Bake the loaf at a high temperature with steam for a crisp crust."
	id := index.DocumentID(content)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/documents", map[string]any{
		"documents": []map[string]any{{"title": "Bread", "url": "https://kb.example.com/bread", "content": content}},
	}, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/search", map[string]any{"query": content, "limit": 3}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var found struct {
		Count   int                  `json:"count"`
		Results []index.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &found))
	require.Equal(t, 1, found.Count)
	assert.Equal(t, id, found.Results[0].ID)
	assert.Greater(t, found.Results[0].Score, 0.99)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/documents/"+id, nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/documents/"+id, nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = ts.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheNamespaceClear(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t)

	rec, _ := ts.do(t, http.MethodDelete, "/api/v1/cache/bogus", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := ts.do(t, http.MethodDelete, "/api/v1/cache/content", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"removed":0`)
}

func TestStatsAndHealth(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/generate", map[string]any{"query": "thanks"}, "")

	rec, env := ts.do(t, http.MethodGet, "/api/v1/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		RAG app.Stats `json:"rag"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.RAG.TotalRequests)
	assert.Equal(t, int64(1), stats.RAG.ConversationalResponses)

	rec, _ = ts.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status       string                    `json:"status"`
		Dependencies map[string]map[string]any `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, true, health.Dependencies["mysql"]["disabled"])
	assert.Equal(t, true, health.Dependencies["cache"]["ok"])
}
