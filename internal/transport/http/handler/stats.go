package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/app"
	"gopherai-rag/internal/cache"
	"gopherai-rag/internal/index"
	"gopherai-rag/internal/transport/http/response"
)

type StatsHandler struct {
	ragService *app.RAGService
	cache      *cache.Cache
	index      *index.Index
	generator  *ai.OpenAICompatibleClient
}

func NewStatsHandler(ragService *app.RAGService, c *cache.Cache, ix *index.Index, generator *ai.OpenAICompatibleClient) *StatsHandler {
	return &StatsHandler{ragService: ragService, cache: c, index: ix, generator: generator}
}

func (h *StatsHandler) Stats(c *gin.Context) {
	data := gin.H{
		"rag":   h.ragService.Stats(),
		"cache": h.cache.Stats(),
		"index": h.index.Stats(),
	}
	if h.generator != nil {
		data["generator"] = h.generator.Stats()
	}
	response.OK(c, data)
}

func (h *StatsHandler) ClearCache(c *gin.Context) {
	ns, ok := cache.ParseNamespace(c.Param("namespace"))
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "unknown cache namespace")
		return
	}
	if !h.cache.Available() {
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, "cache backend unavailable")
		return
	}
	removed := h.cache.ClearNamespace(c.Request.Context(), ns)
	response.OK(c, gin.H{"namespace": c.Param("namespace"), "removed": removed})
}
