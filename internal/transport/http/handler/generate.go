package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/app"
	"gopherai-rag/internal/transport/http/response"
)

type GenerateHandler struct {
	ragService *app.RAGService
	logger     *slog.Logger
}

type GenerateRequest struct {
	Query        string   `json:"query" binding:"required,max=2000"`
	MaxLength    int      `json:"max_length" binding:"omitempty,min=1,max=4000"`
	Temperature  *float64 `json:"temperature" binding:"omitempty,gt=0,max=2"`
	TemplateType string   `json:"template_type" binding:"omitempty,oneof=rag qa summary expand creative"`
	UseCache     *bool    `json:"use_cache"`
	UseWebSearch *bool    `json:"use_web_search"`
	SearchLimit  int      `json:"search_limit" binding:"omitempty,min=1,max=50"`
}

type SummaryRequest struct {
	Content   string `json:"content" binding:"required"`
	MaxLength int    `json:"max_length" binding:"omitempty,min=1,max=2000"`
}

type QARequest struct {
	Question  string `json:"question" binding:"required,max=2000"`
	MaxLength int    `json:"max_length" binding:"omitempty,min=1,max=4000"`
}

func NewGenerateHandler(ragService *app.RAGService, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{ragService: ragService, logger: logger}
}

func (h *GenerateHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	in := app.NewGenerateRequest(req.Query)
	if req.MaxLength > 0 {
		in.MaxLength = req.MaxLength
	}
	if req.Temperature != nil {
		in.Temperature = *req.Temperature
	}
	if req.TemplateType != "" {
		in.TemplateType = ai.ParseTemplateType(req.TemplateType)
	}
	if req.UseCache != nil {
		in.UseCache = *req.UseCache
	}
	if req.UseWebSearch != nil {
		in.UseWebSearch = *req.UseWebSearch
	}
	in.SearchLimit = req.SearchLimit

	result, err := h.ragService.Generate(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, result)
}

func (h *GenerateHandler) Summary(c *gin.Context) {
	var req SummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.ragService.GenerateSummary(c.Request.Context(), req.Content, req.MaxLength)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, result)
}

func (h *GenerateHandler) QA(c *gin.Context) {
	var req QARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.ragService.GenerateQA(c.Request.Context(), req.Question, req.MaxLength)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, result)
}

func (h *GenerateHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrGeneration):
		response.Fail(c, h.logger, http.StatusBadGateway, response.CodeGenerationFailed, "content generation failed", err)
	default:
		response.Fail(c, h.logger, http.StatusInternalServerError, response.CodeInternalServer, "generate failed", err)
	}
}
