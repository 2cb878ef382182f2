package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/index"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB

type DocumentHandler struct {
	ingest *app.IngestService
	index  *index.Index
	logger *slog.Logger
}

type IngestRequest struct {
	Documents []model.Document `json:"documents" binding:"required,min=1,max=500"`
}

type SearchRequest struct {
	Query   string         `json:"query" binding:"required,max=2000"`
	Limit   int            `json:"limit" binding:"omitempty,min=1,max=100"`
	Filters map[string]any `json:"filters"`
}

func NewDocumentHandler(ingest *app.IngestService, ix *index.Index, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{ingest: ingest, index: ix, logger: logger}
}

func (h *DocumentHandler) Create(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	receipt, err := h.ingest.Submit(c.Request.Context(), req.Documents)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "documents require title, url and content")
			return
		}
		response.Fail(c, h.logger, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed", err)
		return
	}
	response.OK(c, receipt)
}

// UploadPDF accepts a multipart form with "file" (PDF) and optional "name".
func (h *DocumentHandler) UploadPDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Fail(c, h.logger, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file", err)
		return
	}
	defer f.Close()

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}

	receipt, err := h.ingest.SubmitPDF(c.Request.Context(), f, name)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEmptyPDF), errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Fail(c, h.logger, http.StatusBadRequest, response.CodeBadRequest, "failed to ingest PDF", err)
		}
		return
	}
	response.OK(c, receipt)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	rows := h.index.Lookup(c.Param("id"))
	if len(rows) == 0 {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "document not found")
		return
	}
	response.OK(c, rows)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	deleted, err := h.index.Delete(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, h.logger, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed", err)
		return
	}
	if !deleted {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "document not found")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": id})
}

func (h *DocumentHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	var (
		results []index.SearchResult
		err     error
	)
	if len(req.Filters) > 0 {
		results, err = h.index.SearchByFilters(c.Request.Context(), req.Query, req.Filters, req.Limit)
	} else {
		results, err = h.index.Search(c.Request.Context(), req.Query, req.Limit)
	}
	if err != nil {
		response.Fail(c, h.logger, http.StatusInternalServerError, response.CodeInternalServer, "search failed", err)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	response.OK(c, gin.H{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}

func (h *DocumentHandler) Rebuild(c *gin.Context) {
	if err := h.index.Rebuild(c.Request.Context()); err != nil {
		response.Fail(c, h.logger, http.StatusInternalServerError, response.CodeInternalServer, "rebuild index failed", err)
		return
	}
	response.OK(c, h.index.Stats())
}

func (h *DocumentHandler) Clear(c *gin.Context) {
	if err := h.index.Clear(c.Request.Context()); err != nil {
		response.Fail(c, h.logger, http.StatusInternalServerError, response.CodeInternalServer, "clear index failed", err)
		return
	}
	response.OK(c, h.index.Stats())
}

func (h *DocumentHandler) Records(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	records, err := h.ingest.Records(limit)
	if err != nil {
		response.Fail(c, h.logger, http.StatusInternalServerError, response.CodeInternalServer, "list ingest records failed", err)
		return
	}
	response.OK(c, records)
}
