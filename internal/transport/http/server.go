package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/bootstrap"
	"gopherai-rag/internal/transport/http/handler"
	"gopherai-rag/internal/transport/http/middleware"
	"gopherai-rag/internal/transport/http/response"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	logger := app.Logger.With("component", "http")
	router := gin.New()
	router.Use(middleware.RequestLogger(logger), gin.Recovery())
	router.NoRoute(func(c *gin.Context) {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "endpoint not found")
	})

	healthHandler := handler.NewHealthHandler(app)
	generateHandler := handler.NewGenerateHandler(app.RAG, logger)
	documentHandler := handler.NewDocumentHandler(app.Ingest, app.Index, logger)
	statsHandler := handler.NewStatsHandler(app.RAG, app.Cache, app.Index, app.Generator)

	router.GET("/healthz", healthHandler.Check)

	v1 := router.Group("/api/v1")
	v1.POST("/generate", generateHandler.Generate)
	v1.POST("/generate/summary", generateHandler.Summary)
	v1.POST("/generate/qa", generateHandler.QA)
	v1.POST("/search", documentHandler.Search)
	v1.GET("/stats", statsHandler.Stats)

	admin := v1.Group("")
	admin.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret, middleware.RoleAdmin))
	admin.POST("/documents", documentHandler.Create)
	admin.POST("/documents/pdf", documentHandler.UploadPDF)
	admin.GET("/documents/:id", documentHandler.Get)
	admin.DELETE("/documents/:id", documentHandler.Delete)
	admin.POST("/index/rebuild", documentHandler.Rebuild)
	admin.DELETE("/index", documentHandler.Clear)
	admin.DELETE("/cache/:namespace", statsHandler.ClearCache)
	admin.GET("/ingest/records", documentHandler.Records)

	return router
}
