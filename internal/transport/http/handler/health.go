package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/bootstrap"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK       bool   `json:"ok"`
	Disabled bool   `json:"disabled,omitempty"`
	Message  string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Check reports every dependency. Disabled dependencies do not fail the check;
// one that was connected at startup and stopped answering does.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := gin.H{
		"mysql":    h.checkMySQL(ctx),
		"cache":    h.checkCache(ctx),
		"rabbitmq": h.checkRabbitMQ(),
	}
	allOK := true
	for _, v := range deps {
		if s := v.(dependencyStatus); !s.OK && !s.Disabled {
			allOK = false
		}
	}
	statusCode := http.StatusOK
	status := "healthy"
	if !allOK {
		statusCode = http.StatusServiceUnavailable
		status = "degraded"
	}

	rag := h.app.RAG.HealthCheck(ctx)
	c.JSON(statusCode, gin.H{
		"status":       status,
		"app":          h.app.Config.App.Name,
		"env":          h.app.Config.App.Env,
		"uptime_sec":   int(time.Since(h.app.StartedAt).Seconds()),
		"index_rows":   rag.IndexRows,
		"web_search":   rag.WebSearch,
		"dependencies": deps,
	})
}

func (h *HealthHandler) checkMySQL(ctx context.Context) dependencyStatus {
	if h.app.MySQL == nil {
		return dependencyStatus{Disabled: true}
	}
	sqlDB, err := h.app.MySQL.DB()
	if err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkCache(ctx context.Context) dependencyStatus {
	if !h.app.Cache.Available() {
		return dependencyStatus{Disabled: true}
	}
	if !h.app.Cache.Ping(ctx) {
		return dependencyStatus{OK: false, Message: "ping failed"}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRabbitMQ() dependencyStatus {
	if h.app.MQConn == nil {
		return dependencyStatus{Disabled: true}
	}
	if h.app.MQConn.IsClosed() {
		return dependencyStatus{OK: false, Message: "connection closed"}
	}
	return dependencyStatus{OK: true}
}
