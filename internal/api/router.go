package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Runs            *RunHandler
	Classifications *ClassificationHandler
	Rules           *RuleHandler
}

func NewRouter(h Handlers, jwtSecret string, db Pinger, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/runs", h.Runs.TriggerRun)
		auth.GET("/runs/:id", h.Runs.GetRun)

		auth.GET("/classifications", h.Classifications.ListClassifications)
		auth.PATCH("/classifications/:email_id", h.Classifications.OverrideClassification)
		auth.POST("/classifications/:email_id/handled", h.Classifications.MarkHandled)

		auth.GET("/rules", h.Rules.ListRules)
		auth.POST("/rules", h.Rules.CreateRule)
		auth.DELETE("/rules/:id", h.Rules.DeleteRule)
	}

	return r
}
