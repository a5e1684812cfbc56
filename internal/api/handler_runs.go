package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/internal/pipeline"
	"mailtriage/internal/repository"
)

type RunTrigger interface {
	Trigger(ctx context.Context, userID int) (string, error)
}

type RunReader interface {
	Get(ctx context.Context, id string) (*model.Run, error)
}

type RunHandler struct {
	trigger RunTrigger
	runs    RunReader
	logger  *zap.Logger
}

func NewRunHandler(trigger RunTrigger, runs RunReader, logger *zap.Logger) *RunHandler {
	return &RunHandler{trigger: trigger, runs: runs, logger: logger}
}

// TriggerRun handles POST /runs
func (h *RunHandler) TriggerRun(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	runID, err := h.trigger.Trigger(c.Request.Context(), userID)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		h.logger.Info("TriggerRun: run already in progress",
			zap.Int("user_id", userID),
			zap.String("run_id", runID),
		)
		c.JSON(http.StatusConflict, gin.H{"error": "run already in progress", "run_id": runID})
		return
	case err != nil:
		h.logger.Error("TriggerRun: failed to start run", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start run"})
		return
	}

	h.logger.Info("TriggerRun: accepted", zap.Int("user_id", userID), zap.String("run_id", runID))
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// GetRun handles GET /runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	runID := c.Param("id")
	run, err := h.runs.Get(c.Request.Context(), runID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && run.UserID != userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		h.logger.Error("GetRun: failed to fetch run", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run"})
		return
	}
	c.JSON(http.StatusOK, run)
}
