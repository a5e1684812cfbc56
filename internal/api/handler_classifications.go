package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/internal/repository"
	"mailtriage/internal/service"
)

type Inbox interface {
	List(ctx context.Context, userID int, f service.ListFilter) ([]service.ClassifiedEmail, error)
	Override(ctx context.Context, userID int, emailID string, patch service.OverridePatch) (*model.ClassificationResult, error)
	MarkHandled(ctx context.Context, userID int, emailID string) error
}

type ClassificationHandler struct {
	inbox  Inbox
	logger *zap.Logger
}

func NewClassificationHandler(inbox Inbox, logger *zap.Logger) *ClassificationHandler {
	return &ClassificationHandler{inbox: inbox, logger: logger}
}

// ListClassifications handles GET /classifications
func (h *ClassificationHandler) ListClassifications(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	filter := service.ListFilter{Category: model.Category(c.Query("category"))}
	if filter.Category != "" && !filter.Category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}
	var err error
	if filter.MaxPriority, err = intQuery(c, "max_priority"); err != nil || filter.MaxPriority < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_priority"})
		return
	}
	if filter.Limit, err = intQuery(c, "limit"); err != nil || filter.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if raw := c.Query("include_handled"); raw != "" {
		if filter.IncludeHandled, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid include_handled"})
			return
		}
	}

	emails, err := h.inbox.List(c.Request.Context(), userID, filter)
	if err != nil {
		h.logger.Error("ListClassifications: failed to fetch inbox", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch classifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"classifications": emails})
}

// OverrideClassification handles PATCH /classifications/:email_id
func (h *ClassificationHandler) OverrideClassification(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var patch service.OverridePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	emailID := c.Param("email_id")
	res, err := h.inbox.Override(c.Request.Context(), userID, emailID, patch)
	switch {
	case errors.Is(err, service.ErrInvalidOverride):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "classification not found"})
		return
	case err != nil:
		h.logger.Error("OverrideClassification: failed",
			zap.Int("user_id", userID),
			zap.String("email_id", emailID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to override classification"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// MarkHandled handles POST /classifications/:email_id/handled
func (h *ClassificationHandler) MarkHandled(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	emailID := c.Param("email_id")
	err := h.inbox.MarkHandled(c.Request.Context(), userID, emailID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "classification not found"})
		return
	}
	if err != nil {
		h.logger.Error("MarkHandled: failed", zap.String("email_id", emailID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark handled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
