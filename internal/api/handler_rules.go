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
	"mailtriage/internal/rules"
)

type RuleStore interface {
	List(ctx context.Context, userID int) ([]model.UserRule, error)
	Create(ctx context.Context, rule *model.UserRule) error
	Delete(ctx context.Context, userID, id int) error
}

type RuleHandler struct {
	store  RuleStore
	logger *zap.Logger
}

func NewRuleHandler(store RuleStore, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{store: store, logger: logger}
}

type createRuleRequest struct {
	Name            string          `json:"name" binding:"required"`
	Position        int             `json:"position"`
	Active          *bool           `json:"active"`
	SenderGlob      string          `json:"sender_glob"`
	SubjectContains string          `json:"subject_contains"`
	IsMailingList   *bool           `json:"is_mailing_list"`
	HasAttachment   *bool           `json:"has_attachment"`
	Category        *model.Category `json:"category"`
	Priority        *int            `json:"priority"`
	NeedsReply      *bool           `json:"needs_reply"`
	AutoHandle      bool            `json:"auto_handle"`
}

// ListRules handles GET /rules
func (h *RuleHandler) ListRules(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := h.store.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("ListRules: failed to fetch rules", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch rules"})
		return
	}
	if list == nil {
		list = []model.UserRule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": list})
}

// CreateRule handles POST /rules
func (h *RuleHandler) CreateRule(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	rule := model.UserRule{
		UserID:          userID,
		Name:            req.Name,
		Position:        req.Position,
		Active:          req.Active == nil || *req.Active,
		SenderGlob:      req.SenderGlob,
		SubjectContains: req.SubjectContains,
		IsMailingList:   req.IsMailingList,
		HasAttachment:   req.HasAttachment,
		Category:        req.Category,
		Priority:        req.Priority,
		NeedsReply:      req.NeedsReply,
		AutoHandle:      req.AutoHandle,
	}
	if err := rules.Validate(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Create(c.Request.Context(), &rule); err != nil {
		h.logger.Error("CreateRule: failed to store rule", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create rule"})
		return
	}
	h.logger.Info("CreateRule: success", zap.Int("user_id", userID), zap.Int("rule_id", rule.ID))
	c.JSON(http.StatusCreated, rule)
}

// DeleteRule handles DELETE /rules/:id
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}
	err = h.store.Delete(c.Request.Context(), userID, id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	if err != nil {
		h.logger.Error("DeleteRule: failed", zap.Int("rule_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete rule"})
		return
	}
	c.Status(http.StatusNoContent)
}
