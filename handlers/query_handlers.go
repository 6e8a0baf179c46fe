package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinel-rag/sentinel/auth"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

type QueryHandlers struct {
	retrieval services.RetrievalService
}

func NewQueryHandlers(retrieval services.RetrievalService) *QueryHandlers {
	return &QueryHandlers{retrieval: retrieval}
}

// Query answers a natural-language question with RBAC-filtered, redacted
// chunks.
func (h *QueryHandlers) Query(c *gin.Context) {
	reqCtx := auth.NewRequestContext(c)

	var body models.QueryAPIRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, models.ValidationError("invalid request body", err))
		return
	}

	resp, err := h.retrieval.Query(c.Request.Context(), reqCtx, models.QueryRequest{
		TenantID:      reqCtx.Principal.TenantID,
		UserID:        reqCtx.Principal.UserID,
		Question:      body.UserQuery,
		K:             body.K,
		ExpandParents: body.ExpandParents,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AuditHandlers serves the compliance read endpoints.
type AuditHandlers struct {
	audit services.AuditService
}

func NewAuditHandlers(audit services.AuditService) *AuditHandlers {
	return &AuditHandlers{audit: audit}
}

func (h *AuditHandlers) filterFromQuery(c *gin.Context) services.AuditQueryFilter {
	reqCtx := auth.NewRequestContext(c)
	filter := services.AuditQueryFilter{
		TenantID: reqCtx.Principal.TenantID,
	}
	if raw := c.Query("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = t
		}
	}
	if raw := c.Query("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = t
		}
	}
	return filter
}

// UserActivity lists the caller's own audit trail.
func (h *AuditHandlers) UserActivity(c *gin.Context) {
	reqCtx := auth.NewRequestContext(c)
	filter := h.filterFromQuery(c)
	filter.UserID = &reqCtx.Principal.UserID

	logs, err := h.audit.UserActivity(c.Request.Context(), filter)
	if err != nil {
		respondError(c, models.DependencyError("failed to read audit trail", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": logs, "count": len(logs)})
}
