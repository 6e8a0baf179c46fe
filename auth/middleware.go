package auth

import (
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

const (
	principalKey = "principal"
	requestIDKey = "request_id"
)

// RequestID tags every request, echoing a caller-supplied X-Request-ID
// when present so traces line up across services.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// GetRequestID returns the request ID set by the RequestID middleware.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Middleware authenticates requests and gates pending principals. Every
// rejection lands in the audit trail before the request is aborted.
type Middleware struct {
	issuer     *TokenIssuer
	sessions   services.SessionStore
	audit      services.AuditService
	tenantID   uuid.UUID
	cookieName string
}

func NewMiddleware(issuer *TokenIssuer, sessions services.SessionStore, audit services.AuditService, tenantID uuid.UUID, cookieName string) *Middleware {
	return &Middleware{issuer: issuer, sessions: sessions, audit: audit, tenantID: tenantID, cookieName: cookieName}
}

// Authenticate extracts the token (Authorization header wins over the
// session cookie), verifies it, and rejects revoked sessions. Both user
// and pending principals pass; route groups narrow further.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := m.extractToken(c)
		if tokenString == "" {
			m.auditDenial(c, models.AuditCategoryAuth, "missing_credentials", "missing credentials")
			abortWithError(c, models.NewAppError(models.ErrCodeAuthentication, "missing credentials", nil))
			return
		}

		principal, err := m.issuer.VerifyPrincipal(tokenString)
		if err != nil {
			m.auditDenial(c, models.AuditCategoryAuth, "token_invalid", "invalid or expired token")
			abortWithError(c, models.NewAppError(models.ErrCodeAuthentication, "invalid or expired token", err))
			return
		}

		if principal.SessionID != "" {
			revoked, err := m.sessions.IsSessionRevoked(c.Request.Context(), principal.SessionID)
			if err != nil {
				abortWithError(c, models.DependencyError("session check failed", err))
				return
			}
			if revoked {
				c.Set(principalKey, principal)
				m.auditDenial(c, models.AuditCategoryAuth, "session_revoked", "session revoked")
				abortWithError(c, models.NewAppError(models.ErrCodeAuthentication, "session revoked", nil))
				return
			}
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequireUser blocks pending principals from everything except
// registration.
func (m *Middleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil || principal.Kind != models.PrincipalKindUser {
			m.auditDenial(c, models.AuditCategoryAuthz, "registration_incomplete", "registration not complete")
			abortWithError(c, models.NewAppError(models.ErrCodeAuthorization, "registration not complete", nil))
			return
		}
		c.Next()
	}
}

// RequirePending accepts only a registration token; a full session must
// not re-register.
func (m *Middleware) RequirePending() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil || principal.Kind != models.PrincipalKindPending {
			m.auditDenial(c, models.AuditCategoryAuthz, "registration_token_required", "registration token required")
			abortWithError(c, models.NewAppError(models.ErrCodeAuthorization, "registration token required", nil))
			return
		}
		c.Next()
	}
}

func (m *Middleware) extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie(m.cookieName); err == nil {
		return cookie
	}
	return ""
}

// GetPrincipal returns the authenticated principal, or nil outside the
// Authenticate middleware.
func GetPrincipal(c *gin.Context) *models.Principal {
	value, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	principal, _ := value.(*models.Principal)
	return principal
}

// NewRequestContext assembles the audit-facing request context from gin
// state.
func NewRequestContext(c *gin.Context) models.RequestContext {
	reqCtx := models.RequestContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: GetRequestID(c),
	}
	if principal := GetPrincipal(c); principal != nil {
		reqCtx.Principal = *principal
	}
	return reqCtx
}

// auditDenial records a rejected request before it is aborted, carrying
// whatever actor identity the request established.
func (m *Middleware) auditDenial(c *gin.Context, category models.AuditCategory, stage, message string) {
	event := &models.AuditEvent{
		Log: models.AuditLog{
			TenantID:     m.tenantID,
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			RequestID:    GetRequestID(c),
			Category:     category,
			Type:         "access",
			Action:       "access." + stage,
			Outcome:      models.AuditOutcomeFailure,
			ResourceType: "endpoint",
			ResourceID:   c.FullPath(),
			ErrorMessage: message,
		},
	}
	if principal := GetPrincipal(c); principal != nil {
		if principal.UserID != uuid.Nil {
			userID := principal.UserID
			event.Log.UserID = &userID
		}
		event.Log.UserEmail = principal.Email
		event.Log.SessionID = principal.SessionID
	}
	if category == models.AuditCategoryAuth {
		event.Auth = &models.AuthAudit{
			AuthMethod:   "token",
			FailureStage: stage,
		}
	}
	if _, err := m.audit.Log(event); err != nil {
		log.Printf("audit enqueue failed for access.%s: %v", stage, err)
	}
}

func abortWithError(c *gin.Context, appErr *models.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus(), models.ErrorResponse{
		Error:     appErr.Code,
		Message:   appErr.Message,
		RequestID: GetRequestID(c),
	})
}
