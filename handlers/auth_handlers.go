package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/auth"
	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

type AuthHandlers struct {
	issuer   *auth.TokenIssuer
	idp      services.IdentityProvider
	sessions services.SessionStore
	store    services.MetadataStore
	audit    services.AuditService
	tenantID uuid.UUID
	authCfg  *config.AuthConfig
}

func NewAuthHandlers(
	issuer *auth.TokenIssuer,
	idp services.IdentityProvider,
	sessions services.SessionStore,
	store services.MetadataStore,
	audit services.AuditService,
	tenantID uuid.UUID,
	authCfg *config.AuthConfig,
) *AuthHandlers {
	return &AuthHandlers{
		issuer:   issuer,
		idp:      idp,
		sessions: sessions,
		store:    store,
		audit:    audit,
		tenantID: tenantID,
		authCfg:  authCfg,
	}
}

// Login starts the authorization-code flow: mint a signed state token,
// remember its nonce, redirect to the issuer.
func (h *AuthHandlers) Login(c *gin.Context) {
	state, nonce, err := h.issuer.IssueState(h.tenantID)
	if err != nil {
		respondError(c, models.NewAppError(models.ErrCodeInternal, "failed to start login", err))
		return
	}

	ttl := time.Duration(h.authCfg.StateTTLMinutes) * time.Minute
	if err := h.sessions.SaveStateNonce(c.Request.Context(), nonce, ttl); err != nil {
		respondError(c, models.DependencyError("failed to persist login state", err))
		return
	}

	c.Redirect(http.StatusFound, h.idp.AuthCodeURL(state))
}

// Callback finishes the flow. The state token must verify and its nonce
// must still be unconsumed; then the code is exchanged and the verified
// email decides between a full session and a registration token.
func (h *AuthHandlers) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		h.auditAuth(c, nil, "", models.AuditOutcomeFailure, "callback", "missing code or state")
		respondError(c, models.ValidationError("missing code or state", nil))
		return
	}

	tenantID, nonce, err := h.issuer.VerifyState(state)
	if err != nil || tenantID != h.tenantID {
		h.auditAuth(c, nil, "", models.AuditOutcomeFailure, "state", "state verification failed")
		respondError(c, models.NewAppError(models.ErrCodeAuthentication, "invalid login state", err))
		return
	}
	consumed, err := h.sessions.ConsumeStateNonce(c.Request.Context(), nonce)
	if err != nil {
		respondError(c, models.DependencyError("failed to check login state", err))
		return
	}
	if !consumed {
		// Replayed or expired state.
		h.auditAuth(c, nil, "", models.AuditOutcomeFailure, "state", "state nonce already consumed")
		respondError(c, models.NewAppError(models.ErrCodeAuthentication, "login state expired or reused", nil))
		return
	}

	claims, err := h.idp.Exchange(c.Request.Context(), code)
	if err != nil {
		h.auditAuth(c, nil, "", models.AuditOutcomeFailure, "exchange", err.Error())
		respondError(c, models.NewAppError(models.ErrCodeAuthentication, "identity provider exchange failed", err))
		return
	}
	if !claims.EmailVerified {
		h.auditAuth(c, nil, claims.Email, models.AuditOutcomeFailure, "exchange", "email not verified")
		respondError(c, models.NewAppError(models.ErrCodeAuthentication, "email address is not verified", nil))
		return
	}

	user, err := h.store.GetUserByEmail(c.Request.Context(), h.tenantID, claims.Email)
	if err != nil {
		respondError(c, models.DependencyError("user lookup failed", err))
		return
	}

	if user == nil {
		// First login: hand back a short-lived registration token; the
		// client must complete POST /auth/register.
		token, err := h.issuer.IssueRegistration(h.tenantID, claims.Email, claims.Name)
		if err != nil {
			respondError(c, models.NewAppError(models.ErrCodeInternal, "failed to issue registration token", err))
			return
		}
		h.auditAuth(c, nil, claims.Email, models.AuditOutcomeSuccess, "registration_issued", "")
		c.JSON(http.StatusOK, gin.H{
			"registration_required": true,
			"registration_token":    token,
		})
		return
	}

	h.issueSession(c, user, "login")
}

// Register completes first login. Requires a pending principal; the
// department and role must exist in the tenant's policy.
func (h *AuthHandlers) Register(c *gin.Context) {
	principal := auth.GetPrincipal(c)

	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.ValidationError("invalid request body", err))
		return
	}

	dept, err := h.store.GetDepartmentByName(c.Request.Context(), h.tenantID, req.Department)
	if err != nil {
		respondError(c, models.DependencyError("department lookup failed", err))
		return
	}
	if dept == nil {
		respondError(c, models.ValidationError("unknown department", nil))
		return
	}
	role, err := h.store.GetRoleByName(c.Request.Context(), h.tenantID, dept.ID, req.Role)
	if err != nil {
		respondError(c, models.DependencyError("role lookup failed", err))
		return
	}
	if role == nil {
		respondError(c, models.ValidationError("unknown role for department", nil))
		return
	}

	existing, err := h.store.GetUserByEmail(c.Request.Context(), h.tenantID, principal.Email)
	if err != nil {
		respondError(c, models.DependencyError("user lookup failed", err))
		return
	}
	if existing != nil {
		respondError(c, models.NewAppError(models.ErrCodeConflict, "user already registered", nil))
		return
	}

	user := &models.User{
		ID:       uuid.New(),
		TenantID: h.tenantID,
		Email:    principal.Email,
		FullName: req.FullName,
	}
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		respondError(c, models.DependencyError("failed to create user", err))
		return
	}
	grant := &models.UserAccess{
		UserID:       user.ID,
		DepartmentID: dept.ID,
		RoleID:       role.ID,
	}
	if err := h.store.GrantAccess(c.Request.Context(), grant); err != nil {
		respondError(c, models.DependencyError("failed to grant access", err))
		return
	}

	h.issueSession(c, user, "register")
}

// Logout revokes the current session for the remainder of its lifetime
// and clears the cookie.
func (h *AuthHandlers) Logout(c *gin.Context) {
	principal := auth.GetPrincipal(c)
	if principal.SessionID != "" {
		err := h.sessions.RevokeSession(c.Request.Context(), principal.SessionID, h.issuer.SessionTTL())
		if err != nil {
			respondError(c, models.DependencyError("failed to revoke session", err))
			return
		}
	}
	h.clearCookie(c)
	h.auditAuth(c, &principal.UserID, principal.Email, models.AuditOutcomeSuccess, "logout", "")
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

func (h *AuthHandlers) issueSession(c *gin.Context, user *models.User, action string) {
	token, _, err := h.issuer.IssueSession(user)
	if err != nil {
		respondError(c, models.NewAppError(models.ErrCodeInternal, "failed to issue session", err))
		return
	}
	h.setCookie(c, token)

	h.auditAuth(c, &user.ID, user.Email, models.AuditOutcomeSuccess, action, "")

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"user_id": user.ID,
		"email":   user.Email,
	})
}

func (h *AuthHandlers) setCookie(c *gin.Context, token string) {
	maxAge := h.authCfg.SessionTTLMinutes * 60
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.authCfg.CookieName, token, maxAge, "/", "", h.authCfg.CookieSecure, true)
}

func (h *AuthHandlers) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.authCfg.CookieName, "", -1, "/", "", h.authCfg.CookieSecure, true)
}

func (h *AuthHandlers) auditAuth(c *gin.Context, userID *uuid.UUID, email string, outcome models.AuditOutcome, stage, message string) {
	event := &models.AuditEvent{
		Log: models.AuditLog{
			TenantID:     h.tenantID,
			UserID:       userID,
			UserEmail:    email,
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			RequestID:    auth.GetRequestID(c),
			Category:     models.AuditCategoryAuth,
			Type:         "auth",
			Action:       "auth." + stage,
			Outcome:      outcome,
			ErrorMessage: message,
		},
		Auth: &models.AuthAudit{
			AuthMethod: "oidc",
		},
	}
	if outcome == models.AuditOutcomeFailure {
		event.Auth.FailureStage = stage
	}
	if _, err := h.audit.Log(event); err != nil {
		log.Printf("audit enqueue failed for auth.%s: %v", stage, err)
	}
}
