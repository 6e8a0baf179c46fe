package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/models"
)

// MetadataStore is the relational side of the dual store: users, roles,
// departments, documents, chunks and access grants. Schema creation is
// idempotent at startup.
type MetadataStore interface {
	// Provisioning. All upserts are idempotent; the policy document is the
	// source of truth and is applied once at startup.
	EnsureTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	EnsureDepartment(ctx context.Context, tenantID uuid.UUID, name string) (*models.Department, error)
	EnsureRole(ctx context.Context, tenantID, departmentID uuid.UUID, name string) (*models.Role, error)

	// Users.
	GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.User, error)
	GetUser(ctx context.Context, tenantID, userID uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	GrantAccess(ctx context.Context, grant *models.UserAccess) error
	GetUserAccessPairs(ctx context.Context, tenantID, userID uuid.UUID) ([]models.AccessGrant, error)

	// Departments.
	GetDepartmentByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Department, error)
	GetRoleByName(ctx context.Context, tenantID, departmentID uuid.UUID, name string) (*models.Role, error)

	// Documents and chunks.
	SaveHierarchical(ctx context.Context, doc *models.Document, parents, children []models.Chunk) error
	GetDocument(ctx context.Context, tenantID, docID uuid.UUID) (*models.Document, error)
	GetParentsByID(ctx context.Context, chunkIDs []uuid.UUID) ([]models.Chunk, error)
	GetDocumentsByUploader(ctx context.Context, tenantID, userID uuid.UUID) ([]models.DocumentSummary, error)
	DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error
}

// AuditQueryFilter narrows compliance reads over the audit trail.
type AuditQueryFilter struct {
	TenantID uuid.UUID
	UserID   *uuid.UUID
	From     time.Time
	To       time.Time
	Limit    int
}

// AuditService persists typed audit events without blocking the request
// path. Log enqueues and returns the allocated log ID immediately;
// models.ErrAuditSaturated signals that the bounded enqueue wait expired
// and the caller should report partial success.
type AuditService interface {
	Log(event *models.AuditEvent) (uuid.UUID, error)

	// Compliance queries, served synchronously from the audit tables.
	UserActivity(ctx context.Context, filter AuditQueryFilter) ([]models.AuditLog, error)
	PIIAccessEvents(ctx context.Context, filter AuditQueryFilter) ([]models.AuditLog, error)
	FailedAccessAttempts(ctx context.Context, filter AuditQueryFilter) ([]models.AuditLog, error)
	ModificationHistory(ctx context.Context, tableName, recordID string, limit int) ([]models.ModificationAudit, error)

	// Archive flips the archived flag on events older than cutoff whose
	// retention window has elapsed.
	Archive(ctx context.Context, cutoff time.Time) (int64, error)

	// Shutdown flushes the buffer and stops the workers.
	Shutdown(ctx context.Context) error
}

// SessionStore tracks OIDC state nonces (single use) and revoked session
// IDs, both with bounded TTLs.
type SessionStore interface {
	SaveStateNonce(ctx context.Context, nonce string, ttl time.Duration) error
	ConsumeStateNonce(ctx context.Context, nonce string) (bool, error)
	RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error
	IsSessionRevoked(ctx context.Context, sessionID string) (bool, error)
	Close() error
}

// IdentityProvider abstracts the OIDC authorization-code flow so the auth
// handlers can be exercised without a live issuer.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*models.IdentityClaims, error)
}
