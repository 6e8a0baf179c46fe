package models

import (
	"time"

	"github.com/google/uuid"
)

// PrincipalKind distinguishes a fully authenticated session from the
// half-authenticated registration state issued when an identity-provider
// callback returns an email the service has never seen.
type PrincipalKind string

const (
	PrincipalKindUser    PrincipalKind = "user"
	PrincipalKindPending PrincipalKind = "pending"
)

// Principal is the authenticated caller extracted from a session or
// registration token. A pending principal may only call /auth/register.
type Principal struct {
	Kind      PrincipalKind `json:"kind"`
	UserID    uuid.UUID     `json:"user_id"`
	TenantID  uuid.UUID     `json:"tenant_id"`
	Email     string        `json:"email"`
	FullName  string        `json:"full_name"`
	SessionID string        `json:"session_id"`
}

// RequestContext carries per-request metadata through the coordinators so
// audit records are assembled from it rather than from ambient state.
type RequestContext struct {
	Principal Principal
	IPAddress string
	UserAgent string
	RequestID string
}

// IngestRequest is the coordinator-level ingestion input, assembled by the
// upload handler from the multipart form.
type IngestRequest struct {
	TenantID       uuid.UUID
	UploadedBy     uuid.UUID
	Title          string
	Description    string
	Filename       string
	Department     string
	Classification Classification
	Data           []byte
	// Flat disables parent/child hierarchy for short documents.
	Flat bool
}

// IngestResult reports a committed ingestion. AuditStatus is "partial"
// when the audit sink was saturated and the trail record was dropped.
type IngestResult struct {
	DocID       uuid.UUID `json:"doc_id"`
	ParentCount int       `json:"parent_count"`
	ChildCount  int       `json:"child_count"`
	ElapsedMs   int       `json:"elapsed_ms"`
	AuditStatus string    `json:"audit_status,omitempty"`
}

// QueryRequest is the coordinator-level retrieval input.
type QueryRequest struct {
	TenantID      uuid.UUID
	UserID        uuid.UUID
	Question      string
	K             int
	ExpandParents bool
}

// QueryResult is one ranked chunk returned to the caller, PII already
// redacted.
type QueryResult struct {
	Content  string        `json:"content"`
	Score    float32       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata identifies where a result came from.
type ChunkMetadata struct {
	DocID          uuid.UUID      `json:"doc_id"`
	ChunkID        uuid.UUID      `json:"chunk_id"`
	ChunkIndex     int            `json:"chunk_index"`
	ChunkType      ChunkType      `json:"chunk_type"`
	Department     string         `json:"department"`
	Classification Classification `json:"classification"`
	Title          string         `json:"title,omitempty"`
	Page           *int           `json:"page,omitempty"`
}

// QueryResponse is the retrieval coordinator output.
type QueryResponse struct {
	Results      []QueryResult `json:"results"`
	PIIRedacted  bool          `json:"pii_redacted"`
	PIITypes     []string      `json:"pii_types,omitempty"`
	ElapsedMs    int           `json:"elapsed_ms"`
	AuditStatus  string        `json:"audit_status,omitempty"`
	FilterCount  int           `json:"-"`
	EmbedTimeMs  int           `json:"-"`
	SearchTimeMs int           `json:"-"`
	RedactTimeMs int           `json:"-"`
}

// UploadResponse is returned by POST /api/documents/upload.
type UploadResponse struct {
	DocID       uuid.UUID `json:"doc_id"`
	Title       string    `json:"title"`
	ChunkCount  int       `json:"chunk_count"`
	ElapsedMs   int       `json:"elapsed_ms"`
	RequestID   string    `json:"request_id"`
	AuditStatus string    `json:"audit_status,omitempty"`
}

// QueryAPIRequest is the JSON body of POST /api/query.
type QueryAPIRequest struct {
	UserQuery     string `json:"user_query" binding:"required"`
	K             int    `json:"k,omitempty"`
	ExpandParents bool   `json:"expand_parents,omitempty"`
}

// RegisterRequest is the JSON body of POST /auth/register.
type RegisterRequest struct {
	FullName   string `json:"full_name" binding:"required"`
	Department string `json:"department" binding:"required"`
	Role       string `json:"role" binding:"required"`
}

// IdentityClaims is what the identity provider reports about a subject
// after the code exchange.
type IdentityClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Issuer        string `json:"iss"`
}

// ErrorResponse is the stable error envelope carried by every non-2xx
// response.
type ErrorResponse struct {
	Error     ErrorCode `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Details   string    `json:"details,omitempty"`
}

// UserInfoResponse is returned by POST /api/user.
type UserInfoResponse struct {
	UserID    uuid.UUID     `json:"user_id"`
	TenantID  uuid.UUID     `json:"tenant_id"`
	Email     string        `json:"email"`
	FullName  string        `json:"full_name"`
	Grants    []AccessGrant `json:"grants"`
	CreatedAt time.Time     `json:"created_at"`
}
