package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type AuditCategory string

const (
	AuditCategoryAuth         AuditCategory = "authentication"
	AuditCategoryAuthz        AuditCategory = "authorization"
	AuditCategoryDataAccess   AuditCategory = "data_access"
	AuditCategoryModification AuditCategory = "data_modification"
	AuditCategorySystem       AuditCategory = "system"
)

type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomePartial AuditOutcome = "partial"
)

// AuditLog is the parent record written for every significant action.
// Rows are append-only; after the fact only Archived may flip false->true.
type AuditLog struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;index;not null"`
	Timestamp time.Time `json:"timestamp" gorm:"index;not null"`

	// Actor.
	UserID    *uuid.UUID `json:"user_id,omitempty" gorm:"type:uuid;index"`
	UserEmail string     `json:"user_email"`
	IPAddress string     `json:"ip_address"`
	UserAgent string     `json:"user_agent"`
	SessionID string     `json:"session_id"`
	RequestID string     `json:"request_id"`

	// Event classification.
	Category AuditCategory `json:"category" gorm:"index;not null"`
	Type     string        `json:"type"`
	Action   string        `json:"action" gorm:"index;not null"`
	Outcome  AuditOutcome  `json:"outcome" gorm:"index;not null"`

	// Resource reference.
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id" gorm:"index"`
	ResourceName string `json:"resource_name"`

	// Access context.
	Department     string         `json:"department"`
	Role           string         `json:"role"`
	Classification Classification `json:"classification"`

	// Compliance fields.
	PIIAccessed  bool           `json:"pii_accessed"`
	PIITypes     pq.StringArray `json:"pii_types" gorm:"type:text[]"`
	DataRedacted bool           `json:"data_redacted"`

	ErrorMessage string         `json:"error_message"`
	Changes      datatypes.JSON `json:"changes,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`

	// Retention is stamped at write time so later policy changes do not
	// retroactively expire old records.
	RetentionYears int  `json:"retention_years" gorm:"not null"`
	Archived       bool `json:"archived" gorm:"index;not null;default:false"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// QueryAudit attaches retrieval details to a parent event.
type QueryAudit struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	AuditLogID      uuid.UUID `json:"audit_log_id" gorm:"type:uuid;index;not null"`
	QueryText       string    `json:"query_text"`
	TopK            int       `json:"top_k"`
	ExpandParents   bool      `json:"expand_parents"`
	ChunksRetrieved int       `json:"chunks_retrieved"`
	FilterCount     int       `json:"filter_count"`
	EmbedTimeMs     int       `json:"embed_time_ms"`
	SearchTimeMs    int       `json:"search_time_ms"`
	RedactTimeMs    int       `json:"redact_time_ms"`
	TotalTimeMs     int       `json:"total_time_ms"`
}

func (QueryAudit) TableName() string { return "query_audit" }

// AuthAudit attaches authentication details to a parent event.
type AuthAudit struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	AuditLogID   uuid.UUID `json:"audit_log_id" gorm:"type:uuid;index;not null"`
	AuthMethod   string    `json:"auth_method"`
	TokenKind    string    `json:"token_kind"`
	Issuer       string    `json:"issuer"`
	FailureStage string    `json:"failure_stage,omitempty"`
}

func (AuthAudit) TableName() string { return "auth_audit" }

// ModificationAudit attaches a change record to a parent event.
type ModificationAudit struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	AuditLogID uuid.UUID      `json:"audit_log_id" gorm:"type:uuid;index;not null"`
	TableName_ string         `json:"table_name" gorm:"column:table_name;index"`
	RecordID   string         `json:"record_id" gorm:"index"`
	Operation  string         `json:"operation"`
	OldValues  datatypes.JSON `json:"old_values,omitempty"`
	NewValues  datatypes.JSON `json:"new_values,omitempty"`
}

func (ModificationAudit) TableName() string { return "modification_audit" }

// AuditEvent is the in-process event handed to the audit sink. The sink
// assigns the log ID before enqueueing so callers can correlate records
// without waiting on the write.
type AuditEvent struct {
	Log          AuditLog
	Query        *QueryAudit
	Auth         *AuthAudit
	Modification *ModificationAudit
}
