package models

import (
	"time"

	"github.com/google/uuid"
)

// Classification is the sensitivity label on a document. It is fixed at
// ingest time; re-classifying a document means re-ingesting it.
type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationInternal     Classification = "internal"
	ClassificationConfidential Classification = "confidential"
	ClassificationRestricted   Classification = "restricted"
)

// Classifications lists all valid labels, least to most sensitive.
func Classifications() []Classification {
	return []Classification{
		ClassificationPublic,
		ClassificationInternal,
		ClassificationConfidential,
		ClassificationRestricted,
	}
}

// Valid reports whether c is a known classification label.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationPublic, ClassificationInternal, ClassificationConfidential, ClassificationRestricted:
		return true
	}
	return false
}

// RetentionYears returns how long audit records referencing this
// classification are retained before archival.
func (c Classification) RetentionYears() int {
	switch c {
	case ClassificationRestricted:
		return 10
	case ClassificationConfidential:
		return 7
	case ClassificationInternal:
		return 5
	default:
		return 3
	}
}

// Tenant is the root isolation boundary. Every other entity belongs to
// exactly one tenant.
type Tenant struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Domain    string    `json:"domain" gorm:"uniqueIndex;not null"`
	Name      string    `json:"name"`
	IssuerURL string    `json:"issuer_url"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a principal. Users are created on first successful identity
// provider callback; email is unique within a tenant.
type User struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;index;not null;uniqueIndex:idx_users_tenant_email,priority:1"`
	Email     string    `json:"email" gorm:"not null;uniqueIndex:idx_users_tenant_email,priority:2"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Department is an organisational unit; name is unique within a tenant.
type Department struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID uuid.UUID `json:"tenant_id" gorm:"type:uuid;index;not null;uniqueIndex:idx_departments_tenant_name,priority:1"`
	Name     string    `json:"name" gorm:"not null;uniqueIndex:idx_departments_tenant_name,priority:2"`
}

// Role is always scoped to a department.
type Role struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID     uuid.UUID `json:"tenant_id" gorm:"type:uuid;index;not null"`
	DepartmentID uuid.UUID `json:"department_id" gorm:"type:uuid;not null;uniqueIndex:idx_roles_dept_name,priority:1"`
	Name         string    `json:"name" gorm:"not null;uniqueIndex:idx_roles_dept_name,priority:2"`
}

// UserAccess grants a user a (department, role) pair. A user may hold any
// number of grants.
type UserAccess struct {
	UserID       uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	DepartmentID uuid.UUID `json:"department_id" gorm:"type:uuid;primaryKey"`
	RoleID       uuid.UUID `json:"role_id" gorm:"type:uuid;primaryKey"`
}

// AccessPair is one (department, classification) predicate of an RBAC
// filter. The set of pairs a user resolves to is attached to every vector
// search issued on their behalf.
type AccessPair struct {
	Department     string         `json:"department"`
	Classification Classification `json:"classification"`
}

// AccessGrant is a user's (department, role) grant joined to names,
// as read from the metadata store.
type AccessGrant struct {
	Department string `json:"department"`
	Role       string `json:"role"`
}

// AccessMatrix is the tenant-scoped authoritative policy:
// classification -> department -> allowed roles. It is provisioned at
// startup and immutable at runtime.
type AccessMatrix map[Classification]map[string][]string

// Allows reports whether the matrix grants (department, role) access to
// documents with the given classification. Classifications absent from
// the matrix are unreachable: the check fails closed.
func (m AccessMatrix) Allows(classification Classification, department, role string) bool {
	departments, ok := m[classification]
	if !ok {
		return false
	}
	roles, ok := departments[department]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
