package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

type metadataStoreImpl struct {
	db *gorm.DB
}

// NewMetadataStore wraps the shared gorm handle. Migrate must have run
// before any other call.
func NewMetadataStore(db *gorm.DB) services.MetadataStore {
	return &metadataStoreImpl{db: db}
}

// Migrate creates or updates the relational schema. Idempotent.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Department{},
		&models.Role{},
		&models.UserAccess{},
		&models.Document{},
		&models.Chunk{},
		&models.AuditLog{},
		&models.QueryAudit{},
		&models.AuthAudit{},
		&models.ModificationAudit{},
	)
}

func (s *metadataStoreImpl) EnsureTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "domain"}}, DoNothing: true}).
		Create(tenant).Error
}

func (s *metadataStoreImpl) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.WithContext(ctx).
		Where("domain = ?", domain).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *metadataStoreImpl) EnsureDepartment(ctx context.Context, tenantID uuid.UUID, name string) (*models.Department, error) {
	dept := models.Department{ID: uuid.New(), TenantID: tenantID, Name: name}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&dept).Error
	if err != nil {
		return nil, err
	}
	return s.GetDepartmentByName(ctx, tenantID, name)
}

func (s *metadataStoreImpl) EnsureRole(ctx context.Context, tenantID, departmentID uuid.UUID, name string) (*models.Role, error) {
	role := models.Role{ID: uuid.New(), TenantID: tenantID, DepartmentID: departmentID, Name: name}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&role).Error
	if err != nil {
		return nil, err
	}
	return s.GetRoleByName(ctx, tenantID, departmentID, name)
}

func (s *metadataStoreImpl) GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", tenantID, email).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *metadataStoreImpl) GetUser(ctx context.Context, tenantID, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, userID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *metadataStoreImpl) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *metadataStoreImpl) GrantAccess(ctx context.Context, grant *models.UserAccess) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(grant).Error
}

// GetUserAccessPairs joins the user's grants to department and role names.
// Tenant scoping rides on the department row.
func (s *metadataStoreImpl) GetUserAccessPairs(ctx context.Context, tenantID, userID uuid.UUID) ([]models.AccessGrant, error) {
	var grants []models.AccessGrant
	err := s.db.WithContext(ctx).
		Table("user_accesses").
		Select("departments.name AS department, roles.name AS role").
		Joins("JOIN departments ON departments.id = user_accesses.department_id").
		Joins("JOIN roles ON roles.id = user_accesses.role_id").
		Where("user_accesses.user_id = ? AND departments.tenant_id = ?", userID, tenantID).
		Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *metadataStoreImpl) GetDepartmentByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Department, error) {
	var dept models.Department
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND name = ?", tenantID, name).
		First(&dept).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dept, nil
}

func (s *metadataStoreImpl) GetRoleByName(ctx context.Context, tenantID, departmentID uuid.UUID, name string) (*models.Role, error) {
	var role models.Role
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND department_id = ? AND name = ?", tenantID, departmentID, name).
		First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// SaveHierarchical persists the document and all of its chunks in one
// transaction: either everything commits or nothing does. Vector writes
// happen elsewhere, strictly after this returns.
func (s *metadataStoreImpl) SaveHierarchical(ctx context.Context, doc *models.Document, parents, children []models.Chunk) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.ChunkCount = len(children)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		if len(parents) > 0 {
			if err := tx.CreateInBatches(parents, 200).Error; err != nil {
				return fmt.Errorf("failed to create parent chunks: %w", err)
			}
		}
		if len(children) > 0 {
			if err := tx.CreateInBatches(children, 200).Error; err != nil {
				return fmt.Errorf("failed to create child chunks: %w", err)
			}
		}
		return nil
	})
}

func (s *metadataStoreImpl) GetDocument(ctx context.Context, tenantID, docID uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, docID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetParentsByID bulk-reads parent chunks for parent expansion.
func (s *metadataStoreImpl) GetParentsByID(ctx context.Context, chunkIDs []uuid.UUID) ([]models.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	var chunks []models.Chunk
	err := s.db.WithContext(ctx).
		Where("id IN ? AND chunk_type = ?", chunkIDs, models.ChunkTypeParent).
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *metadataStoreImpl) GetDocumentsByUploader(ctx context.Context, tenantID, userID uuid.UUID) ([]models.DocumentSummary, error) {
	var docs []models.Document
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND uploaded_by = ?", tenantID, userID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]models.DocumentSummary, len(docs))
	for i, doc := range docs {
		summaries[i] = models.DocumentSummary{
			ID:             doc.ID,
			Title:          doc.Title,
			Description:    doc.Description,
			Filename:       doc.Filename,
			Department:     doc.Department,
			Classification: doc.Classification,
			ChunkCount:     doc.ChunkCount,
			CreatedAt:      doc.CreatedAt,
		}
	}
	return summaries, nil
}

// DeleteDocument removes the document and cascades to its chunks.
func (s *metadataStoreImpl) DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("doc_id = ?", docID).Delete(&models.Chunk{}).Error; err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if err := tx.Where("tenant_id = ? AND id = ?", tenantID, docID).Delete(&models.Document{}).Error; err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return nil
	})
}
