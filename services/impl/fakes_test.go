package impl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

// fakeMetadataStore is an in-memory MetadataStore for coordinator tests.
type fakeMetadataStore struct {
	mu          sync.Mutex
	departments map[string]*models.Department
	grants      map[uuid.UUID][]models.AccessGrant
	docs        map[uuid.UUID]*models.Document
	parents     map[uuid.UUID]models.Chunk
	children    map[uuid.UUID][]models.Chunk

	saveErr     error
	grantsErr   error
	deleteCalls []uuid.UUID
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{
		departments: make(map[string]*models.Department),
		grants:      make(map[uuid.UUID][]models.AccessGrant),
		docs:        make(map[uuid.UUID]*models.Document),
		parents:     make(map[uuid.UUID]models.Chunk),
		children:    make(map[uuid.UUID][]models.Chunk),
	}
}

func (s *fakeMetadataStore) addDepartment(tenantID uuid.UUID, name string) *models.Department {
	dept := &models.Department{ID: uuid.New(), TenantID: tenantID, Name: name}
	s.departments[tenantID.String()+"|"+name] = dept
	return dept
}

func (s *fakeMetadataStore) EnsureTenant(_ context.Context, _ *models.Tenant) error { return nil }

func (s *fakeMetadataStore) GetTenantByDomain(_ context.Context, _ string) (*models.Tenant, error) {
	return nil, nil
}

func (s *fakeMetadataStore) EnsureDepartment(_ context.Context, tenantID uuid.UUID, name string) (*models.Department, error) {
	if dept := s.departments[tenantID.String()+"|"+name]; dept != nil {
		return dept, nil
	}
	return s.addDepartment(tenantID, name), nil
}

func (s *fakeMetadataStore) EnsureRole(_ context.Context, tenantID, departmentID uuid.UUID, name string) (*models.Role, error) {
	return &models.Role{ID: uuid.New(), TenantID: tenantID, DepartmentID: departmentID, Name: name}, nil
}

func (s *fakeMetadataStore) GetUserByEmail(_ context.Context, _ uuid.UUID, _ string) (*models.User, error) {
	return nil, nil
}

func (s *fakeMetadataStore) GetUser(_ context.Context, _, _ uuid.UUID) (*models.User, error) {
	return nil, nil
}

func (s *fakeMetadataStore) CreateUser(_ context.Context, _ *models.User) error { return nil }

func (s *fakeMetadataStore) GrantAccess(_ context.Context, _ *models.UserAccess) error { return nil }

func (s *fakeMetadataStore) GetUserAccessPairs(_ context.Context, _, userID uuid.UUID) ([]models.AccessGrant, error) {
	if s.grantsErr != nil {
		return nil, s.grantsErr
	}
	return s.grants[userID], nil
}

func (s *fakeMetadataStore) GetDepartmentByName(_ context.Context, tenantID uuid.UUID, name string) (*models.Department, error) {
	return s.departments[tenantID.String()+"|"+name], nil
}

func (s *fakeMetadataStore) GetRoleByName(_ context.Context, _, _ uuid.UUID, _ string) (*models.Role, error) {
	return nil, nil
}

func (s *fakeMetadataStore) SaveHierarchical(_ context.Context, doc *models.Document, parents, children []models.Chunk) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ChunkCount = len(children)
	s.docs[doc.ID] = doc
	s.children[doc.ID] = children
	for _, parent := range parents {
		s.parents[parent.ID] = parent
	}
	return nil
}

func (s *fakeMetadataStore) GetDocument(_ context.Context, _, docID uuid.UUID) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[docID], nil
}

func (s *fakeMetadataStore) GetParentsByID(_ context.Context, chunkIDs []uuid.UUID) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var chunks []models.Chunk
	for _, id := range chunkIDs {
		if chunk, ok := s.parents[id]; ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func (s *fakeMetadataStore) GetDocumentsByUploader(_ context.Context, _, _ uuid.UUID) ([]models.DocumentSummary, error) {
	return nil, nil
}

func (s *fakeMetadataStore) DeleteDocument(_ context.Context, _, docID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, docID)
	delete(s.docs, docID)
	delete(s.children, docID)
	return nil
}

// fakeVectorStore records writes and serves canned search results.
type fakeVectorStore struct {
	mu sync.Mutex

	childUpserts  int
	parentUpserts int
	deleteCalls   []uuid.UUID
	searchCalls   int

	upsertChildrenErr error
	searchHits        []services.VectorHit
	parentHits        []services.ParentHit
}

func (s *fakeVectorStore) EnsureCollections(_ context.Context) error { return nil }

func (s *fakeVectorStore) UpsertChildren(_ context.Context, _ *models.Document, _ []models.Chunk, _ [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertChildrenErr != nil {
		return s.upsertChildrenErr
	}
	s.childUpserts++
	return nil
}

func (s *fakeVectorStore) UpsertParents(_ context.Context, _ *models.Document, _ []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parentUpserts++
	return nil
}

func (s *fakeVectorStore) Search(_ context.Context, _ uuid.UUID, _ []float32, _ []models.AccessPair, _ int, _ float32) ([]services.VectorHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchCalls++
	return s.searchHits, nil
}

func (s *fakeVectorStore) SearchWithParentExpansion(_ context.Context, _ uuid.UUID, _ []float32, _ []models.AccessPair, _ int, _ float32) ([]services.ParentHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchCalls++
	return s.parentHits, nil
}

func (s *fakeVectorStore) DeleteByDoc(_ context.Context, _, docID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, docID)
	return nil
}

func (s *fakeVectorStore) Close() error { return nil }

// fakeAuditService records events synchronously.
type fakeAuditService struct {
	mu     sync.Mutex
	events []*models.AuditEvent
	logErr error
}

func (s *fakeAuditService) Log(event *models.AuditEvent) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Log.ID == uuid.Nil {
		event.Log.ID = uuid.New()
	}
	s.events = append(s.events, event)
	return event.Log.ID, s.logErr
}

func (s *fakeAuditService) lastEvent() *models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

func (s *fakeAuditService) UserActivity(_ context.Context, _ services.AuditQueryFilter) ([]models.AuditLog, error) {
	return nil, nil
}

func (s *fakeAuditService) PIIAccessEvents(_ context.Context, _ services.AuditQueryFilter) ([]models.AuditLog, error) {
	return nil, nil
}

func (s *fakeAuditService) FailedAccessAttempts(_ context.Context, _ services.AuditQueryFilter) ([]models.AuditLog, error) {
	return nil, nil
}

func (s *fakeAuditService) ModificationHistory(_ context.Context, _, _ string, _ int) ([]models.ModificationAudit, error) {
	return nil, nil
}

func (s *fakeAuditService) Archive(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (s *fakeAuditService) Shutdown(_ context.Context) error { return nil }

// failingRedactor simulates an unavailable analyser pool.
type failingRedactor struct {
	err error
}

func (r *failingRedactor) Redact(_ context.Context, _ []string) ([]string, *services.RedactionReport, error) {
	return nil, nil, r.err
}
