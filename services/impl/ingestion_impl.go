package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

const auditStatusPartial = "partial"

// ingestionServiceImpl runs the pipeline for one document:
// parse -> chunk -> embed -> metadata commit -> vector write.
// The metadata transaction always lands before any vector write; if the
// vector write then fails, the committed metadata is rolled back by a
// compensating delete so the two stores never disagree about which
// documents exist.
type ingestionServiceImpl struct {
	parser   services.DocumentParser
	chunker  services.Chunker
	embedder services.Embedder
	store    services.MetadataStore
	vectors  services.VectorStore
	audit    services.AuditService

	// Documents shorter than this many characters skip the parent
	// hierarchy; a single level is enough context.
	flatThreshold int
}

func NewIngestionService(
	cfg *config.IngestConfig,
	parser services.DocumentParser,
	chunker services.Chunker,
	embedder services.Embedder,
	store services.MetadataStore,
	vectors services.VectorStore,
	audit services.AuditService,
) services.IngestionService {
	return &ingestionServiceImpl{
		parser:        parser,
		chunker:       chunker,
		embedder:      embedder,
		store:         store,
		vectors:       vectors,
		audit:         audit,
		flatThreshold: cfg.FlatModeThreshold,
	}
}

func (s *ingestionServiceImpl) Ingest(ctx context.Context, reqCtx models.RequestContext, req models.IngestRequest) (*models.IngestResult, error) {
	started := time.Now()

	if err := s.validate(ctx, req); err != nil {
		s.auditIngest(reqCtx, req, uuid.Nil, 0, models.AuditOutcomeFailure, err)
		return nil, err
	}

	markdown, err := s.parser.Parse(ctx, req.Filename, req.Data)
	if err != nil {
		s.auditIngest(reqCtx, req, uuid.Nil, 0, models.AuditOutcomeFailure, err)
		if errors.Is(err, models.ErrUnsupportedFormat) || errors.Is(err, models.ErrParseFailure) {
			return nil, models.ValidationError(fmt.Sprintf("cannot parse %s", req.Filename), err)
		}
		return nil, fmt.Errorf("parse failed: %w", err)
	}
	if strings.TrimSpace(markdown) == "" {
		err := models.ValidationError("document contains no extractable text", nil)
		s.auditIngest(reqCtx, req, uuid.Nil, 0, models.AuditOutcomeFailure, err)
		return nil, err
	}

	var set *models.ChunkSet
	if req.Flat || len(markdown) < s.flatThreshold {
		set, err = s.chunker.ChunkFlat(markdown)
	} else {
		set, err = s.chunker.Chunk(markdown)
	}
	if err != nil {
		s.auditIngest(reqCtx, req, uuid.Nil, 0, models.AuditOutcomeFailure, err)
		return nil, fmt.Errorf("chunking failed: %w", err)
	}
	if len(set.Children) == 0 {
		err := models.ValidationError("document produced no chunks", nil)
		s.auditIngest(reqCtx, req, uuid.Nil, 0, models.AuditOutcomeFailure, err)
		return nil, err
	}

	doc, parents, children, err := s.materialize(ctx, req, set)
	if err != nil {
		s.auditIngest(reqCtx, req, uuid.Nil, 0, models.AuditOutcomeFailure, err)
		return nil, err
	}

	texts := make([]string, len(children))
	for i, chunk := range children {
		texts[i] = chunk.Content
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		s.auditIngest(reqCtx, req, doc.ID, 0, models.AuditOutcomeFailure, err)
		if errors.Is(err, models.ErrEmbeddingProvider) || errors.Is(err, models.ErrDimensionMismatch) {
			return nil, models.DependencyError("embedding provider failed", err)
		}
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	// Metadata commits first. Until the vector write lands the document
	// exists but is unsearchable, which is the safe intermediate state.
	if err := s.store.SaveHierarchical(ctx, doc, parents, children); err != nil {
		s.auditIngest(reqCtx, req, doc.ID, 0, models.AuditOutcomeFailure, err)
		return nil, models.DependencyError("failed to persist document", err)
	}

	if err := s.writeVectors(ctx, doc, parents, children, embeddings); err != nil {
		s.compensate(ctx, doc)
		s.auditIngest(reqCtx, req, doc.ID, 0, models.AuditOutcomeFailure, err)
		return nil, models.DependencyError("failed to index document", err)
	}

	result := &models.IngestResult{
		DocID:       doc.ID,
		ParentCount: len(parents),
		ChildCount:  len(children),
		ElapsedMs:   int(time.Since(started).Milliseconds()),
	}
	if err := s.auditIngest(reqCtx, req, doc.ID, len(children), models.AuditOutcomeSuccess, nil); err != nil {
		result.AuditStatus = auditStatusPartial
	}
	return result, nil
}

func (s *ingestionServiceImpl) validate(ctx context.Context, req models.IngestRequest) error {
	switch {
	case len(req.Data) == 0:
		return models.ValidationError("empty file", nil)
	case strings.TrimSpace(req.Title) == "":
		return models.ValidationError("title is required", nil)
	case !req.Classification.Valid():
		return models.ValidationError(fmt.Sprintf("unknown classification %q", req.Classification), nil)
	}

	dept, err := s.store.GetDepartmentByName(ctx, req.TenantID, req.Department)
	if err != nil {
		return models.DependencyError("failed to look up department", err)
	}
	if dept == nil {
		return models.ValidationError(fmt.Sprintf("unknown department %q", req.Department), nil)
	}
	return nil
}

// materialize allocates chunk IDs and resolves parent edges into the
// persisted shape.
func (s *ingestionServiceImpl) materialize(ctx context.Context, req models.IngestRequest, set *models.ChunkSet) (*models.Document, []models.Chunk, []models.Chunk, error) {
	dept, err := s.store.GetDepartmentByName(ctx, req.TenantID, req.Department)
	if err != nil || dept == nil {
		return nil, nil, nil, models.DependencyError("failed to resolve department", err)
	}

	doc := &models.Document{
		ID:             uuid.New(),
		TenantID:       req.TenantID,
		Title:          req.Title,
		Description:    req.Description,
		Filename:       req.Filename,
		UploadedBy:     req.UploadedBy,
		DepartmentID:   dept.ID,
		Department:     req.Department,
		Classification: req.Classification,
	}
	now := time.Now().UTC()

	parents := make([]models.Chunk, len(set.Parents))
	for i, draft := range set.Parents {
		parents[i] = models.Chunk{
			ID:         uuid.New(),
			DocID:      doc.ID,
			ChunkIndex: i,
			Content:    draft.Content,
			Page:       draft.Page,
			ChunkType:  models.ChunkTypeParent,
			CreatedAt:  now,
		}
	}

	parentByChild := make(map[int]int, len(set.Edges))
	for _, edge := range set.Edges {
		if edge.ParentIndex < 0 || edge.ParentIndex >= len(parents) {
			return nil, nil, nil, fmt.Errorf("chunker emitted edge to missing parent %d", edge.ParentIndex)
		}
		parentByChild[edge.ChildIndex] = edge.ParentIndex
	}

	children := make([]models.Chunk, len(set.Children))
	for i, draft := range set.Children {
		children[i] = models.Chunk{
			ID:         uuid.New(),
			DocID:      doc.ID,
			ChunkIndex: i,
			Content:    draft.Content,
			Page:       draft.Page,
			ChunkType:  models.ChunkTypeChild,
			CreatedAt:  now,
		}
		if parentIdx, ok := parentByChild[i]; ok {
			id := parents[parentIdx].ID
			children[i].ParentChunkID = &id
		}
	}

	return doc, parents, children, nil
}

// writeVectors pushes both collections concurrently; either failure
// triggers compensation in the caller.
func (s *ingestionServiceImpl) writeVectors(ctx context.Context, doc *models.Document, parents, children []models.Chunk, embeddings [][]float32) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.vectors.UpsertChildren(gctx, doc, children, embeddings)
	})
	g.Go(func() error {
		return s.vectors.UpsertParents(gctx, doc, parents)
	})
	return g.Wait()
}

// compensate undoes a metadata commit after the vector write failed.
// Best effort on the vector side, since a partial upsert may exist.
func (s *ingestionServiceImpl) compensate(ctx context.Context, doc *models.Document) {
	if err := s.vectors.DeleteByDoc(ctx, doc.TenantID, doc.ID); err != nil {
		log.Printf("compensation: failed to clear vectors for doc %s: %v", doc.ID, err)
	}
	if err := s.store.DeleteDocument(ctx, doc.TenantID, doc.ID); err != nil {
		log.Printf("compensation: failed to delete doc %s metadata: %v", doc.ID, err)
	}
}

func (s *ingestionServiceImpl) DeleteDocument(ctx context.Context, reqCtx models.RequestContext, tenantID, docID uuid.UUID) error {
	doc, err := s.store.GetDocument(ctx, tenantID, docID)
	if err != nil {
		return models.DependencyError("failed to look up document", err)
	}
	if doc == nil {
		return models.NewAppError(models.ErrCodeNotFound, fmt.Sprintf("document %s not found", docID), nil)
	}
	if doc.UploadedBy != reqCtx.Principal.UserID {
		err := models.NewAppError(models.ErrCodeAuthorization, "only the uploader may delete a document", nil)
		s.auditDelete(reqCtx, doc, models.AuditOutcomeFailure, err)
		return err
	}

	// Vectors go first so a half-finished delete leaves an unsearchable
	// document rather than dangling vectors.
	if err := s.vectors.DeleteByDoc(ctx, tenantID, docID); err != nil {
		s.auditDelete(reqCtx, doc, models.AuditOutcomeFailure, err)
		return models.DependencyError("failed to remove document vectors", err)
	}
	if err := s.store.DeleteDocument(ctx, tenantID, docID); err != nil {
		s.auditDelete(reqCtx, doc, models.AuditOutcomeFailure, err)
		return models.DependencyError("failed to delete document", err)
	}

	s.auditDelete(reqCtx, doc, models.AuditOutcomeSuccess, nil)
	return nil
}

func (s *ingestionServiceImpl) auditIngest(reqCtx models.RequestContext, req models.IngestRequest, docID uuid.UUID, chunkCount int, outcome models.AuditOutcome, cause error) error {
	event := &models.AuditEvent{
		Log: models.AuditLog{
			TenantID:       req.TenantID,
			UserID:         &reqCtx.Principal.UserID,
			UserEmail:      reqCtx.Principal.Email,
			IPAddress:      reqCtx.IPAddress,
			UserAgent:      reqCtx.UserAgent,
			SessionID:      reqCtx.Principal.SessionID,
			RequestID:      reqCtx.RequestID,
			Category:       models.AuditCategoryModification,
			Type:           "document",
			Action:         "document.ingest",
			Outcome:        outcome,
			ResourceType:   "document",
			ResourceName:   req.Title,
			Department:     req.Department,
			Classification: req.Classification,
		},
		Modification: &models.ModificationAudit{
			TableName_: "documents",
			Operation:  "INSERT",
		},
	}
	if docID != uuid.Nil {
		event.Log.ResourceID = docID.String()
		event.Modification.RecordID = docID.String()
	}
	if outcome == models.AuditOutcomeSuccess {
		event.Modification.NewValues = datatypes.JSON(fmt.Sprintf(`{"chunk_count":%d}`, chunkCount))
	}
	if cause != nil {
		event.Log.ErrorMessage = cause.Error()
	}

	if _, err := s.audit.Log(event); err != nil {
		log.Printf("audit enqueue failed for document.ingest: %v", err)
		return err
	}
	return nil
}

func (s *ingestionServiceImpl) auditDelete(reqCtx models.RequestContext, doc *models.Document, outcome models.AuditOutcome, cause error) {
	event := &models.AuditEvent{
		Log: models.AuditLog{
			TenantID:       doc.TenantID,
			UserID:         &reqCtx.Principal.UserID,
			UserEmail:      reqCtx.Principal.Email,
			IPAddress:      reqCtx.IPAddress,
			UserAgent:      reqCtx.UserAgent,
			SessionID:      reqCtx.Principal.SessionID,
			RequestID:      reqCtx.RequestID,
			Category:       models.AuditCategoryModification,
			Type:           "document",
			Action:         "document.delete",
			Outcome:        outcome,
			ResourceType:   "document",
			ResourceID:     doc.ID.String(),
			ResourceName:   doc.Title,
			Department:     doc.Department,
			Classification: doc.Classification,
		},
		Modification: &models.ModificationAudit{
			TableName_: "documents",
			RecordID:   doc.ID.String(),
			Operation:  "DELETE",
		},
	}
	if cause != nil {
		event.Log.ErrorMessage = cause.Error()
	}
	if _, err := s.audit.Log(event); err != nil {
		log.Printf("audit enqueue failed for document.delete: %v", err)
	}
}
