package impl

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

// retrievalServiceImpl coordinates a query: resolve filters, embed,
// search, optionally expand to parents, redact, audit. RBAC filters are
// resolved fresh per request and pushed down into the vector search, so
// no candidate the user cannot see is ever scored against their query.
type retrievalServiceImpl struct {
	embedder services.Embedder
	vectors  services.VectorStore
	store    services.MetadataStore
	rbac     services.RBACResolver
	redactor services.PIIRedactor
	audit    services.AuditService

	defaultK  int
	maxK      int
	threshold float32
}

func NewRetrievalService(
	cfg *config.RetrievalConfig,
	embedder services.Embedder,
	vectors services.VectorStore,
	store services.MetadataStore,
	rbac services.RBACResolver,
	redactor services.PIIRedactor,
	audit services.AuditService,
) services.RetrievalService {
	return &retrievalServiceImpl{
		embedder:  embedder,
		vectors:   vectors,
		store:     store,
		rbac:      rbac,
		redactor:  redactor,
		audit:     audit,
		defaultK:  cfg.DefaultTopK,
		maxK:      cfg.MaxTopK,
		threshold: float32(cfg.SimilarityThreshold),
	}
}

func (s *retrievalServiceImpl) Query(ctx context.Context, reqCtx models.RequestContext, req models.QueryRequest) (*models.QueryResponse, error) {
	started := time.Now()

	if strings.TrimSpace(req.Question) == "" {
		return nil, models.ValidationError("query text is required", nil)
	}
	k := req.K
	if k <= 0 {
		k = s.defaultK
	}
	if s.maxK > 0 && k > s.maxK {
		k = s.maxK
	}

	filters, err := s.rbac.FiltersFor(ctx, req.TenantID, req.UserID)
	if err != nil {
		s.auditQuery(reqCtx, req, nil, 0, models.AuditOutcomeFailure, err)
		return nil, models.DependencyError("failed to resolve access filters", err)
	}
	if len(filters) == 0 {
		// Deny-all short-circuits before the embedder or the vector
		// store are touched.
		resp := &models.QueryResponse{
			Results:   []models.QueryResult{},
			ElapsedMs: int(time.Since(started).Milliseconds()),
		}
		if err := s.auditQuery(reqCtx, req, resp, 0, models.AuditOutcomeSuccess, nil); err != nil {
			resp.AuditStatus = auditStatusPartial
		}
		return resp, nil
	}

	embedStart := time.Now()
	queryVec, err := s.embedder.EmbedQuery(ctx, req.Question)
	if err != nil {
		s.auditQuery(reqCtx, req, nil, len(filters), models.AuditOutcomeFailure, err)
		return nil, models.DependencyError("failed to embed query", err)
	}
	embedMs := int(time.Since(embedStart).Milliseconds())

	searchStart := time.Now()
	var results []models.QueryResult
	if req.ExpandParents {
		results, err = s.searchExpanded(ctx, req.TenantID, queryVec, filters, k)
	} else {
		results, err = s.searchChildren(ctx, req.TenantID, queryVec, filters, k)
	}
	if err != nil {
		s.auditQuery(reqCtx, req, nil, len(filters), models.AuditOutcomeFailure, err)
		return nil, models.DependencyError("vector search failed", err)
	}
	searchMs := int(time.Since(searchStart).Milliseconds())

	sortResults(results)

	// Redaction is mandatory: if the redactor cannot run, no content
	// leaves the service.
	redactStart := time.Now()
	texts := make([]string, len(results))
	for i := range results {
		texts[i] = results[i].Content
	}
	redacted, report, err := s.redactor.Redact(ctx, texts)
	if err != nil {
		s.auditQuery(reqCtx, req, nil, len(filters), models.AuditOutcomeFailure, err)
		return nil, models.DependencyError("redaction failed", err)
	}
	for i := range results {
		results[i].Content = redacted[i]
	}
	redactMs := int(time.Since(redactStart).Milliseconds())

	resp := &models.QueryResponse{
		Results:      results,
		PIIRedacted:  report.Found,
		PIITypes:     report.Types,
		ElapsedMs:    int(time.Since(started).Milliseconds()),
		FilterCount:  len(filters),
		EmbedTimeMs:  embedMs,
		SearchTimeMs: searchMs,
		RedactTimeMs: redactMs,
	}
	if err := s.auditQuery(reqCtx, req, resp, len(filters), models.AuditOutcomeSuccess, nil); err != nil {
		resp.AuditStatus = auditStatusPartial
	}
	return resp, nil
}

func (s *retrievalServiceImpl) searchChildren(ctx context.Context, tenantID uuid.UUID, queryVec []float32, filters []models.AccessPair, k int) ([]models.QueryResult, error) {
	hits, err := s.vectors.Search(ctx, tenantID, queryVec, filters, k, s.threshold)
	if err != nil {
		return nil, err
	}

	results := make([]models.QueryResult, len(hits))
	for i, hit := range hits {
		results[i] = models.QueryResult{
			Content: hit.Content,
			Score:   hit.Score,
			Metadata: models.ChunkMetadata{
				DocID:          hit.DocID,
				ChunkID:        hit.ChunkID,
				ChunkIndex:     hit.ChunkIndex,
				ChunkType:      models.ChunkTypeChild,
				Department:     hit.Department,
				Classification: hit.Classification,
				Title:          hit.Title,
				Page:           hit.Page,
			},
		}
	}
	return results, nil
}

// searchExpanded swaps matched children for their parents, scoring each
// parent by its best child. Parent content comes from the metadata store.
func (s *retrievalServiceImpl) searchExpanded(ctx context.Context, tenantID uuid.UUID, queryVec []float32, filters []models.AccessPair, k int) ([]models.QueryResult, error) {
	parentHits, err := s.vectors.SearchWithParentExpansion(ctx, tenantID, queryVec, filters, k, s.threshold)
	if err != nil {
		return nil, err
	}
	if len(parentHits) == 0 {
		return []models.QueryResult{}, nil
	}

	ids := make([]uuid.UUID, len(parentHits))
	for i, hit := range parentHits {
		ids[i] = hit.ParentChunkID
	}
	parents, err := s.store.GetParentsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent chunks: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Chunk, len(parents))
	for i := range parents {
		byID[parents[i].ID] = &parents[i]
	}

	results := make([]models.QueryResult, 0, len(parentHits))
	for _, hit := range parentHits {
		parent, ok := byID[hit.ParentChunkID]
		if !ok {
			// The parent was deleted between search and fetch; skip it
			// rather than fail the whole query.
			log.Printf("parent chunk %s missing from metadata store", hit.ParentChunkID)
			continue
		}
		results = append(results, models.QueryResult{
			Content: parent.Content,
			Score:   hit.BestChildScore,
			Metadata: models.ChunkMetadata{
				DocID:          hit.DocID,
				ChunkID:        hit.ParentChunkID,
				ChunkIndex:     parent.ChunkIndex,
				ChunkType:      models.ChunkTypeParent,
				Department:     hit.Department,
				Classification: hit.Classification,
				Title:          hit.Title,
				Page:           parent.Page,
			},
		})
	}
	return results, nil
}

// sortResults orders by score descending with a deterministic
// (doc_id, chunk_index) tiebreak so equal-scored runs are stable.
func sortResults(results []models.QueryResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		a, b := results[i].Metadata, results[j].Metadata
		if a.DocID != b.DocID {
			return a.DocID.String() < b.DocID.String()
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}

func (s *retrievalServiceImpl) auditQuery(reqCtx models.RequestContext, req models.QueryRequest, resp *models.QueryResponse, filterCount int, outcome models.AuditOutcome, cause error) error {
	event := &models.AuditEvent{
		Log: models.AuditLog{
			TenantID:  req.TenantID,
			UserID:    &req.UserID,
			UserEmail: reqCtx.Principal.Email,
			IPAddress: reqCtx.IPAddress,
			UserAgent: reqCtx.UserAgent,
			SessionID: reqCtx.Principal.SessionID,
			RequestID: reqCtx.RequestID,
			Category:  models.AuditCategoryDataAccess,
			Type:      "query",
			Action:    "query.search",
			Outcome:   outcome,
		},
		Query: &models.QueryAudit{
			QueryText:     req.Question,
			TopK:          req.K,
			ExpandParents: req.ExpandParents,
			FilterCount:   filterCount,
		},
	}
	if resp != nil {
		event.Log.PIIAccessed = resp.PIIRedacted
		event.Log.PIITypes = resp.PIITypes
		event.Log.DataRedacted = resp.PIIRedacted
		event.Query.ChunksRetrieved = len(resp.Results)
		event.Query.EmbedTimeMs = resp.EmbedTimeMs
		event.Query.SearchTimeMs = resp.SearchTimeMs
		event.Query.RedactTimeMs = resp.RedactTimeMs
		event.Query.TotalTimeMs = resp.ElapsedMs
	}
	if cause != nil {
		event.Log.ErrorMessage = cause.Error()
	}

	if _, err := s.audit.Log(event); err != nil {
		log.Printf("audit enqueue failed for query.search: %v", err)
		return err
	}
	return nil
}
