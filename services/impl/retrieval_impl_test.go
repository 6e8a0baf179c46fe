package impl

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

type retrievalFixture struct {
	service  services.RetrievalService
	store    *fakeMetadataStore
	vectors  *fakeVectorStore
	audit    *fakeAuditService
	tenantID uuid.UUID
	userID   uuid.UUID
}

func newRetrievalFixture(t *testing.T, redactor services.PIIRedactor) *retrievalFixture {
	t.Helper()

	store := newFakeMetadataStore()
	vectors := &fakeVectorStore{}
	audit := &fakeAuditService{}
	tenantID := uuid.New()
	userID := uuid.New()

	store.grants[userID] = []models.AccessGrant{{Department: "engineering", Role: "lead"}}

	if redactor == nil {
		redactor = NewPIIRedactorWithWorkers(2)
	}

	cfg := &config.RetrievalConfig{
		DefaultTopK:         5,
		MaxTopK:             50,
		SimilarityThreshold: 0.35,
		CandidateMultiplier: 3,
	}
	service := NewRetrievalService(cfg, NewFakeEmbedder(8), vectors, store,
		NewRBACResolver(store, testAccessMatrix()), redactor, audit)

	return &retrievalFixture{
		service:  service,
		store:    store,
		vectors:  vectors,
		audit:    audit,
		tenantID: tenantID,
		userID:   userID,
	}
}

func (f *retrievalFixture) request() models.QueryRequest {
	return models.QueryRequest{
		TenantID: f.tenantID,
		UserID:   f.userID,
		Question: "what is the deploy cadence",
		K:        5,
	}
}

func TestQuery_NoGrantsShortCircuits(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	f.store.grants = map[uuid.UUID][]models.AccessGrant{}

	resp, err := f.service.Query(context.Background(), models.RequestContext{}, f.request())
	require.NoError(t, err)

	assert.Empty(t, resp.Results)
	// The vector store must never be consulted for a deny-all user.
	assert.Equal(t, 0, f.vectors.searchCalls)

	event := f.audit.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, models.AuditOutcomeSuccess, event.Log.Outcome)
	assert.Equal(t, 0, event.Query.ChunksRetrieved)
}

func TestQuery_ResultsOrderedByScoreWithStableTie(t *testing.T) {
	f := newRetrievalFixture(t, nil)

	docA := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	docB := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	f.vectors.searchHits = []services.VectorHit{
		{ChunkID: uuid.New(), DocID: docB, ChunkIndex: 4, Content: "tie b", Score: 0.5},
		{ChunkID: uuid.New(), DocID: docA, ChunkIndex: 9, Content: "tie a", Score: 0.5},
		{ChunkID: uuid.New(), DocID: docA, ChunkIndex: 1, Content: "best", Score: 0.9},
	}

	resp, err := f.service.Query(context.Background(), models.RequestContext{}, f.request())
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, "best", resp.Results[0].Content)
	// Equal scores break on (doc id, chunk index).
	assert.Equal(t, "tie a", resp.Results[1].Content)
	assert.Equal(t, "tie b", resp.Results[2].Content)
}

func TestQuery_RedactsPIIAndFlagsResponse(t *testing.T) {
	f := newRetrievalFixture(t, nil)

	f.vectors.searchHits = []services.VectorHit{
		{ChunkID: uuid.New(), DocID: uuid.New(), Content: "escalate to sam.lee@acme.example.com", Score: 0.8},
		{ChunkID: uuid.New(), DocID: uuid.New(), Content: "nothing sensitive here", Score: 0.6},
	}

	resp, err := f.service.Query(context.Background(), models.RequestContext{}, f.request())
	require.NoError(t, err)

	assert.Contains(t, resp.Results[0].Content, "<EMAIL>")
	assert.True(t, resp.PIIRedacted)
	assert.Contains(t, resp.PIITypes, "EMAIL")

	event := f.audit.lastEvent()
	require.NotNil(t, event)
	assert.True(t, event.Log.PIIAccessed)
	assert.True(t, event.Log.DataRedacted)
	assert.Equal(t, 2, event.Query.ChunksRetrieved)
}

func TestQuery_RedactorFailureFailsClosed(t *testing.T) {
	f := newRetrievalFixture(t, &failingRedactor{err: errors.New("pool exhausted")})

	f.vectors.searchHits = []services.VectorHit{
		{ChunkID: uuid.New(), DocID: uuid.New(), Content: "raw content", Score: 0.7},
	}

	_, err := f.service.Query(context.Background(), models.RequestContext{}, f.request())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeDependencyFailure, models.AsAppError(err).Code)

	event := f.audit.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, models.AuditOutcomeFailure, event.Log.Outcome)
}

func TestQuery_ParentExpansionUsesParentContent(t *testing.T) {
	f := newRetrievalFixture(t, nil)

	parentID := uuid.New()
	docID := uuid.New()
	f.store.parents[parentID] = models.Chunk{
		ID:         parentID,
		DocID:      docID,
		ChunkIndex: 0,
		Content:    "full parent context around the matching sentence",
		ChunkType:  models.ChunkTypeParent,
	}
	f.vectors.parentHits = []services.ParentHit{
		{ParentChunkID: parentID, DocID: docID, BestChildScore: 0.82, Title: "Handbook"},
	}

	req := f.request()
	req.ExpandParents = true
	resp, err := f.service.Query(context.Background(), models.RequestContext{}, req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	result := resp.Results[0]
	assert.Equal(t, "full parent context around the matching sentence", result.Content)
	assert.Equal(t, float32(0.82), result.Score)
	assert.Equal(t, models.ChunkTypeParent, result.Metadata.ChunkType)
	assert.Equal(t, parentID, result.Metadata.ChunkID)
}

func TestQuery_ParentMissingFromStoreIsSkipped(t *testing.T) {
	f := newRetrievalFixture(t, nil)

	f.vectors.parentHits = []services.ParentHit{
		{ParentChunkID: uuid.New(), DocID: uuid.New(), BestChildScore: 0.9},
	}

	req := f.request()
	req.ExpandParents = true
	resp, err := f.service.Query(context.Background(), models.RequestContext{}, req)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestQuery_EmptyQuestionRejected(t *testing.T) {
	f := newRetrievalFixture(t, nil)

	req := f.request()
	req.Question = "   "
	_, err := f.service.Query(context.Background(), models.RequestContext{}, req)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeValidation, models.AsAppError(err).Code)
}

func TestQuery_AuditSaturationReportsPartial(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	f.audit.logErr = models.ErrAuditSaturated

	resp, err := f.service.Query(context.Background(), models.RequestContext{}, f.request())
	require.NoError(t, err)
	assert.Equal(t, "partial", resp.AuditStatus)
}

func TestGroupByParent_KeepsBestChildScore(t *testing.T) {
	parentA := uuid.New()
	parentB := uuid.New()
	children := []services.VectorHit{
		{ParentChunkID: &parentA, ChunkIndex: 3, Score: 0.6},
		{ParentChunkID: &parentB, ChunkIndex: 1, Score: 0.8},
		{ParentChunkID: &parentA, ChunkIndex: 7, Score: 0.9},
		{ParentChunkID: nil, ChunkIndex: 2, Score: 0.95}, // flat child, dropped
	}

	hits := GroupByParent(children, 5)
	require.Len(t, hits, 2)

	assert.Equal(t, parentA, hits[0].ParentChunkID)
	assert.Equal(t, float32(0.9), hits[0].BestChildScore)
	assert.Equal(t, 7, hits[0].ChildIndex)
	assert.Equal(t, parentB, hits[1].ParentChunkID)
}

func TestGroupByParent_TruncatesToK(t *testing.T) {
	var children []services.VectorHit
	for i := 0; i < 10; i++ {
		id := uuid.New()
		children = append(children, services.VectorHit{ParentChunkID: &id, Score: float32(i) / 10})
	}
	hits := GroupByParent(children, 3)
	assert.Len(t, hits, 3)
	// Highest scores survive truncation.
	assert.Equal(t, float32(0.9), hits[0].BestChildScore)
}
