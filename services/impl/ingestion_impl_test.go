package impl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

type ingestFixture struct {
	service  services.IngestionService
	store    *fakeMetadataStore
	vectors  *fakeVectorStore
	audit    *fakeAuditService
	tenantID uuid.UUID
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	cfg := testIngestConfig()
	cfg.FlatModeThreshold = 100

	chunker, err := NewChunker(cfg)
	require.NoError(t, err)

	store := newFakeMetadataStore()
	vectors := &fakeVectorStore{}
	audit := &fakeAuditService{}
	tenantID := uuid.New()
	store.addDepartment(tenantID, "engineering")

	parser := NewDocumentParser(&fakeInspector{}, &fakePDFConverter{}, &fakePDFConverter{}, &fakeOfficeConverter{})
	service := NewIngestionService(cfg, parser, chunker, NewFakeEmbedder(8), store, vectors, audit)

	return &ingestFixture{
		service:  service,
		store:    store,
		vectors:  vectors,
		audit:    audit,
		tenantID: tenantID,
	}
}

func (f *ingestFixture) request() models.IngestRequest {
	return models.IngestRequest{
		TenantID:       f.tenantID,
		UploadedBy:     uuid.New(),
		Title:          "Engineering Handbook",
		Filename:       "handbook.md",
		Department:     "engineering",
		Classification: models.ClassificationInternal,
		Data:           []byte("# Handbook\n\n" + strings.Repeat("Deploys happen twice a week after review. ", 120)),
	}
}

func TestIngest_CommitsMetadataThenVectors(t *testing.T) {
	f := newIngestFixture(t)

	result, err := f.service.Ingest(context.Background(), models.RequestContext{}, f.request())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, result.DocID)
	assert.Greater(t, result.ParentCount, 0)
	assert.Greater(t, result.ChildCount, 0)
	assert.Empty(t, result.AuditStatus)

	doc, err := f.store.GetDocument(context.Background(), f.tenantID, result.DocID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, result.ChildCount, doc.ChunkCount)

	assert.Equal(t, 1, f.vectors.childUpserts)
	assert.Equal(t, 1, f.vectors.parentUpserts)

	event := f.audit.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, models.AuditOutcomeSuccess, event.Log.Outcome)
	assert.Equal(t, "document.ingest", event.Log.Action)
	require.NotNil(t, event.Modification)
	assert.Equal(t, result.DocID.String(), event.Modification.RecordID)
}

func TestIngest_ShortDocumentGoesFlat(t *testing.T) {
	f := newIngestFixture(t)

	req := f.request()
	req.Data = []byte("a short note about the deploy window")

	result, err := f.service.Ingest(context.Background(), models.RequestContext{}, req)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ParentCount)
	assert.Equal(t, 1, result.ChildCount)
}

func TestIngest_VectorFailureCompensates(t *testing.T) {
	f := newIngestFixture(t)
	f.vectors.upsertChildrenErr = errors.New("qdrant unavailable")

	_, err := f.service.Ingest(context.Background(), models.RequestContext{}, f.request())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeDependencyFailure, models.AsAppError(err).Code)

	// The committed metadata row must be rolled back and any partial
	// vector write cleared.
	require.Len(t, f.store.deleteCalls, 1)
	require.Len(t, f.vectors.deleteCalls, 1)
	assert.Equal(t, f.store.deleteCalls[0], f.vectors.deleteCalls[0])

	doc, err := f.store.GetDocument(context.Background(), f.tenantID, f.store.deleteCalls[0])
	require.NoError(t, err)
	assert.Nil(t, doc)

	event := f.audit.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, models.AuditOutcomeFailure, event.Log.Outcome)
}

func TestIngest_UnknownDepartment(t *testing.T) {
	f := newIngestFixture(t)

	req := f.request()
	req.Department = "marketing"

	_, err := f.service.Ingest(context.Background(), models.RequestContext{}, req)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeValidation, models.AsAppError(err).Code)
	assert.Equal(t, 0, f.vectors.childUpserts)
}

func TestIngest_InvalidClassification(t *testing.T) {
	f := newIngestFixture(t)

	req := f.request()
	req.Classification = "top-secret"

	_, err := f.service.Ingest(context.Background(), models.RequestContext{}, req)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeValidation, models.AsAppError(err).Code)
}

func TestIngest_UnsupportedFormat(t *testing.T) {
	f := newIngestFixture(t)

	req := f.request()
	req.Filename = "handbook.tar.gz"

	_, err := f.service.Ingest(context.Background(), models.RequestContext{}, req)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeValidation, models.AsAppError(err).Code)
}

func TestIngest_AuditSaturationReportsPartial(t *testing.T) {
	f := newIngestFixture(t)
	f.audit.logErr = models.ErrAuditSaturated

	result, err := f.service.Ingest(context.Background(), models.RequestContext{}, f.request())
	require.NoError(t, err)
	assert.Equal(t, "partial", result.AuditStatus)
}

func TestDeleteDocument_OnlyUploader(t *testing.T) {
	f := newIngestFixture(t)

	req := f.request()
	result, err := f.service.Ingest(context.Background(), models.RequestContext{}, req)
	require.NoError(t, err)

	stranger := models.RequestContext{Principal: models.Principal{UserID: uuid.New()}}
	err = f.service.DeleteDocument(context.Background(), stranger, f.tenantID, result.DocID)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeAuthorization, models.AsAppError(err).Code)

	owner := models.RequestContext{Principal: models.Principal{UserID: req.UploadedBy}}
	err = f.service.DeleteDocument(context.Background(), owner, f.tenantID, result.DocID)
	require.NoError(t, err)

	doc, err := f.store.GetDocument(context.Background(), f.tenantID, result.DocID)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestDeleteDocument_NotFound(t *testing.T) {
	f := newIngestFixture(t)

	err := f.service.DeleteDocument(context.Background(), models.RequestContext{}, f.tenantID, uuid.New())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeNotFound, models.AsAppError(err).Code)
}
