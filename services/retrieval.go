package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/models"
)

// VectorHit is one child-chunk match from the vector store.
type VectorHit struct {
	ChunkID        uuid.UUID
	DocID          uuid.UUID
	ParentChunkID  *uuid.UUID
	ChunkIndex     int
	Content        string
	Score          float32
	Department     string
	Classification models.Classification
	Title          string
	Page           *int
}

// ParentHit is one parent chunk selected by parent expansion: the parent
// whose best-matching child cleared the threshold, scored by that child.
type ParentHit struct {
	ParentChunkID  uuid.UUID
	DocID          uuid.UUID
	BestChildScore float32
	ChildIndex     int
	Department     string
	Classification models.Classification
	Title          string
}

// VectorStore indexes child-chunk embeddings and answers filtered top-k
// cosine searches. Every call is tenant-scoped; the filter predicates are
// the disjunction of (department AND classification) pairs the caller is
// allowed to see.
type VectorStore interface {
	EnsureCollections(ctx context.Context) error
	UpsertChildren(ctx context.Context, doc *models.Document, children []models.Chunk, embeddings [][]float32) error
	UpsertParents(ctx context.Context, doc *models.Document, parents []models.Chunk) error
	Search(ctx context.Context, tenantID uuid.UUID, queryVec []float32, filters []models.AccessPair, k int, threshold float32) ([]VectorHit, error)
	SearchWithParentExpansion(ctx context.Context, tenantID uuid.UUID, queryVec []float32, filters []models.AccessPair, k int, threshold float32) ([]ParentHit, error)
	DeleteByDoc(ctx context.Context, tenantID, docID uuid.UUID) error
	Close() error
}

// RedactionReport describes what the redactor found across a batch.
type RedactionReport struct {
	Found bool
	Types []string
}

// PIIRedactor replaces PII spans with typed tags such as <EMAIL>. Order
// and count of the input texts are preserved.
type PIIRedactor interface {
	Redact(ctx context.Context, texts []string) ([]string, *RedactionReport, error)
}

// RBACResolver computes the (department, classification) pairs a user's
// grants map to under the access matrix. An empty result means deny all.
type RBACResolver interface {
	FiltersFor(ctx context.Context, tenantID, userID uuid.UUID) ([]models.AccessPair, error)
}

// RetrievalService answers a natural-language query with RBAC-filtered,
// PII-redacted chunks ranked by similarity.
type RetrievalService interface {
	Query(ctx context.Context, reqCtx models.RequestContext, req models.QueryRequest) (*models.QueryResponse, error)
}
