package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/models"
)

// DocumentParser turns an uploaded file into unified markdown text.
// Dispatch is by filename extension; PDFs are routed between a fast and a
// layout-preserving converter based on a complexity score.
type DocumentParser interface {
	Parse(ctx context.Context, filename string, data []byte) (string, error)
}

// PDFPageStats are the per-page signals sampled for complexity scoring.
type PDFPageStats struct {
	TextChars   int
	ImageCount  int
	BlockCount  int
	DuplicateYs int
}

// PDFInfo is the document-level metadata consulted by the complexity
// scorer.
type PDFInfo struct {
	Producer      string
	Creator       string
	HasStructTree bool
	PageCount     int
}

// PDFInspector exposes the signals the complexity scorer needs without
// binding the core to a specific PDF library.
type PDFInspector interface {
	Inspect(ctx context.Context, data []byte) (*PDFInfo, error)
	PageStats(ctx context.Context, data []byte, page int) (*PDFPageStats, error)
}

// PDFConverter extracts markdown from a PDF. The fast converter does plain
// text extraction; the layout converter preserves tables and columns at a
// much higher CPU cost.
type PDFConverter interface {
	Convert(ctx context.Context, data []byte) (string, error)
}

// OfficeConverter turns docx/pptx/xls/xlsx bytes into markdown.
type OfficeConverter interface {
	Convert(ctx context.Context, filename string, data []byte) (string, error)
}

// Chunker splits markdown into parent and child segments. Flat mode emits
// children only.
type Chunker interface {
	Chunk(markdown string) (*models.ChunkSet, error)
	ChunkFlat(markdown string) (*models.ChunkSet, error)
}

// Embedder normalises pluggable embedding providers to fixed-dimension
// float vectors. Implementations are selected at startup via
// NewEmbedder(kind, cfg); unknown kinds fail fast.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// IngestionService orchestrates parse -> chunk -> embed -> persist for a
// single document. The document and its chunks commit to the metadata
// store before any vector write; a vector-store failure after that commit
// is compensated by deleting both sides.
type IngestionService interface {
	Ingest(ctx context.Context, reqCtx models.RequestContext, req models.IngestRequest) (*models.IngestResult, error)
	DeleteDocument(ctx context.Context, reqCtx models.RequestContext, tenantID, docID uuid.UUID) error
}
