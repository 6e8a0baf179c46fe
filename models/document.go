package models

import (
	"time"

	"github.com/google/uuid"
)

type ChunkType string

const (
	ChunkTypeParent ChunkType = "parent"
	ChunkTypeChild  ChunkType = "child"
)

// Document is the unit of ingestion. Department and classification are
// fixed once the document is committed.
type Document struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID      `json:"tenant_id" gorm:"type:uuid;index;not null"`
	Title          string         `json:"title" gorm:"not null"`
	Description    string         `json:"description"`
	Filename       string         `json:"filename" gorm:"not null"`
	UploadedBy     uuid.UUID      `json:"uploaded_by" gorm:"type:uuid;index;not null"`
	DepartmentID   uuid.UUID      `json:"department_id" gorm:"type:uuid;not null"`
	Department     string         `json:"department" gorm:"not null"`
	Classification Classification `json:"classification" gorm:"not null"`
	ChunkCount     int            `json:"chunk_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Chunk is a persisted document segment. Parent chunks carry context and
// no embedding; child chunks are the search granule, their vectors live in
// the vector store keyed by the chunk ID. ParentChunkID is nil for parents
// and for children produced in flat-ingest mode.
type Chunk struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	DocID         uuid.UUID  `json:"doc_id" gorm:"type:uuid;index;not null"`
	ParentChunkID *uuid.UUID `json:"parent_chunk_id,omitempty" gorm:"type:uuid;index"`
	ChunkIndex    int        `json:"chunk_index" gorm:"not null"`
	Content       string     `json:"content" gorm:"not null"`
	Page          *int       `json:"page,omitempty"`
	ChunkType     ChunkType  `json:"chunk_type" gorm:"index;not null"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DocumentSummary is the listing shape returned for a user's uploads.
type DocumentSummary struct {
	ID             uuid.UUID      `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Filename       string         `json:"filename"`
	Department     string         `json:"department"`
	Classification Classification `json:"classification"`
	ChunkCount     int            `json:"chunk_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ChunkEdge links a child chunk to its originating parent by slice index,
// as produced by the chunker before IDs are allocated.
type ChunkEdge struct {
	ChildIndex  int `json:"child_index"`
	ParentIndex int `json:"parent_index"`
}

// ChunkDraft is an unpersisted segment emitted by the chunker.
type ChunkDraft struct {
	Content string `json:"content"`
	Header  string `json:"header,omitempty"`
	Page    *int   `json:"page,omitempty"`
}

// ChunkSet is the chunker output: candidate parents, children, and the
// edges linking each child to its parent. In flat mode Parents and Edges
// are empty and Children is the single chunk stream.
type ChunkSet struct {
	Parents  []ChunkDraft `json:"parents"`
	Children []ChunkDraft `json:"children"`
	Edges    []ChunkEdge  `json:"edges"`
}

// Flat reports whether the set was produced without hierarchy.
func (s *ChunkSet) Flat() bool {
	return len(s.Parents) == 0
}
