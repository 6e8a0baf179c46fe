package impl

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-rag/sentinel/config"
)

func testIngestConfig() *config.IngestConfig {
	return &config.IngestConfig{
		ParentChunkSize:    2000,
		ParentChunkOverlap: 200,
		ChildChunkSize:     400,
		ChildChunkOverlap:  50,
	}
}

func TestNewChunker_RejectsBadSizes(t *testing.T) {
	cfg := testIngestConfig()
	cfg.ParentChunkSize = 300
	_, err := NewChunker(cfg)
	assert.Error(t, err)

	cfg = testIngestConfig()
	cfg.ChildChunkOverlap = 400
	_, err = NewChunker(cfg)
	assert.Error(t, err)
}

func TestChunk_EveryChildHasParentEdge(t *testing.T) {
	chunker, err := NewChunker(testIngestConfig())
	require.NoError(t, err)

	doc := "# Overview\n\n" + strings.Repeat("The quarterly report covers revenue, expenses and headcount. ", 80) +
		"\n\n## Details\n\n" + strings.Repeat("Each department files a summary with the controller. ", 80)

	set, err := chunker.Chunk(doc)
	require.NoError(t, err)
	require.NotEmpty(t, set.Parents)
	require.NotEmpty(t, set.Children)
	require.Len(t, set.Edges, len(set.Children))

	linked := make(map[int]bool)
	for _, edge := range set.Edges {
		assert.GreaterOrEqual(t, edge.ParentIndex, 0)
		assert.Less(t, edge.ParentIndex, len(set.Parents))
		linked[edge.ChildIndex] = true
	}
	for i := range set.Children {
		assert.True(t, linked[i], "child %d has no parent edge", i)
	}
}

func TestChunk_RespectsSizeLimits(t *testing.T) {
	cfg := testIngestConfig()
	chunker, err := NewChunker(cfg)
	require.NoError(t, err)

	doc := strings.Repeat("Sentence about retention policy. ", 500)
	set, err := chunker.Chunk(doc)
	require.NoError(t, err)

	for _, parent := range set.Parents {
		assert.LessOrEqual(t, len(parent.Content), cfg.ParentChunkSize+cfg.ParentChunkOverlap)
	}
	for _, child := range set.Children {
		assert.LessOrEqual(t, len(child.Content), cfg.ChildChunkSize+cfg.ChildChunkOverlap)
	}
}

func TestChunk_ChildContentComesFromItsParent(t *testing.T) {
	chunker, err := NewChunker(testIngestConfig())
	require.NoError(t, err)

	doc := "# Policy\n\n" + strings.Repeat("Expense claims require director approval above the threshold. ", 120)
	set, err := chunker.Chunk(doc)
	require.NoError(t, err)

	for _, edge := range set.Edges {
		child := set.Children[edge.ChildIndex]
		parent := set.Parents[edge.ParentIndex]
		assert.Contains(t, parent.Content, strings.TrimSpace(child.Content))
	}
}

func TestChunk_HeaderSections(t *testing.T) {
	chunker, err := NewChunker(testIngestConfig())
	require.NoError(t, err)

	doc := "preamble text before any header\n\n# First\n\nbody one\n\n## Second\n\nbody two"
	set, err := chunker.Chunk(doc)
	require.NoError(t, err)

	// Preamble plus two header sections, all small enough to be one
	// parent each.
	require.Len(t, set.Parents, 3)
	assert.Equal(t, "", set.Parents[0].Header)
	assert.Equal(t, "First", set.Parents[1].Header)
	assert.Equal(t, "Second", set.Parents[2].Header)
	// Header lines stay inside the payload.
	assert.Contains(t, set.Parents[1].Content, "# First")
}

func TestChunkFlat_NoParentsNoEdges(t *testing.T) {
	chunker, err := NewChunker(testIngestConfig())
	require.NoError(t, err)

	set, err := chunker.ChunkFlat(strings.Repeat("short note content. ", 100))
	require.NoError(t, err)
	assert.Empty(t, set.Parents)
	assert.Empty(t, set.Edges)
	assert.NotEmpty(t, set.Children)
	assert.True(t, set.Flat())
}

func TestChunk_EmptyInput(t *testing.T) {
	chunker, err := NewChunker(testIngestConfig())
	require.NoError(t, err)

	_, err = chunker.Chunk("   \n\n  ")
	assert.Error(t, err)
	_, err = chunker.ChunkFlat("")
	assert.Error(t, err)
}

func TestRecursiveSplit_NoContentLost(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 100)
	pieces := recursiveSplit(text, separatorPriority, 200, 0)
	require.NotEmpty(t, pieces)

	assert.Equal(t, text, strings.Join(pieces, ""))
}

func TestHardSplit_OverlapCarries(t *testing.T) {
	text := strings.Repeat("x", 1000)
	pieces := hardSplit(text, 400, 50)
	require.Greater(t, len(pieces), 1)
	for i := 0; i < len(pieces)-1; i++ {
		assert.Len(t, pieces[i], 400)
	}
}

func TestHardSplit_MultibyteRuneBoundaries(t *testing.T) {
	// Each rune is 3 bytes; byte-indexed cuts would land mid-character.
	text := strings.Repeat("日", 500)
	pieces := hardSplit(text, 400, 50)
	require.Greater(t, len(pieces), 1)

	for i, piece := range pieces {
		assert.True(t, utf8.ValidString(piece), "piece %d is not valid UTF-8", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(piece), 400)
	}
	assert.Equal(t, 400, utf8.RuneCountInString(pieces[0]))
}

func TestChunkFlat_MultibyteDocumentStaysValid(t *testing.T) {
	cfg := testIngestConfig()
	chunker, err := NewChunker(cfg)
	require.NoError(t, err)

	// No ASCII separators anywhere, so splitting bottoms out in the hard
	// character cut.
	set, err := chunker.ChunkFlat(strings.Repeat("社内規程の保存期間は分類によって決まる。", 60))
	require.NoError(t, err)
	require.Greater(t, len(set.Children), 1)

	for i, child := range set.Children {
		assert.True(t, utf8.ValidString(child.Content), "child %d is not valid UTF-8", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(child.Content), cfg.ChildChunkSize)
	}
}

func TestChunk_MultibyteOverlapTailStaysValid(t *testing.T) {
	chunker, err := NewChunker(testIngestConfig())
	require.NoError(t, err)

	// Newline separators make mergeSplits carry a rune tail between
	// adjacent chunks.
	line := strings.Repeat("機密文書", 20) + "\n"
	set, err := chunker.Chunk("# 規程\n\n" + strings.Repeat(line, 60))
	require.NoError(t, err)
	require.NotEmpty(t, set.Children)

	for i, parent := range set.Parents {
		assert.True(t, utf8.ValidString(parent.Content), "parent %d is not valid UTF-8", i)
	}
	for i, child := range set.Children {
		assert.True(t, utf8.ValidString(child.Content), "child %d is not valid UTF-8", i)
	}
}
