package impl

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

// separatorPriority orders the split points tried when a segment exceeds
// its size budget: paragraph, then line, then sentence, then word, then a
// hard character cut.
var separatorPriority = []string{"\n\n\n", "\n\n", "\n", ".", " ", ""}

var headerPattern = regexp.MustCompile(`(?m)^(#{1,3})\s+(.+)$`)

type chunkerImpl struct {
	parentSize    int
	parentOverlap int
	childSize     int
	childOverlap  int
}

// NewChunker creates a structure-aware hierarchical chunker from the
// ingest configuration.
func NewChunker(cfg *config.IngestConfig) (services.Chunker, error) {
	if cfg.ParentChunkSize <= cfg.ChildChunkSize {
		return nil, fmt.Errorf("parent chunk size %d must exceed child chunk size %d", cfg.ParentChunkSize, cfg.ChildChunkSize)
	}
	if cfg.ParentChunkOverlap >= cfg.ParentChunkSize || cfg.ChildChunkOverlap >= cfg.ChildChunkSize {
		return nil, fmt.Errorf("chunk overlap must be smaller than chunk size")
	}
	return &chunkerImpl{
		parentSize:    cfg.ParentChunkSize,
		parentOverlap: cfg.ParentChunkOverlap,
		childSize:     cfg.ChildChunkSize,
		childOverlap:  cfg.ChildChunkOverlap,
	}, nil
}

// Chunk splits markdown along the header hierarchy into parent segments,
// re-splits oversized parents, derives children from each parent and emits
// child->parent edges.
func (c *chunkerImpl) Chunk(markdown string) (*models.ChunkSet, error) {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return nil, fmt.Errorf("empty document")
	}

	sections := splitByHeaders(markdown)

	set := &models.ChunkSet{}
	for _, section := range sections {
		// Oversized sections are re-split; each piece becomes its own
		// parent carrying the section header.
		pieces := recursiveSplit(section.content, separatorPriority, c.parentSize, c.parentOverlap)
		for _, piece := range pieces {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			parentIdx := len(set.Parents)
			set.Parents = append(set.Parents, models.ChunkDraft{
				Content: piece,
				Header:  section.header,
			})

			for _, childText := range recursiveSplit(piece, separatorPriority, c.childSize, c.childOverlap) {
				childText = strings.TrimSpace(childText)
				if childText == "" {
					continue
				}
				set.Edges = append(set.Edges, models.ChunkEdge{
					ChildIndex:  len(set.Children),
					ParentIndex: parentIdx,
				})
				set.Children = append(set.Children, models.ChunkDraft{
					Content: childText,
					Header:  section.header,
				})
			}
		}
	}

	if len(set.Children) == 0 {
		return nil, fmt.Errorf("chunking produced no content")
	}
	return set, nil
}

// ChunkFlat emits a single chunk stream at child size with no parents and
// no edges, used for short documents.
func (c *chunkerImpl) ChunkFlat(markdown string) (*models.ChunkSet, error) {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return nil, fmt.Errorf("empty document")
	}

	set := &models.ChunkSet{}
	for _, text := range recursiveSplit(markdown, separatorPriority, c.childSize, c.childOverlap) {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		set.Children = append(set.Children, models.ChunkDraft{Content: text})
	}

	if len(set.Children) == 0 {
		return nil, fmt.Errorf("chunking produced no content")
	}
	return set, nil
}

type section struct {
	header  string
	content string
}

// splitByHeaders cuts markdown at level 1-3 headers, keeping each header
// line inside its section payload. Text before the first header becomes a
// headerless section.
func splitByHeaders(markdown string) []section {
	locs := headerPattern.FindAllStringIndex(markdown, -1)
	if len(locs) == 0 {
		return []section{{content: markdown}}
	}

	var sections []section
	if locs[0][0] > 0 {
		preamble := strings.TrimSpace(markdown[:locs[0][0]])
		if preamble != "" {
			sections = append(sections, section{content: preamble})
		}
	}

	for i, loc := range locs {
		end := len(markdown)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(markdown[loc[0]:end])
		if body == "" {
			continue
		}
		headerLine := markdown[loc[0]:loc[1]]
		sections = append(sections, section{
			header:  strings.TrimSpace(strings.TrimLeft(headerLine, "# ")),
			content: body,
		})
	}
	return sections
}

// recursiveSplit breaks text into pieces no longer than chunkSize using
// the separator priority list, carrying overlap characters between
// adjacent pieces. The empty-string separator is a hard character cut.
// Sizes and overlaps count runes, never bytes, so multibyte text is
// never cut mid-character.
func recursiveSplit(text string, separators []string, chunkSize, overlap int) []string {
	if utf8.RuneCountInString(text) <= chunkSize {
		return []string{text}
	}

	sep := ""
	var remaining []string
	for i, s := range separators {
		if s == "" {
			sep = ""
			break
		}
		if strings.Contains(text, s) {
			sep = s
			remaining = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return hardSplit(text, chunkSize, overlap)
	}

	parts := strings.Split(text, sep)
	// Re-attach the separator so no payload is lost.
	for i := 0; i < len(parts)-1; i++ {
		parts[i] += sep
	}

	// Pieces still over the limit fall through to the next separator.
	var splits []string
	for _, part := range parts {
		if utf8.RuneCountInString(part) > chunkSize {
			splits = append(splits, recursiveSplit(part, remaining, chunkSize, overlap)...)
		} else {
			splits = append(splits, part)
		}
	}

	return mergeSplits(splits, chunkSize, overlap)
}

// mergeSplits greedily packs sequential splits into chunks up to
// chunkSize runes, seeding each new chunk with the rune tail of the
// previous one.
func mergeSplits(splits []string, chunkSize, overlap int) []string {
	var chunks []string
	current := ""
	currentLen := 0

	for _, split := range splits {
		splitLen := utf8.RuneCountInString(split)
		if current != "" && currentLen+splitLen > chunkSize {
			chunks = append(chunks, current)
			if overlap > 0 && currentLen > overlap {
				tail := []rune(current)
				current = string(tail[len(tail)-overlap:])
				currentLen = overlap
			} else {
				current = ""
				currentLen = 0
			}
		}
		current += split
		currentLen += splitLen
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// hardSplit cuts on rune indexes so a chunk boundary can never land
// inside a multibyte sequence.
func hardSplit(text string, chunkSize, overlap int) []string {
	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
