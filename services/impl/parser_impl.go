package impl

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

const (
	// complexityThreshold routes a PDF to the layout-preserving converter
	// when the per-page score reaches it.
	complexityThreshold = 7.0
	// maxSampledPages bounds the cost of scoring.
	maxSampledPages = 5

	// Per-page scoring signals.
	scanTextCharFloor = 50
	denseBlockCount   = 50
	duplicateYFloor   = 5
)

type documentParserImpl struct {
	inspector  services.PDFInspector
	fastPDF    services.PDFConverter
	layoutPDF  services.PDFConverter
	office     services.OfficeConverter
}

// NewDocumentParser wires the format dispatcher over the pluggable
// converter backends. Raw parser libraries live behind the converter
// interfaces; the dispatcher owns only format detection and the PDF
// complexity decision.
func NewDocumentParser(
	inspector services.PDFInspector,
	fastPDF services.PDFConverter,
	layoutPDF services.PDFConverter,
	office services.OfficeConverter,
) services.DocumentParser {
	return &documentParserImpl{
		inspector: inspector,
		fastPDF:   fastPDF,
		layoutPDF: layoutPDF,
		office:    office,
	}
}

func (p *documentParserImpl) Parse(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file %s", models.ErrParseFailure, filename)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return p.parsePDF(ctx, filename, data)
	case ".docx", ".pptx", ".xls", ".xlsx":
		text, err := p.office.Convert(ctx, filename, data)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", models.ErrParseFailure, filename, err)
		}
		return text, nil
	case ".md", ".markdown", ".txt":
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
	}
}

// parsePDF scores the document's layout complexity and picks the cheap
// extractor unless the heuristics predict deep layout analysis is worth
// paying for.
func (p *documentParserImpl) parsePDF(ctx context.Context, filename string, data []byte) (string, error) {
	score, err := p.complexityScore(ctx, data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrParseFailure, filename, err)
	}

	converter := p.fastPDF
	if score >= complexityThreshold {
		converter = p.layoutPDF
	}
	log.Printf("parser: %s complexity=%.2f layout=%v", filename, score, score >= complexityThreshold)

	text, err := converter.Convert(ctx, data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrParseFailure, filename, err)
	}
	return text, nil
}

// complexityScore samples up to the first five pages and sums weighted
// signals, normalised by the number of sampled pages.
func (p *documentParserImpl) complexityScore(ctx context.Context, data []byte) (float64, error) {
	info, err := p.inspector.Inspect(ctx, data)
	if err != nil {
		return 0, err
	}

	score := 0.0
	if !info.HasStructTree {
		score += 1
	}

	producer := strings.ToLower(info.Producer + " " + info.Creator)
	if strings.Contains(producer, "indesign") || strings.Contains(producer, "latex") || strings.Contains(producer, "tex") {
		score += 2
	}
	if strings.Contains(producer, "word") {
		score -= 1
		if score < 0 {
			score = 0
		}
	}

	sampled := info.PageCount
	if sampled > maxSampledPages {
		sampled = maxSampledPages
	}
	if sampled == 0 {
		return score, nil
	}

	for page := 0; page < sampled; page++ {
		stats, err := p.inspector.PageStats(ctx, data, page)
		if err != nil {
			return 0, err
		}
		if stats.TextChars < scanTextCharFloor && stats.ImageCount >= 1 {
			score += 5
		}
		if stats.DuplicateYs > duplicateYFloor {
			score += 3
		}
		if stats.BlockCount > denseBlockCount {
			score += 2
		}
	}

	return score / float64(sampled), nil
}
