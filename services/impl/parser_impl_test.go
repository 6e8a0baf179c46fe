package impl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

type fakeInspector struct {
	info  services.PDFInfo
	stats services.PDFPageStats
	err   error
}

func (f *fakeInspector) Inspect(_ context.Context, _ []byte) (*services.PDFInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info := f.info
	return &info, nil
}

func (f *fakeInspector) PageStats(_ context.Context, _ []byte, _ int) (*services.PDFPageStats, error) {
	stats := f.stats
	return &stats, nil
}

type fakePDFConverter struct {
	output string
	err    error
	calls  int
}

func (f *fakePDFConverter) Convert(_ context.Context, _ []byte) (string, error) {
	f.calls++
	return f.output, f.err
}

type fakeOfficeConverter struct {
	output string
	err    error
}

func (f *fakeOfficeConverter) Convert(_ context.Context, _ string, _ []byte) (string, error) {
	return f.output, f.err
}

func newTestParser(inspector *fakeInspector, fast, layout *fakePDFConverter) services.DocumentParser {
	return NewDocumentParser(inspector, fast, layout, &fakeOfficeConverter{output: "office markdown"})
}

func TestParse_MarkdownPassthrough(t *testing.T) {
	parser := newTestParser(&fakeInspector{}, &fakePDFConverter{}, &fakePDFConverter{})

	text, err := parser.Parse(context.Background(), "notes.md", []byte("# hello"))
	require.NoError(t, err)
	assert.Equal(t, "# hello", text)

	text, err = parser.Parse(context.Background(), "NOTES.TXT", []byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", text)
}

func TestParse_OfficeFormats(t *testing.T) {
	parser := newTestParser(&fakeInspector{}, &fakePDFConverter{}, &fakePDFConverter{})

	for _, name := range []string{"deck.pptx", "report.docx", "sheet.xlsx", "legacy.xls"} {
		text, err := parser.Parse(context.Background(), name, []byte{1})
		require.NoError(t, err, name)
		assert.Equal(t, "office markdown", text)
	}
}

func TestParse_UnsupportedExtension(t *testing.T) {
	parser := newTestParser(&fakeInspector{}, &fakePDFConverter{}, &fakePDFConverter{})

	_, err := parser.Parse(context.Background(), "archive.zip", []byte{1})
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
}

func TestParse_EmptyFile(t *testing.T) {
	parser := newTestParser(&fakeInspector{}, &fakePDFConverter{}, &fakePDFConverter{})

	_, err := parser.Parse(context.Background(), "doc.pdf", nil)
	assert.ErrorIs(t, err, models.ErrParseFailure)
}

func TestParse_SimplePDFUsesFastConverter(t *testing.T) {
	inspector := &fakeInspector{
		info: services.PDFInfo{
			Producer:      "Microsoft Word",
			HasStructTree: true,
			PageCount:     3,
		},
		stats: services.PDFPageStats{TextChars: 2000, BlockCount: 12},
	}
	fast := &fakePDFConverter{output: "fast text"}
	layout := &fakePDFConverter{output: "layout text"}
	parser := newTestParser(inspector, fast, layout)

	text, err := parser.Parse(context.Background(), "memo.pdf", []byte{1})
	require.NoError(t, err)
	assert.Equal(t, "fast text", text)
	assert.Equal(t, 1, fast.calls)
	assert.Equal(t, 0, layout.calls)
}

func TestParse_ScannedPDFUsesLayoutConverter(t *testing.T) {
	// Image-only pages with repeated row positions read as a scan of a
	// table-heavy document.
	inspector := &fakeInspector{
		info: services.PDFInfo{
			Producer:  "Adobe InDesign",
			PageCount: 2,
		},
		stats: services.PDFPageStats{TextChars: 10, ImageCount: 1, DuplicateYs: 12},
	}
	fast := &fakePDFConverter{output: "fast text"}
	layout := &fakePDFConverter{output: "layout text"}
	parser := newTestParser(inspector, fast, layout)

	text, err := parser.Parse(context.Background(), "scan.pdf", []byte{1})
	require.NoError(t, err)
	assert.Equal(t, "layout text", text)
	assert.Equal(t, 0, fast.calls)
	assert.Equal(t, 1, layout.calls)
}

func TestParse_InspectorFailure(t *testing.T) {
	inspector := &fakeInspector{err: errors.New("corrupt xref")}
	parser := newTestParser(inspector, &fakePDFConverter{}, &fakePDFConverter{})

	_, err := parser.Parse(context.Background(), "broken.pdf", []byte{1})
	assert.ErrorIs(t, err, models.ErrParseFailure)
}

func TestComplexityScore_WordProducerFloorsAtZero(t *testing.T) {
	inspector := &fakeInspector{
		info: services.PDFInfo{
			Producer:      "Word for Mac",
			HasStructTree: false,
			PageCount:     0,
		},
	}
	parser := NewDocumentParser(inspector, &fakePDFConverter{}, &fakePDFConverter{}, &fakeOfficeConverter{}).(*documentParserImpl)

	score, err := parser.complexityScore(context.Background(), []byte{1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}
