package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

// converterClient talks to the document conversion sidecar. All heavy
// parsing (PDF layout analysis, office formats) runs there; this side
// only moves bytes and decodes JSON.
type converterClient struct {
	baseURL    string
	httpClient *http.Client
}

func newConverterClient(cfg *config.ConverterConfig) *converterClient {
	return &converterClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// NewPDFInspector returns the sidecar-backed metadata and page-stats
// reader used by complexity scoring.
func NewPDFInspector(cfg *config.ConverterConfig) services.PDFInspector {
	return &pdfInspectorClient{client: newConverterClient(cfg)}
}

// NewFastPDFConverter returns the plain text-extraction converter.
func NewFastPDFConverter(cfg *config.ConverterConfig) services.PDFConverter {
	return &pdfConverterClient{client: newConverterClient(cfg), path: "/convert/pdf/fast"}
}

// NewLayoutPDFConverter returns the layout-preserving converter used for
// complex PDFs.
func NewLayoutPDFConverter(cfg *config.ConverterConfig) services.PDFConverter {
	return &pdfConverterClient{client: newConverterClient(cfg), path: "/convert/pdf/layout"}
}

// NewOfficeConverter returns the docx/pptx/xls/xlsx converter.
func NewOfficeConverter(cfg *config.ConverterConfig) services.OfficeConverter {
	return &officeConverterClient{client: newConverterClient(cfg)}
}

type pdfInspectorClient struct {
	client *converterClient
}

func (c *pdfInspectorClient) Inspect(ctx context.Context, data []byte) (*services.PDFInfo, error) {
	var info services.PDFInfo
	if err := c.client.postFile(ctx, "/inspect", "document.pdf", data, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *pdfInspectorClient) PageStats(ctx context.Context, data []byte, page int) (*services.PDFPageStats, error) {
	var stats services.PDFPageStats
	fields := map[string]string{"page": fmt.Sprintf("%d", page)}
	if err := c.client.postFile(ctx, "/inspect/page", "document.pdf", data, fields, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

type pdfConverterClient struct {
	client *converterClient
	path   string
}

func (c *pdfConverterClient) Convert(ctx context.Context, data []byte) (string, error) {
	var resp struct {
		Markdown string `json:"markdown"`
	}
	if err := c.client.postFile(ctx, c.path, "document.pdf", data, nil, &resp); err != nil {
		return "", err
	}
	return resp.Markdown, nil
}

type officeConverterClient struct {
	client *converterClient
}

func (c *officeConverterClient) Convert(ctx context.Context, filename string, data []byte) (string, error) {
	var resp struct {
		Markdown string `json:"markdown"`
	}
	if err := c.client.postFile(ctx, "/convert/office", filename, data, nil, &resp); err != nil {
		return "", err
	}
	return resp.Markdown, nil
}

// postFile sends a multipart upload and decodes the JSON response into
// out. Non-2xx responses surface as parse failures.
func (c *converterClient) postFile(ctx context.Context, path, filename string, data []byte, fields map[string]string, out any) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: converter unreachable: %v", models.ErrParseFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: converter returned status %d: %s", models.ErrParseFailure, resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: invalid converter response: %v", models.ErrParseFailure, err)
	}
	return nil
}
