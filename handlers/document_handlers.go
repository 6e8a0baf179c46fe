package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/auth"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

type DocumentHandlers struct {
	ingestion      services.IngestionService
	store          services.MetadataStore
	maxUploadBytes int64
}

func NewDocumentHandlers(ingestion services.IngestionService, store services.MetadataStore, maxUploadBytes int64) *DocumentHandlers {
	return &DocumentHandlers{
		ingestion:      ingestion,
		store:          store,
		maxUploadBytes: maxUploadBytes,
	}
}

// Upload ingests one multipart document. Form fields: file, title,
// description, department, classification, flat.
func (h *DocumentHandlers) Upload(c *gin.Context) {
	reqCtx := auth.NewRequestContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, models.ValidationError("file field is required", err))
		return
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		respondError(c, models.ValidationError("file exceeds upload limit", nil))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, models.ValidationError("cannot read uploaded file", err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, models.ValidationError("cannot read uploaded file", err))
		return
	}

	flat, _ := strconv.ParseBool(c.PostForm("flat"))
	req := models.IngestRequest{
		TenantID:       reqCtx.Principal.TenantID,
		UploadedBy:     reqCtx.Principal.UserID,
		Title:          c.PostForm("title"),
		Description:    c.PostForm("description"),
		Filename:       fileHeader.Filename,
		Department:     c.PostForm("department"),
		Classification: models.Classification(c.PostForm("classification")),
		Data:           data,
		Flat:           flat,
	}

	result, err := h.ingestion.Ingest(c.Request.Context(), reqCtx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.UploadResponse{
		DocID:       result.DocID,
		Title:       req.Title,
		ChunkCount:  result.ChildCount,
		ElapsedMs:   result.ElapsedMs,
		RequestID:   reqCtx.RequestID,
		AuditStatus: result.AuditStatus,
	})
}

// ListDocuments returns the caller's own uploads.
func (h *DocumentHandlers) ListDocuments(c *gin.Context) {
	reqCtx := auth.NewRequestContext(c)
	docs, err := h.store.GetDocumentsByUploader(c.Request.Context(), reqCtx.Principal.TenantID, reqCtx.Principal.UserID)
	if err != nil {
		respondError(c, models.DependencyError("failed to list documents", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandlers) DeleteDocument(c *gin.Context) {
	reqCtx := auth.NewRequestContext(c)
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, models.ValidationError("invalid document id", err))
		return
	}

	if err := h.ingestion.DeleteDocument(c.Request.Context(), reqCtx, reqCtx.Principal.TenantID, docID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": docID})
}

// UserInfo returns the caller's identity and resolved grants.
func (h *DocumentHandlers) UserInfo(c *gin.Context) {
	reqCtx := auth.NewRequestContext(c)

	user, err := h.store.GetUser(c.Request.Context(), reqCtx.Principal.TenantID, reqCtx.Principal.UserID)
	if err != nil {
		respondError(c, models.DependencyError("user lookup failed", err))
		return
	}
	if user == nil {
		respondError(c, models.NewAppError(models.ErrCodeNotFound, "user not found", nil))
		return
	}
	grants, err := h.store.GetUserAccessPairs(c.Request.Context(), reqCtx.Principal.TenantID, user.ID)
	if err != nil {
		respondError(c, models.DependencyError("failed to resolve grants", err))
		return
	}

	c.JSON(http.StatusOK, models.UserInfoResponse{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Email:     user.Email,
		FullName:  user.FullName,
		Grants:    grants,
		CreatedAt: user.CreatedAt,
	})
}
