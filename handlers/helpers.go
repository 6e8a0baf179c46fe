package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/sentinel-rag/sentinel/auth"
	"github.com/sentinel-rag/sentinel/models"
)

// respondError writes the stable error envelope. Internal causes stay in
// the logs; only the classified message crosses the wire.
func respondError(c *gin.Context, err error) {
	appErr := models.AsAppError(err)
	c.JSON(appErr.HTTPStatus(), models.ErrorResponse{
		Error:     appErr.Code,
		Message:   appErr.Message,
		RequestID: auth.GetRequestID(c),
	})
}
