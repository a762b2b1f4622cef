package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/retrieval"
	"docchat/internal/transport/http/response"
)

type DocumentHandler struct {
	documentService *app.DocumentService
	maxFileBytes    int64
}

func NewDocumentHandler(documentService *app.DocumentService, maxFileMB int) *DocumentHandler {
	if maxFileMB <= 0 {
		maxFileMB = 15
	}
	return &DocumentHandler{
		documentService: documentService,
		maxFileBytes:    int64(maxFileMB) << 20,
	}
}

// Upload accepts a multipart "file" field, extracts its text and indexes it
// for the calling session.
func (h *DocumentHandler) Upload(c *gin.Context) {
	sessionID, ok := getSessionIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file field")
		return
	}
	if fileHeader.Size > h.maxFileBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeBadRequest, "file exceeds size limit")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "open uploaded file failed")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileBytes+1))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read uploaded file failed")
		return
	}
	if int64(len(data)) > h.maxFileBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeBadRequest, "file exceeds size limit")
		return
	}

	result, err := h.documentService.Upload(c.Request.Context(), app.UploadInput{
		SessionID: sessionID,
		Filename:  fileHeader.Filename,
		Data:      data,
	})
	if err != nil {
		writeUploadError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	sessionID, ok := getSessionIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	docs, err := h.documentService.List(sessionID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func writeUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, app.ErrUnsupportedFile),
		errors.Is(err, app.ErrEmptyDocument),
		errors.Is(err, retrieval.ErrInvalidChunking):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, retrieval.ErrEmbeddingFailed), errors.Is(err, retrieval.ErrIndexUnavailable):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailure, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "upload failed")
	}
}
