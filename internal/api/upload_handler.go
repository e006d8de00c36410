package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rardoz/witchly-app-api-sub002/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChunkHashHeader carries the client's claimed sha256 of the raw chunk
// payload, out-of-band from the binary body.
const ChunkHashHeader = "X-Chunk-Hash"

// UploadHandler exposes the chunked and direct upload paths.
type UploadHandler struct {
	uploadService service.UploadService
	maxChunkSize  int64
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(uploadService service.UploadService, maxChunkSize int64) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		maxChunkSize:  maxChunkSize,
	}
}

// --- DTOs ---

// InitializeUploadRequest declares the chunk plan for a new session.
type InitializeUploadRequest struct {
	FileName    string `json:"fileName" binding:"required"`
	TotalSize   int64  `json:"totalSize" binding:"required,gt=0"`
	ChunkSize   int64  `json:"chunkSize" binding:"required,gt=0"`
	TotalChunks int    `json:"totalChunks" binding:"required,gt=0"`
	MimeType    string `json:"mimeType" binding:"required"`
}

// --- Handler Methods ---

// InitializeUpload starts a new chunked upload session and returns the
// opaque upload id together with the accepted plan.
func (h *UploadHandler) InitializeUpload(c *gin.Context) {
	var req InitializeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	caller, err := callerFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify caller from token.")
		return
	}

	snapshot, err := h.uploadService.InitializeUpload(c.Request.Context(), service.InitializeUploadInput{
		FileName:    req.FileName,
		MimeType:    req.MimeType,
		TotalSize:   req.TotalSize,
		ChunkSize:   req.ChunkSize,
		TotalChunks: req.TotalChunks,
		Owner:       caller.ID,
	})
	if err != nil {
		respondUploadError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snapshot)
}

// UploadChunk admits one raw binary chunk. The chunk index comes from the
// path, the claimed hash from the X-Chunk-Hash header.
func (h *UploadHandler) UploadChunk(c *gin.Context) {
	uploadID := c.Param("uploadId")

	chunkIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Chunk index must be an integer.")
		return
	}

	claimedHash := c.GetHeader(ChunkHashHeader)
	if claimedHash == "" {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("%s header is required.", ChunkHashHeader))
		return
	}

	caller, err := callerFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify caller from token.")
		return
	}

	// Cap the read; the service validates the exact expected length.
	reader := io.Reader(c.Request.Body)
	if h.maxChunkSize > 0 {
		reader = io.LimitReader(reader, h.maxChunkSize+1)
	}
	chunkBytes, err := io.ReadAll(reader)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Failed to read chunk payload.")
		return
	}
	if h.maxChunkSize > 0 && int64(len(chunkBytes)) > h.maxChunkSize {
		abortWithError(c, http.StatusBadRequest, "Chunk payload exceeds the maximum chunk size.")
		return
	}

	snapshot, err := h.uploadService.AdmitChunk(c.Request.Context(), uploadID, chunkIndex, chunkBytes, claimedHash, caller)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetUploadProgress returns the progress snapshot for a session.
func (h *UploadHandler) GetUploadProgress(c *gin.Context) {
	caller, err := callerFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify caller from token.")
		return
	}

	snapshot, err := h.uploadService.GetProgress(c.Request.Context(), c.Param("uploadId"), caller)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// DirectUpload accepts a whole file in one multipart-form request.
func (h *UploadHandler) DirectUpload(c *gin.Context) {
	caller, err := callerFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify caller from token.")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "A 'file' form field is required.")
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Failed to open uploaded file.")
		return
	}
	defer file.Close()

	asset, err := h.uploadService.DirectUpload(c.Request.Context(), service.DirectUploadInput{
		FileName: fileHeader.Filename,
		MimeType: mimeType,
		Owner:    caller.ID,
		Body:     file,
		Size:     fileHeader.Size,
	})
	if err != nil {
		respondUploadError(c, err)
		return
	}

	c.JSON(http.StatusCreated, MapAssetToResponse(asset, ""))
}

// --- Helpers ---

// callerFromContext builds the service-layer caller identity from the
// claims AuthMiddleware stored on the request.
func callerFromContext(c *gin.Context) (service.Caller, error) {
	idStr, err := getUserIDFromContext(c)
	if err != nil {
		return service.Caller{}, err
	}
	id, err := primitive.ObjectIDFromHex(idStr)
	if err != nil {
		return service.Caller{}, err
	}
	role, err := getUserRoleFromContext(c)
	if err != nil {
		return service.Caller{}, err
	}
	return service.Caller{ID: id, Admin: role.IsAdmin()}, nil
}

// respondUploadError maps service errors onto HTTP statuses.
func respondUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidationFailed),
		errors.Is(err, service.ErrInvalidUploadPlan),
		errors.Is(err, service.ErrMalformedUploadID),
		errors.Is(err, service.ErrChunkOutOfRange),
		errors.Is(err, service.ErrChunkLengthMismatch),
		errors.Is(err, service.ErrFileTooLarge):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrAssetNotFound):
		abortWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotSessionOwner):
		abortWithError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrSessionExpired), errors.Is(err, service.ErrSessionFinished):
		abortWithError(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrChunkHashMismatch):
		abortWithError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrStorageFailure):
		abortWithError(c, http.StatusBadGateway, err.Error())
	default:
		abortWithError(c, http.StatusInternalServerError, "An unexpected error occurred.")
	}
}
