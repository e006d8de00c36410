package api

import (
	"net/http"
	"time"

	"github.com/rardoz/witchly-app-api-sub002/internal/domain"
	"github.com/rardoz/witchly-app-api-sub002/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AssetHandler exposes read access to finalized assets.
type AssetHandler struct {
	uploadService service.UploadService
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(uploadService service.UploadService) *AssetHandler {
	return &AssetHandler{uploadService: uploadService}
}

// AssetResponse is the DTO for returning asset details.
type AssetResponse struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	FileName    string           `json:"fileName"`
	UniqueName  string           `json:"uniqueName"`
	ContentHash string           `json:"contentHash"`
	MimeType    string           `json:"mimeType"`
	AssetType   domain.AssetType `json:"assetType"`
	Size        int64            `json:"size"`
	StorageURL  string           `json:"storageUrl"`
	DownloadURL string           `json:"downloadUrl,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// MapAssetToResponse converts a domain.Asset to an AssetResponse DTO.
func MapAssetToResponse(asset *domain.Asset, downloadURL string) AssetResponse {
	if asset == nil {
		return AssetResponse{}
	}
	return AssetResponse{
		ID:          asset.ID.Hex(),
		UserID:      asset.UserID.Hex(),
		FileName:    asset.FileName,
		UniqueName:  asset.UniqueName,
		ContentHash: asset.ContentHash,
		MimeType:    asset.MimeType,
		AssetType:   asset.AssetType,
		Size:        asset.Size,
		StorageURL:  asset.StorageURL,
		DownloadURL: downloadURL,
		CreatedAt:   asset.CreatedAt,
	}
}

// GetAsset returns one asset's metadata plus a temporary download URL.
func (h *AssetHandler) GetAsset(c *gin.Context) {
	assetID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid asset ID format.")
		return
	}

	asset, downloadURL, err := h.uploadService.GetAssetWithURL(c.Request.Context(), assetID)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, MapAssetToResponse(asset, downloadURL))
}

// ListMyAssets returns the caller's assets, newest first.
func (h *AssetHandler) ListMyAssets(c *gin.Context) {
	caller, err := callerFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify caller from token.")
		return
	}

	assets, err := h.uploadService.ListAssets(c.Request.Context(), caller.ID)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to retrieve assets.")
		return
	}

	responses := make([]AssetResponse, len(assets))
	for i := range assets {
		responses[i] = MapAssetToResponse(&assets[i], "")
	}
	c.JSON(http.StatusOK, responses)
}
