package api

import (
	"net/http"

	"github.com/rardoz/witchly-app-api-sub002/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRoutes wires handlers onto the Gin engine.
func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authService service.AuthService,
	uploadService service.UploadService,
	maxChunkSize int64,
) {
	authHandler := NewAuthHandler(authService)
	uploadHandler := NewUploadHandler(uploadService, maxChunkSize)
	assetHandler := NewAssetHandler(uploadService)

	authMiddleware := AuthMiddleware(jwtSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		// --- Upload Routes ---
		uploadGroup := protected.Group("/uploads")
		{
			// POST /api/v1/uploads - start a chunked session
			uploadGroup.POST("", uploadHandler.InitializeUpload)
			// PUT /api/v1/uploads/{uploadId}/chunks/{index} - raw chunk body
			uploadGroup.PUT("/:uploadId/chunks/:index", uploadHandler.UploadChunk)
			// GET /api/v1/uploads/{uploadId} - progress snapshot
			uploadGroup.GET("/:uploadId", uploadHandler.GetUploadProgress)
			// POST /api/v1/uploads/direct - small-file single-request path
			uploadGroup.POST("/direct", uploadHandler.DirectUpload)
		}

		// --- Asset Routes ---
		assetGroup := protected.Group("/assets")
		{
			assetGroup.GET("", assetHandler.ListMyAssets)
			assetGroup.GET("/:id", assetHandler.GetAsset)
		}
	}
}
