package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rardoz/witchly-app-api-sub002/internal/api"
	"github.com/rardoz/witchly-app-api-sub002/internal/config"
	"github.com/rardoz/witchly-app-api-sub002/internal/logger"
	"github.com/rardoz/witchly-app-api-sub002/internal/repository/mongo"
	"github.com/rardoz/witchly-app-api-sub002/internal/service"
	"github.com/rardoz/witchly-app-api-sub002/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		panic("could not load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		panic("could not build logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("starting witchly media API server", zap.String("address", cfg.Server.Address))

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		log.Fatal("could not connect to MongoDB", zap.Error(err))
	}
	defer func() {
		if err := mongo.DisconnectDB(dbClient); err != nil {
			log.Error("failed to disconnect MongoDB", zap.Error(err))
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)

	// --- Ensure Indexes ---
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		mongo.EnsureUserIndexes(ctx, appDB.Collection("users"))
		mongo.EnsureAssetIndexes(ctx, appDB.Collection("assets"))
		log.Info("index creation process completed")
	}()

	// --- Initialize Storage ---
	objectStorage, err := storage.NewS3Storage(cfg.S3)
	if err != nil {
		log.Fatal("failed to initialize S3 storage", zap.Error(err))
	}

	// --- Initialize Repositories ---
	userRepo := mongo.NewMongoUserRepository(appDB)
	assetRepo := mongo.NewMongoAssetRepository(appDB)

	// --- Initialize Services ---
	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	sessionRegistry := service.NewSessionRegistry(cfg.Upload.SessionTTL, log)
	uploadService := service.NewUploadService(
		sessionRegistry,
		assetRepo,
		objectStorage,
		cfg.Upload.MaxDirectSize,
		cfg.Upload.MaxChunkSize,
		log,
	)

	// --- Background Expiry Sweeper ---
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go uploadService.RunSweeper(sweepCtx, cfg.Upload.SweepInterval)

	// --- Initialize Gin Engine ---
	router := gin.Default()
	api.SetupRoutes(router, cfg.JWT.Secret, authService, uploadService, cfg.Upload.MaxChunkSize)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen and serve error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	stopSweeper()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exiting")
}
