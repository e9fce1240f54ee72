package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kevinaaaquil/booknook/backend/activity"
	"github.com/kevinaaaquil/booknook/backend/cache"
	"github.com/kevinaaaquil/booknook/backend/config"
	"github.com/kevinaaaquil/booknook/backend/features"
	"github.com/kevinaaaquil/booknook/backend/handlers"
	"github.com/kevinaaaquil/booknook/backend/library"
	"github.com/kevinaaaquil/booknook/backend/logger"
	"github.com/kevinaaaquil/booknook/backend/metadata"
	"github.com/kevinaaaquil/booknook/backend/metrics"
	"github.com/kevinaaaquil/booknook/backend/middleware"
	"github.com/kevinaaaquil/booknook/backend/recommend"
	"github.com/kevinaaaquil/booknook/backend/service"
	"github.com/kevinaaaquil/booknook/backend/signature"
	"github.com/kevinaaaquil/booknook/backend/store"
	"go.uber.org/zap"
)

const maxRecommendations = 50

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	if cfg.StoreDriver == config.StoreMongo {
		if err := config.ValidateEnv(log); err != nil {
			log.Fatal("invalid environment", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db store.Store
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("using in-memory store; data is lost on restart")
		db = store.NewMemory()
	} else {
		mongoDB, err := store.NewMongoDB(ctx, cfg.MongoURI, cfg.DBName, log)
		if err != nil {
			log.Fatal("mongodb", zap.Error(err))
		}
		defer func() {
			if err := mongoDB.Disconnect(context.Background()); err != nil {
				log.Warn("mongodb disconnect", zap.Error(err))
			}
		}()
		if err := mongoDB.EnsureIndexes(ctx); err != nil {
			log.Fatal("mongodb indexes", zap.Error(err))
		}
		db = mongoDB
	}

	var s3Service *service.S3Service
	if cfg.S3Bucket != "" {
		s3Service, err = service.NewS3Service(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3AccessKeyID, cfg.S3SecretKey)
		if err != nil {
			log.Fatal("s3", zap.Error(err))
		}
	} else {
		log.Warn("AWS_S3_BUCKET not set; uploads and downloads are disabled")
	}

	var shared cache.Store
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, "booknook:")
		if err != nil {
			log.Fatal("redis", zap.Error(err))
		}
		defer rc.Close()
		shared = rc
	} else {
		mc := cache.NewMemory()
		go mc.RunSweeper(ctx, 10*time.Minute)
		shared = mc
	}

	catalogOpts := func(apiKey string) service.CatalogOptions {
		return service.CatalogOptions{
			APIKey:   apiKey,
			Timeout:  cfg.CatalogTimeout,
			Cache:    shared,
			CacheTTL: cfg.CacheTTL,
			Logger:   log,
		}
	}
	catalog := service.Chain{
		service.NewGoogleBooks(catalogOpts(cfg.GoogleBooksAPIKey)),
		service.NewOpenLibrary(catalogOpts("")),
	}

	signatures := signature.Default()
	pipeline := metadata.New(metadata.Options{
		Catalog:      catalog,
		Books:        db,
		Signatures:   signatures,
		StageTimeout: cfg.StageTimeout,
		Logger:       log,
	})
	extractor := features.NewExtractor(features.Config{
		CategoryThreshold: cfg.CategoryThreshold,
		Signatures:        signatures,
	})

	libOpts := library.Options{
		Store:     db,
		Extractor: pipeline,
		Features:  extractor,
		Catalog:   catalog,
		Logger:    log,
	}
	var files handlers.FileServer
	if s3Service != nil {
		libOpts.Blobs = s3Service
		files = s3Service
	}
	lib := library.New(libOpts)

	tracker := activity.NewTracker(db, log)
	engine := recommend.NewEngine(db, recommend.Options{
		Weights:      cfg.SimilarityWeights,
		DefaultLimit: cfg.RecommendDefaultLimit,
		Logger:       log,
	})
	releases := service.NewReleases(service.ReleasesOptions{
		NYTAPIKey:    cfg.NYTAPIKey,
		GoogleAPIKey: cfg.GoogleBooksAPIKey,
		Timeout:      cfg.CatalogTimeout,
		Cache:        shared,
		TTL:          cfg.CacheTTL,
		Store:        db,
		Logger:       log,
	})

	authHandler := &handlers.AuthHandler{
		Users:        db,
		JWTSecret:    cfg.JWTSecret,
		DefaultEmail: cfg.AuthEmail,
		DefaultPass:  cfg.AuthPass,
		Log:          log,
	}
	uploadHandler := &handlers.UploadHandler{
		Library:  lib,
		MaxBytes: cfg.MaxUploadMB * 1024 * 1024,
		Log:      log,
	}
	booksHandler := &handlers.BooksHandler{
		Library: lib,
		Books:   db,
		Files:   files,
		Tracker: tracker,
		Log:     log,
	}
	activityHandler := &handlers.ActivityHandler{Library: lib, Tracker: tracker, Log: log}
	recommendHandler := &handlers.RecommendHandler{Engine: engine, MaxLimit: maxRecommendations}
	releasesHandler := &handlers.ReleasesHandler{Feed: releases, Log: log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"welcome to booknook."}`))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.LoginRateLimit(cfg.LoginRateLimit, time.Minute)).Post("/auth/login", authHandler.Login)
		r.Get("/books/{id}/cover", booksHandler.Cover)
		r.Get("/releases", releasesHandler.List)
		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Get("/me", authHandler.Me)
			r.Post("/upload", uploadHandler.Upload)
			r.Get("/books", booksHandler.List)
			r.Get("/books/{id}", booksHandler.Get)
			r.Patch("/books/{id}", booksHandler.Update)
			r.Delete("/books/{id}", booksHandler.Delete)
			r.Get("/books/{id}/download", booksHandler.Download)
			r.Post("/books/{id}/refresh-metadata", booksHandler.RefreshMetadata)
			r.Post("/books/{id}/features", booksHandler.RecomputeFeatures)
			r.Post("/books/{id}/progress", activityHandler.Progress)
			r.Post("/books/{id}/rating", activityHandler.Rate)
			r.Post("/activity", activityHandler.Track)
			r.Get("/recommendations", recommendHandler.Basic)
			r.Get("/recommendations/ai", recommendHandler.AI)
			r.Post("/releases/refresh", releasesHandler.Refresh)
		})
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	engine.Wait()
}
