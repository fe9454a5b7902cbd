package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dataset-backend/cmd"
	"dataset-backend/internal/api"
	"dataset-backend/internal/database"
	"dataset-backend/internal/dataset"
	"dataset-backend/internal/planner"
	"dataset-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type APIConfig struct {
	DatabaseURL        string  `env:"DATABASE_URL" envDefault:"dataset-backend.db"`
	S3EndpointURL      string  `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID      string  `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey  string  `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region           string  `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSCredentialsFile string  `env:"AWS_CREDENTIALS_FILE"`
	LocalStorageDir    string  `env:"LOCAL_STORAGE_DIR"`
	ExportDir          string  `env:"EXPORT_DIR" envDefault:"./exported"`
	TrainRatio         float64 `env:"TRAIN_RATIO" envDefault:"0.8"`
	SplitTrainOnly     bool    `env:"SPLIT_TRAIN_ONLY" envDefault:"false"`
	APIPort            string  `env:"API_PORT" envDefault:"8001"`
}

func createObjectStore(cfg APIConfig) (storage.ObjectStore, error) {
	if cfg.LocalStorageDir != "" {
		return storage.NewLocalObjectStore(cfg.LocalStorageDir)
	}

	accessKey, secretKey := cfg.S3AccessKeyID, cfg.S3SecretAccessKey
	if accessKey == "" && cfg.AWSCredentialsFile != "" {
		creds, err := storage.LoadCredentialsFile(cfg.AWSCredentialsFile)
		if err != nil {
			return nil, err
		}
		accessKey, secretKey = creds.AccessKeyID, creds.SecretAccessKey
	}

	return storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
	})
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := createObjectStore(cfg)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	if err := os.MkdirAll(cfg.ExportDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create export directory: %v", err)
	}

	splitCfg := planner.SplitConfig{TrainRatio: cfg.TrainRatio, SplitTrainOnly: cfg.SplitTrainOnly}
	if err := splitCfg.Validate(); err != nil {
		log.Fatalf("Invalid split config: %v", err)
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, store, dataset.NewLibrary(), cfg.ExportDir, splitCfg)
	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
