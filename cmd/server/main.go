package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/dentalink/clinic-portal/internal/api"
	"github.com/dentalink/clinic-portal/internal/audit"
	"github.com/dentalink/clinic-portal/internal/backend"
	"github.com/dentalink/clinic-portal/internal/config"
	"github.com/dentalink/clinic-portal/internal/session"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Error loading .env file: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize Elasticsearch client for the activity trail. Optional: with
	// no addresses configured the trail only reaches the system log.
	var esClient *elasticsearch.Client
	if cfg.Elasticsearch.Enabled {
		addresses := cfg.Elasticsearch.Addresses
		if url := os.Getenv("ELASTICSEARCH_URL"); url != "" {
			addresses = []string{url}
		}
		esClient, err = elasticsearch.NewClient(elasticsearch.Config{
			Addresses: addresses,
			Username:  os.Getenv("ELASTICSEARCH_USERNAME"),
			Password:  os.Getenv("ELASTICSEARCH_PASSWORD"),
		})
		if err != nil {
			logger.Fatal("Failed to connect to Elasticsearch", zap.Error(err))
		}
	}

	// Initialize audit service
	auditService := audit.NewService(esClient)

	// Remote clinic API configuration. Each login gets its own client (own
	// cookie jar and CSRF token); this is the template they are built from.
	backendCfg := backend.Config{
		BaseURL: cfg.ClinicAPI.BaseURL,
		Timeout: cfg.ClinicAPI.Timeout,
		Logger:  logger,
	}
	if backendCfg.BaseURL == "" {
		logger.Fatal("clinic API base URL is required (clinic_api.base_url or PORTAL_API_BASE_URL)")
	}

	// Initialize session registry
	registry := session.NewRegistry(cfg.Session.TTL, auditService, logger)

	// Initialize handler and router
	handler := api.NewHandler(registry, backendCfg, auditService, logger)
	router := api.NewRouter(handler, registry, cfg.Server.RequestTimeout, cfg.Server.AllowedOrigin)
	engine := router.SetupRouter(logger)

	// Create server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if cfg.Server.TLS.Enabled {
			if err := srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		} else {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
