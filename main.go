package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mix-analyzer-service/config"
	"mix-analyzer-service/handlers"
	"mix-analyzer-service/metrics"
	"mix-analyzer-service/middleware"
	"mix-analyzer-service/mixanalytic"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	EndPointHealth  = "/health"
	EndPointVersion = "/version"
	EndPointMetrics = "/metrics"
	EndPointAnalyze = "/analyze"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.SetLevelFromString(cfg.LogLevel)

	log.Info("Starting the mix analyzer service...")

	metrics.Register()

	// Initialize the remote client and handlers
	client := mixanalytic.NewClient(cfg)
	analyzeHandler := handlers.NewAnalyzeHandler(cfg, client)

	// Setup router
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.AllowedOrigins)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
	router.Use(middleware.RequestIDMiddleware())

	// Operational endpoints (no rate limiting)
	router.GET(EndPointHealth, analyzeHandler.HealthCheck)
	router.GET(EndPointVersion, analyzeHandler.Version)
	router.GET(EndPointMetrics, gin.WrapH(promhttp.Handler()))

	// Rate-limited endpoints
	rateLimited := router.Group("/")
	rateLimited.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute, time.Minute))
	{
		rateLimited.POST(EndPointAnalyze, analyzeHandler.Analyze)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Infof("Mix analyzer service starting on port %s", cfg.Port)
		log.Infof("Relaying uploads to %s", cfg.MixBaseURL)
		log.Infof("Rate limit: %d requests per minute", cfg.RateLimitPerMinute)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
