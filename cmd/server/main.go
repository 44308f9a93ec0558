package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/pr-o-meter/internal/adapters"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/config"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/database"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/facts"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/handlers"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/ingest"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/ratelimit"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/stats"
)

func main() {
	// Structured logging setup
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	// Initialize the process-wide database handle
	db, err := database.Init(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Origin client; the token is required for any sync or derivation work
	githubClient, err := adapters.NewGitHubClient(cfg.GitHubToken)
	if err != nil {
		slog.Error("Failed to initialize GitHub client", "error", err)
		os.Exit(1)
	}

	// Service layer
	ingestSvc := ingest.NewServiceWithWorkers(githubClient, db, cfg.SyncWorkers)
	deriver := facts.NewDeriver(githubClient, db)
	statsSvc := stats.NewService(deriver, db)
	reader := stats.NewReader(db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(errors.ErrorHandler())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsConfig))

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	r.Use(limiter.Middleware())

	h := handlers.New(db, ingestSvc, statsSvc, reader, cfg.DefaultDays)
	h.Register(r)

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

// requestLogger logs every request with latency and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
