package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/coach-client/internal/api"
	"gwi.com/coach-client/internal/config"
	"gwi.com/coach-client/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal("Failed to load configuration", "err", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Logger.Fatal("Invalid server configuration", "err", err)
	}

	// Setup logging
	logger.Configure(cfg.LogLevel, os.Stderr)
	logger.Logger.Debug("Dev server starting in DEBUG mode")

	// Pick the assistant: Gemini when a key is configured, echo otherwise.
	opts := api.Options{Secret: []byte(cfg.JWTSecret)}
	if cfg.GeminiAPIKey != "" {
		gemini, err := api.NewGeminiResponder(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			logger.Logger.Fatal("Failed to initialize Gemini responder", "err", err)
		}
		defer gemini.Close()
		opts.Responder = gemini
		logger.Logger.Info("Assistant replies served by Gemini")
	} else {
		logger.Logger.Info("GEMINI_API_KEY not set, assistant echoes messages")
	}

	// Initialize API Handler and Router
	backend := api.NewBackend(opts)
	router := api.NewRouter(api.NewAPIHandler(backend), true)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // model calls can take time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Logger.Info("Starting dev server. Press Ctrl+C to quit.", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Fatal("Could not listen", "addr", serverAddr, "err", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Error("Server forced to shutdown", "err", err)
		return
	}
	logger.Logger.Info("Server exiting gracefully")
}
