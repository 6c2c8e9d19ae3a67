// Package main provides the HTTP chat server for mindstream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/mindstream/internal/config"
	"github.com/raphaelgruber/mindstream/internal/server"
	"github.com/raphaelgruber/mindstream/internal/service"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", os.Getenv("MINDSTREAM_CONFIG"), "config file")
	wipe := flag.Bool("wipe", false, "wipe all memories on startup (testing only)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := config.SetupLogger(cfg)
	defer cleanup()

	logger.Info("mindstream-server starting",
		"version", version,
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"llm", cfg.LLM.Provider+"/"+cfg.LLM.Model,
		"embed", cfg.Embed.Provider+"/"+cfg.Embed.Model,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	engine, err := service.NewEngine(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := engine.Close(context.Background()); err != nil {
			logger.Error("failed to close engine", "error", err)
		}
	}()

	if *wipe || os.Getenv("MINDSTREAM_WIPE") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := engine.Wipe(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to wipe memory", "error", err)
			os.Exit(1)
		}
	}

	jobs := service.NewJobManager(cfg.Server.IngestConcurrency, engine.Ingest, logger)
	srv := server.New(engine, jobs,
		server.WithStreamDelay(cfg.Server.StreamDelay),
		server.WithLogger(logger),
	)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 120 * time.Second, // LLM replies plus character streaming
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("chat endpoint available", "url", fmt.Sprintf("http://localhost:%s/api/chat", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down server", "signal", sig)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	jobs.Wait()
	logger.Info("server stopped")
}
