// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command master starts the TideFS master server.
//
// The master tracks how every output file in the cluster was produced.
// Compute frameworks register their jobs as lineage dependencies; when an
// output file is lost before it is checkpointed, the master synthesizes
// the command that regenerates it.
//
// Usage:
//
//	go run ./cmd/master -config master.yaml
//	go run ./cmd/master -config master.yaml -port 9090
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/lineage/health
//
//	# Register a computation step
//	curl -X POST http://localhost:8080/v1/lineage/dependencies \
//	  -H "Content-Type: application/json" \
//	  -d '{"parent_files": [], "children_files": [10, 11], "command_prefix": "spark-submit gen.py", "dep_type": "NARROW"}'
//
//	# Report a lost file and get the recompute command
//	curl -X POST http://localhost:8080/v1/lineage/dependencies/1/lost \
//	  -H "Content-Type: application/json" -d '{"file_id": 11}'
//	curl -X POST http://localhost:8080/v1/lineage/dependencies/1/recompute
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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/tidefs/pkg/logging"
	master "github.com/AleutianAI/tidefs/services/master"
	"github.com/AleutianAI/tidefs/services/master/config"
	"github.com/AleutianAI/tidefs/services/master/telemetry"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	configPath := flag.String("config", "master.yaml", "Path to the master config file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if err := run(*port, *configPath, *debug); err != nil {
		fmt.Fprintln(os.Stderr, "master:", err)
		os.Exit(1)
	}
}

func run(port int, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "master",
		JSON:    !debug,
	})
	defer logger.Close()

	ctx := context.Background()

	telemetryCfg := telemetry.DefaultConfig()
	shutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	svc, err := master.NewService(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(telemetryCfg.ServiceName))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	master.RegisterRoutes(v1, master.NewHandlers(svc))

	if metricsHandler := telemetry.MetricsHandler(); metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("master listening", "address", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		svc.Close(ctx)
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown failed", "error", err)
	}

	// Close flushes the full lineage image before releasing the journal.
	if err := svc.Close(shutdownCtx); err != nil {
		return fmt.Errorf("close master service: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
