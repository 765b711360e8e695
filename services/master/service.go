// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package master wires the lineage registry, the image journal, and the
// HTTP surface into the TideFS master service.
package master

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/AleutianAI/tidefs/pkg/logging"
	"github.com/AleutianAI/tidefs/services/master/config"
	"github.com/AleutianAI/tidefs/services/master/journal"
	"github.com/AleutianAI/tidefs/services/master/lineage"
)

// ServiceVersion is the master service version.
const ServiceVersion = "0.1.0"

// Service owns the lineage state of one master process.
//
// Description:
//
//	On construction the service opens the image journal under the data
//	directory and replays it into a fresh registry, so a restarted master
//	resumes with the exact checkpoint progress it last persisted. Every
//	mutation that changes durable state (node creation, checkpoint
//	progress) is journaled before the call returns.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg        config.Config
	registry   *lineage.Registry
	journal    *journal.Journal
	logger     *logging.Logger
	instanceID string
}

// NewService builds the master service from configuration.
//
// Outputs:
//
//	*Service - The ready service; the journal has been replayed.
//	error - Non-nil if the registry, journal, or replay fails. The caller
//	        owns nothing on error.
func NewService(ctx context.Context, cfg config.Config, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.Default()
	}

	vars := lineage.NewVariables(cfg.RecomputeVariables)
	registry, err := lineage.NewRegistry(vars, cfg.MasterAddress, logger.Slog())
	if err != nil {
		return nil, fmt.Errorf("build lineage registry: %w", err)
	}

	jnl, err := journal.Open(journal.Config{
		Path:        filepath.Join(cfg.DataDir, "lineage-journal"),
		InMemory:    cfg.Journal.InMemory,
		SyncWrites:  cfg.Journal.SyncWrites,
		SkipCorrupt: cfg.Journal.SkipCorrupt,
		Logger:      logger.Slog(),
	})
	if err != nil {
		return nil, err
	}

	if err := registry.Replay(ctx, jnl); err != nil {
		jnl.Close()
		return nil, err
	}

	svc := &Service{
		cfg:        cfg,
		registry:   registry,
		journal:    jnl,
		logger:     logger,
		instanceID: uuid.NewString(),
	}
	logger.Info("master service started",
		"instance_id", svc.instanceID,
		"master_address", cfg.MasterAddress,
		"dependencies", registry.Len(),
	)
	return svc, nil
}

// CreateDependency registers a computation step and journals its image.
func (s *Service) CreateDependency(ctx context.Context, req CreateDependencyRequest) (*CreateDependencyResponse, error) {
	depType, err := lineage.ParseDependencyType(req.DepType)
	if err != nil {
		return nil, err
	}
	data, err := decodeData(req.Data)
	if err != nil {
		return nil, err
	}

	parents := req.ParentFiles
	if parents == nil {
		parents = []int64{}
	}

	dep, err := s.registry.Create(ctx, lineage.CreateRequest{
		ParentFiles:      parents,
		ChildrenFiles:    req.ChildrenFiles,
		CommandPrefix:    req.CommandPrefix,
		Data:             data,
		Comment:          req.Comment,
		Framework:        req.Framework,
		FrameworkVersion: req.FrameworkVersion,
		Type:             depType,
	})
	if err != nil {
		return nil, err
	}

	if err := s.journal.Append(ctx, dep.ToImage()); err != nil {
		return nil, fmt.Errorf("journal dependency %d: %w", dep.ID, err)
	}

	return &CreateDependencyResponse{
		DepID:      dep.ID,
		ParentDeps: dep.ParentDependencies(),
	}, nil
}

// GetDependency returns the client projection of one lineage node.
func (s *Service) GetDependency(_ context.Context, depID int64) (lineage.ClientDependencyInfo, error) {
	dep, err := s.registry.Get(depID)
	if err != nil {
		return lineage.ClientDependencyInfo{}, err
	}
	return dep.ClientInfo(), nil
}

// MarkCheckpointed records that an output file reached durable storage and
// journals the node's updated image.
func (s *Service) MarkCheckpointed(ctx context.Context, depID, fileID int64) error {
	if err := s.registry.NotifyChildCheckpointed(ctx, depID, fileID); err != nil {
		return err
	}
	dep, err := s.registry.Get(depID)
	if err != nil {
		return err
	}
	if err := s.journal.Append(ctx, dep.ToImage()); err != nil {
		return fmt.Errorf("journal dependency %d: %w", depID, err)
	}
	return nil
}

// MarkFileLost records the loss of an output file. Losses are in-memory
// only; they feed the next RecomputeCommand call and are not journaled.
func (s *Service) MarkFileLost(ctx context.Context, depID, fileID int64) error {
	return s.registry.NotifyFileLost(ctx, depID, fileID)
}

// RecomputeCommand synthesizes and consumes the recomputation command for
// the given dependency. Returns an empty command when no losses are pending.
func (s *Service) RecomputeCommand(ctx context.Context, depID int64) (string, error) {
	return s.registry.RecomputeCommand(ctx, depID)
}

// WriteImage streams the full lineage image to the journal. Used by the
// periodic checkpointer and at graceful shutdown.
func (s *Service) WriteImage(ctx context.Context) error {
	return s.registry.WriteImage(ctx, s.journal)
}

// Health reports liveness information.
func (s *Service) Health() HealthResponse {
	return HealthResponse{
		Status:          "healthy",
		Version:         ServiceVersion,
		InstanceID:      s.instanceID,
		DependencyCount: s.registry.Len(),
	}
}

// Registry exposes the lineage registry for in-process collaborators.
func (s *Service) Registry() *lineage.Registry {
	return s.registry
}

// Close flushes the lineage image and closes the journal.
func (s *Service) Close(ctx context.Context) error {
	if err := s.WriteImage(ctx); err != nil {
		s.logger.Error("final image write failed", "error", err)
	}
	return s.journal.Close()
}

// decodeData converts base64 payloads from the wire to raw bytes.
func decodeData(encoded []string) ([][]byte, error) {
	if encoded == nil {
		return nil, nil
	}
	data := make([][]byte, len(encoded))
	for i, s := range encoded {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: data[%d] is not base64: %v", lineage.ErrInvalidInput, i, err)
		}
		data[i] = raw
	}
	return data, nil
}
