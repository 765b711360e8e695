// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ImageSink receives dependency image records during a master checkpoint.
type ImageSink interface {
	Append(ctx context.Context, rec ImageRecord) error
}

// ImageSource replays dependency image records during master startup.
// Implementations call fn once per decodable record, in stable order, and
// stop on the first error fn returns.
type ImageSource interface {
	Replay(ctx context.Context, fn func(rec ImageRecord) error) error
}

// CreateRequest describes a new computation step to register.
type CreateRequest struct {
	// ParentFiles are the input file ids consumed. Must not be nil.
	ParentFiles []int64

	// ChildrenFiles are the output file ids produced, index-addressable.
	// Must not be nil, and no file may already have a producer.
	ChildrenFiles []int64

	// CommandPrefix is the recomputation command template.
	CommandPrefix string

	// Data holds opaque payloads passed to recomputation. May be nil.
	Data [][]byte

	// Comment, Framework, FrameworkVersion describe the computation.
	Comment          string
	Framework        string
	FrameworkVersion string

	// Type is Narrow or Wide.
	Type DependencyType
}

// Registry owns every lineage node, allocates dependency ids, and wires the
// parent/child edges between nodes as the DAG grows.
//
// Description:
//
//	Checkpoint-completion and file-loss events from the file metadata
//	table are routed through the registry to the owning node. On recovery
//	request the registry synthesizes the recomputation command with the
//	process-wide variable resolver and the configured master address. On
//	master checkpoint/restart it streams every node through the image
//	journal and rebuilds the graph, re-deriving downstream edges from
//	parent-file membership.
//
// Thread Safety:
//
//	Safe for concurrent use. The registry's own maps are guarded by an
//	RWMutex; per-node state is guarded by each node's mutex. Operations on
//	different nodes are independent; the registry gives no cross-node
//	ordering guarantee beyond lock acquisition order on a single node.
type Registry struct {
	vars          *Variables
	masterAddress string
	logger        *slog.Logger
	metrics       *registryMetrics

	mu     sync.RWMutex
	deps   map[int64]*Dependency
	byFile map[int64]int64 // output file id -> producing dependency id
	nextID int64
}

// NewRegistry creates an empty dependency registry.
//
// Inputs:
//
//	vars - Variable resolver for command synthesis. Must not be nil.
//	masterAddress - Address appended to every recomputation command.
//	logger - Logger for registry events. If nil, uses slog.Default().
//
// Outputs:
//
//	*Registry - The empty registry; ids start at 1.
//	error - ErrInvalidInput (wrapped) if vars is nil or the address is empty.
func NewRegistry(vars *Variables, masterAddress string, logger *slog.Logger) (*Registry, error) {
	if vars == nil {
		return nil, fmt.Errorf("%w: vars must not be nil", ErrInvalidInput)
	}
	if masterAddress == "" {
		return nil, fmt.Errorf("%w: master address must not be empty", ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		vars:          vars,
		masterAddress: masterAddress,
		logger:        logger,
		metrics:       newRegistryMetrics(logger),
		deps:          make(map[int64]*Dependency),
		byFile:        make(map[int64]int64),
		nextID:        1,
	}, nil
}

// Create registers a new computation step and wires it into the DAG.
//
// Description:
//
//	Allocates the next dependency id, derives the upstream dependency ids
//	from the producers of the parent files, constructs the node, indexes
//	its output files, and registers the new node as a downstream edge on
//	each upstream node.
//
// Outputs:
//
//	*Dependency - The new node, fully wired.
//	error - ErrInvalidInput for malformed sequences; ErrFileAlreadyProduced
//	        if an output file already has a producer.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Dependency, error) {
	ctx, span := tracer.Start(ctx, "lineage.Registry.Create",
		trace.WithAttributes(
			attribute.Int("parent_files", len(req.ParentFiles)),
			attribute.Int("children_files", len(req.ChildrenFiles)),
		),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fileID := range req.ChildrenFiles {
		if producer, ok := r.byFile[fileID]; ok {
			err := fmt.Errorf("%w: file %d already produced by dependency %d",
				ErrFileAlreadyProduced, fileID, producer)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	parentDeps := r.parentDepsOfLocked(req.ParentFiles)

	id := r.nextID
	dep, err := NewDependency(id, req.ParentFiles, req.ChildrenFiles,
		req.CommandPrefix, req.Data, req.Comment, req.Framework,
		req.FrameworkVersion, req.Type, parentDeps, time.Now().UnixMilli())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	r.nextID++

	r.deps[id] = dep
	for _, fileID := range req.ChildrenFiles {
		r.byFile[fileID] = id
	}
	for _, parentID := range parentDeps {
		r.deps[parentID].AddChildDependency(id)
	}

	span.SetAttributes(attribute.Int64("dep.id", id))
	r.metrics.dependenciesCreated(ctx)
	r.logger.Debug("dependency registered",
		slog.Int64("dep_id", id),
		slog.Int("parent_deps", len(parentDeps)),
		slog.String("framework", req.Framework),
	)
	return dep, nil
}

// parentDepsOfLocked derives the upstream dependency ids from the producers
// of the given parent files. Caller holds r.mu.
func (r *Registry) parentDepsOfLocked(parentFiles []int64) []int64 {
	seen := make(map[int64]struct{})
	for _, fileID := range parentFiles {
		if depID, ok := r.byFile[fileID]; ok {
			seen[depID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for depID := range seen {
		ids = append(ids, depID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns the dependency with the given id.
func (r *Registry) Get(depID int64) (*Dependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dep, ok := r.deps[depID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrDependencyNotFound, depID)
	}
	return dep, nil
}

// Len returns the number of registered dependencies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deps)
}

// ProducerOf returns the id of the dependency that produces the given file.
func (r *Registry) ProducerOf(fileID int64) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	depID, ok := r.byFile[fileID]
	return depID, ok
}

// NotifyChildCheckpointed routes a checkpoint-completion report from the
// file metadata table to the owning node. Duplicate reports are no-ops.
func (r *Registry) NotifyChildCheckpointed(ctx context.Context, depID, fileID int64) error {
	dep, err := r.Get(depID)
	if err != nil {
		return err
	}
	dep.ChildCheckpointed(fileID)
	r.metrics.childCheckpointed(ctx)
	if dep.HasCheckpointed() {
		r.logger.Debug("dependency fully checkpointed", slog.Int64("dep_id", depID))
	}
	return nil
}

// NotifyFileLost routes a file-loss report to the owning node. Losses
// accumulate until the next RecomputeCommand call.
func (r *Registry) NotifyFileLost(ctx context.Context, depID, fileID int64) error {
	dep, err := r.Get(depID)
	if err != nil {
		return err
	}
	dep.AddLostFile(fileID)
	r.metrics.fileLost(ctx)
	r.logger.Info("output file lost",
		slog.Int64("dep_id", depID),
		slog.Int64("file_id", fileID),
	)
	return nil
}

// RecomputeCommand synthesizes and consumes the recomputation command for
// the given dependency. See Dependency.RecomputeCommand for the consume-once
// contract.
func (r *Registry) RecomputeCommand(ctx context.Context, depID int64) (string, error) {
	dep, err := r.Get(depID)
	if err != nil {
		return "", err
	}
	cmd := dep.RecomputeCommand(r.vars, r.masterAddress)
	r.metrics.commandSynthesized(ctx)
	return cmd, nil
}

// WriteImage streams the image of every dependency to the sink, in id
// order. Each node is snapshotted under its own lock; the registry lock is
// not held across sink I/O.
func (r *Registry) WriteImage(ctx context.Context, sink ImageSink) error {
	ctx, span := tracer.Start(ctx, "lineage.Registry.WriteImage")
	defer span.End()

	r.mu.RLock()
	ids := make([]int64, 0, len(r.deps))
	for id := range r.deps {
		ids = append(ids, id)
	}
	deps := make([]*Dependency, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		deps = append(deps, r.deps[id])
	}
	r.mu.RUnlock()

	for _, dep := range deps {
		if err := sink.Append(ctx, dep.ToImage()); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("write image for dep %d: %w", dep.ID, err)
		}
	}
	span.SetAttributes(attribute.Int("dependencies", len(deps)))
	return nil
}

// Replay rebuilds the registry from persisted image records.
//
// Description:
//
//	Discards all in-memory state, restores each record via FromImage, then
//	re-derives the downstream edges of every node from parent-file
//	membership across the full replayed set. A decode error aborts the
//	replay with the offending record's error; sources configured to skip
//	corrupt records simply never deliver them.
//
// Outputs:
//
//	error - Non-nil if the source fails or a delivered record is malformed.
func (r *Registry) Replay(ctx context.Context, src ImageSource) error {
	ctx, span := tracer.Start(ctx, "lineage.Registry.Replay")
	defer span.End()
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	deps := make(map[int64]*Dependency)
	byFile := make(map[int64]int64)
	var maxID int64

	err := src.Replay(ctx, func(rec ImageRecord) error {
		dep, err := FromImage(rec)
		if err != nil {
			return err
		}
		deps[dep.ID] = dep
		for _, fileID := range dep.ChildrenFiles() {
			byFile[fileID] = dep.ID
		}
		if dep.ID > maxID {
			maxID = dep.ID
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("replay lineage image: %w", err)
	}

	// Downstream edges are never persisted; re-derive them now that every
	// producer is known.
	for _, dep := range deps {
		for _, fileID := range dep.ParentFiles() {
			if producerID, ok := byFile[fileID]; ok {
				deps[producerID].AddChildDependency(dep.ID)
			}
		}
	}

	r.deps = deps
	r.byFile = byFile
	r.nextID = maxID + 1

	span.SetAttributes(attribute.Int("dependencies", len(deps)))
	r.metrics.replayDuration(ctx, time.Since(start))
	r.logger.Info("lineage registry replayed",
		slog.Int("dependencies", len(deps)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
