// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package master

import (
	"github.com/AleutianAI/tidefs/services/master/lineage"
)

// CreateDependencyRequest is the request body for POST /v1/lineage/dependencies.
type CreateDependencyRequest struct {
	// ParentFiles are the input file ids. May be empty for source jobs.
	ParentFiles []int64 `json:"parent_files"`

	// ChildrenFiles are the output file ids. Must be non-empty.
	ChildrenFiles []int64 `json:"children_files" binding:"required,min=1"`

	// CommandPrefix is the recompute command template. May contain $NAME
	// variables.
	CommandPrefix string `json:"command_prefix"`

	// Data are opaque framework payloads, base64 encoded.
	Data []string `json:"data"`

	// Comment is a free-form description.
	Comment string `json:"comment"`

	// Framework names the compute framework that ran the job.
	Framework string `json:"framework"`

	// FrameworkVersion is the framework version string.
	FrameworkVersion string `json:"framework_version"`

	// DepType is "NARROW" or "WIDE".
	DepType string `json:"dep_type" binding:"required"`
}

// CreateDependencyResponse is the response for POST /v1/lineage/dependencies.
type CreateDependencyResponse struct {
	// DepID is the id assigned to the new dependency.
	DepID int64 `json:"dep_id"`

	// ParentDeps are the derived upstream dependency ids.
	ParentDeps []int64 `json:"parent_deps"`
}

// FileEventRequest reports a checkpoint or loss event for one output file.
type FileEventRequest struct {
	// FileID is the affected output file.
	FileID int64 `json:"file_id" binding:"required"`
}

// RecomputeResponse carries the synthesized recomputation command.
type RecomputeResponse struct {
	// DepID is the dependency the command regenerates files for.
	DepID int64 `json:"dep_id"`

	// Command is the fully resolved recompute command. Empty when the
	// dependency had no lost files pending.
	Command string `json:"command"`
}

// DependencyResponse is the client projection of one lineage node.
type DependencyResponse struct {
	lineage.ClientDependencyInfo
}

// HealthResponse is the response for GET /v1/lineage/health.
type HealthResponse struct {
	// Status is "healthy" when the service is up.
	Status string `json:"status"`

	// Version is the master service version.
	Version string `json:"version"`

	// InstanceID identifies this master process.
	InstanceID string `json:"instance_id"`

	// DependencyCount is the number of lineage nodes in memory.
	DependencyCount int `json:"dependency_count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}
