// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lineage tracks how the master's output files were produced so that
// a lost file can be regenerated by re-running the original computation
// instead of being re-fetched from a replica.
//
// The central type is Dependency: one node in the lineage DAG, recording the
// input files consumed, the output files produced, and the command template
// that regenerates those outputs. The Registry owns all nodes, allocates
// their ids, and wires the parent/child edges between them.
//
// # Ownership Model
//
// A Dependency is created once with a full, immutable description of its
// inputs, outputs, and command. After construction only three pieces of
// state evolve, all driven by external events:
//
//   - the set of children files not yet checkpointed (durably persisted)
//   - the set of files reported lost since the last command synthesis
//   - the list of downstream dependency ids discovered as the graph grows
//
// Nodes are never deleted in normal operation; lineage must remain available
// for recomputation of any live file.
//
// # Thread Safety
//
// Every mutable-state operation on a Dependency runs under a single per-node
// mutex. Immutable fields need no locking. The Registry serializes its own
// index mutations with a separate RWMutex and never holds a node lock across
// journal I/O.
package lineage

import "errors"

// Sentinel errors for lineage operations.
var (
	// ErrInvalidInput is returned when a constructor or operation receives
	// malformed input, such as a nil file sequence where one is required.
	// Construction fails fast rather than silently defaulting.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDecode is returned when a persisted image record is malformed or
	// missing a required field. The error is local to one record; the image
	// replayer decides whether it aborts master startup.
	ErrDecode = errors.New("malformed image record")

	// ErrUnknownDependencyType is returned when a textual dependency type
	// code cannot be parsed. During image decode it surfaces as ErrDecode.
	ErrUnknownDependencyType = errors.New("unknown dependency type")

	// ErrDependencyNotFound is returned when an operation references a
	// dependency id the registry has never allocated.
	ErrDependencyNotFound = errors.New("dependency not found")

	// ErrFileAlreadyProduced is returned when a new dependency claims an
	// output file that an existing dependency already produces.
	ErrFileAlreadyProduced = errors.New("file already produced by another dependency")
)
