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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Dependency is one node in the lineage DAG: the record of how a set of
// output files was produced from a set of input files plus a command.
//
// Description:
//
//	Identity, file endpoints, command template, and descriptive metadata
//	are fixed at construction. Three pieces of state evolve afterwards,
//	all guarded by a single per-node mutex:
//
//	  - uncheckpointed: children files not yet durably persisted. Files
//	    only ever leave this set; a dependency whose set is empty has
//	    checkpointed, and that transition is one-way.
//	  - lostFiles: output file ids reported lost since the last command
//	    synthesis. Consumed (cleared) by RecomputeCommand.
//	  - childrenDeps: downstream dependency ids, discovered lazily as the
//	    registry wires new nodes whose inputs include this node's outputs.
//	    Deduplicated, monotonically non-decreasing.
//
// Thread Safety:
//
//	Safe for concurrent use. Any number of request handlers may report
//	checkpoint completions, file losses, and new edges against the same
//	node; each operation is O(small-set) and never blocks on I/O while
//	holding the node lock.
type Dependency struct {
	// ID is the dependency's globally unique identity, assigned by the
	// registry.
	ID int64

	// CreationTimeMs is the creation timestamp in Unix milliseconds.
	CreationTimeMs int64

	// CommandPrefix is the command template used for recomputation. It may
	// contain $name placeholders resolved against a Variables binding.
	CommandPrefix string

	// Comment, Framework, and FrameworkVersion describe the computation.
	// Framework and FrameworkVersion are passed to recomputation.
	Comment          string
	Framework        string
	FrameworkVersion string

	// Type classifies the input/output fan-out shape.
	Type DependencyType

	parentFiles   []int64
	childrenFiles []int64
	data          [][]byte
	parentDeps    []int64

	mu             sync.Mutex
	uncheckpointed map[int64]struct{}
	lostFiles      map[int64]struct{}
	childrenDeps   []int64
}

// NewDependency creates a lineage node from a full description of the
// computation step.
//
// Description:
//
//	All sequences are deep-copied on entry; callers retain no mutation
//	rights over the node's state. The uncheckpointed set starts as the
//	full children set (nothing is durable yet); restoring a persisted
//	node instead goes through FromImage, which re-applies the exact
//	uncheckpointed snapshot that was stored.
//
// Inputs:
//
//	id - Dependency id allocated by the registry.
//	parents - Input file ids. Must not be nil (empty is allowed).
//	children - Output file ids, index-addressable. Must not be nil.
//	commandPrefix - Recomputation command template.
//	data - Opaque payloads passed to recomputation. May be nil.
//	comment, framework, frameworkVersion - Descriptive metadata.
//	depType - Narrow or Wide.
//	parentDeps - Upstream dependency ids. May be nil.
//	creationTimeMs - Creation timestamp in Unix milliseconds.
//
// Outputs:
//
//	*Dependency - The constructed node.
//	error - ErrInvalidInput (wrapped) if a required sequence is nil or the
//	        type is undefined.
func NewDependency(id int64, parents, children []int64, commandPrefix string,
	data [][]byte, comment, framework, frameworkVersion string,
	depType DependencyType, parentDeps []int64, creationTimeMs int64) (*Dependency, error) {

	if parents == nil {
		return nil, fmt.Errorf("%w: parent files must not be nil", ErrInvalidInput)
	}
	if children == nil {
		return nil, fmt.Errorf("%w: children files must not be nil", ErrInvalidInput)
	}
	if !depType.Valid() {
		return nil, fmt.Errorf("%w: dependency type %d", ErrInvalidInput, int(depType))
	}

	d := &Dependency{
		ID:               id,
		CreationTimeMs:   creationTimeMs,
		CommandPrefix:    commandPrefix,
		Comment:          comment,
		Framework:        framework,
		FrameworkVersion: frameworkVersion,
		Type:             depType,
		parentFiles:      append([]int64(nil), parents...),
		childrenFiles:    append([]int64(nil), children...),
		data:             cloneByteSlices(data),
		parentDeps:       append([]int64(nil), parentDeps...),
		uncheckpointed:   make(map[int64]struct{}, len(children)),
		lostFiles:        make(map[int64]struct{}),
	}
	for _, fileID := range children {
		d.uncheckpointed[fileID] = struct{}{}
	}
	return d, nil
}

// ChildCheckpointed records that a child file has been durably persisted,
// removing it from the uncheckpointed set. Idempotent: a file may be
// reported checkpointed more than once under retried RPCs, and removing an
// absent id is a no-op, not an error.
func (d *Dependency) ChildCheckpointed(fileID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.uncheckpointed, fileID)
}

// HasCheckpointed reports whether every child file has been checkpointed.
// Once true it stays true; files never return to the uncheckpointed set.
func (d *Dependency) HasCheckpointed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.uncheckpointed) == 0
}

// AddLostFile records that an output file was lost. Losses accumulate until
// the next RecomputeCommand call consumes them. Reporting the same file
// twice is a no-op.
func (d *Dependency) AddLostFile(fileID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lostFiles[fileID] = struct{}{}
}

// HasLostFile reports whether any loss is pending.
func (d *Dependency) HasLostFile() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lostFiles) > 0
}

// LostFiles returns a copy of the pending lost file ids, sorted.
func (d *Dependency) LostFiles() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int64, 0, len(d.lostFiles))
	for fileID := range d.lostFiles {
		ids = append(ids, fileID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RecomputeCommand synthesizes the command a worker must execute to
// regenerate the lost outputs of this dependency.
//
// Description:
//
//	The command template is resolved against vars ($name placeholders with
//	no binding stay verbatim), then the master address and the dependency
//	id are appended, then for each index k of the children files whose
//	file id is currently lost, the index k itself. Encoding lost outputs
//	by position keeps the command self-describing; the worker never has to
//	resolve file ids back to output slots.
//
//	The pending loss set is cleared as part of this call. This is a
//	consume-once contract: capture the returned command before calling
//	again, since a second call with no new losses yields a command with no
//	lost-index arguments. Callers that need to retry transport must
//	snapshot the result first.
//
// Inputs:
//
//	vars - Variable resolver. Must not be nil.
//	masterAddress - The master's network address, handed to the worker so
//	                it can report back.
//
// Outputs:
//
//	string - The synthesized command.
func (d *Dependency) RecomputeCommand(vars *Variables, masterAddress string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(vars.Resolve(d.CommandPrefix))
	sb.WriteString(" ")
	sb.WriteString(masterAddress)
	fmt.Fprintf(&sb, " %d", d.ID)
	for k, fileID := range d.childrenFiles {
		if _, lost := d.lostFiles[fileID]; lost {
			fmt.Fprintf(&sb, " %d", k)
		}
	}
	d.lostFiles = make(map[int64]struct{})
	return sb.String()
}

// AddChildDependency registers a downstream dependency: one of this node's
// children files is a parent of the given dependency. Duplicates are
// ignored; edges are never removed. The linear scan is fine at the expected
// fan-out of a single node's direct dependents.
func (d *Dependency) AddChildDependency(depID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.childrenDeps {
		if existing == depID {
			return
		}
	}
	d.childrenDeps = append(d.childrenDeps, depID)
}

// HasChildrenDependency reports whether any downstream dependency has been
// registered.
func (d *Dependency) HasChildrenDependency() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.childrenDeps) > 0
}

// ChildrenDependencies returns a copy of the downstream dependency ids in
// registration order.
func (d *Dependency) ChildrenDependencies() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.childrenDeps...)
}

// UncheckpointedChildrenFiles returns a copy of the children file ids not
// yet checkpointed, sorted.
func (d *Dependency) UncheckpointedChildrenFiles() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int64, 0, len(d.uncheckpointed))
	for fileID := range d.uncheckpointed {
		ids = append(ids, fileID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// restoreUncheckpointed replaces the uncheckpointed set with the snapshot
// read from a persisted image. Checkpoint progress is authoritative state;
// it is never re-derived from the children files.
func (d *Dependency) restoreUncheckpointed(fileIDs []int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uncheckpointed = make(map[int64]struct{}, len(fileIDs))
	for _, fileID := range fileIDs {
		d.uncheckpointed[fileID] = struct{}{}
	}
}

// ParentFiles returns a copy of the input file ids.
func (d *Dependency) ParentFiles() []int64 {
	return append([]int64(nil), d.parentFiles...)
}

// ChildrenFiles returns a copy of the output file ids in positional order.
func (d *Dependency) ChildrenFiles() []int64 {
	return append([]int64(nil), d.childrenFiles...)
}

// Data returns a deep copy of the opaque recomputation payloads.
func (d *Dependency) Data() [][]byte {
	return cloneByteSlices(d.data)
}

// ParentDependencies returns a copy of the upstream dependency ids.
func (d *Dependency) ParentDependencies() []int64 {
	return append([]int64(nil), d.parentDeps...)
}

// ClientDependencyInfo is the read-only projection of a dependency exposed
// to clients: identity, file endpoints, and a defensive copy of the
// recomputation payloads.
type ClientDependencyInfo struct {
	ID       int64    `json:"id"`
	Parents  []int64  `json:"parents"`
	Children []int64  `json:"children"`
	Data     [][]byte `json:"data"`
}

// ClientInfo returns the client-facing snapshot of this dependency. Only
// immutable fields are projected, so no lock is taken.
func (d *Dependency) ClientInfo() ClientDependencyInfo {
	return ClientDependencyInfo{
		ID:       d.ID,
		Parents:  d.ParentFiles(),
		Children: d.ChildrenFiles(),
		Data:     d.Data(),
	}
}

// String renders the dependency for logs.
func (d *Dependency) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("Dependency[id:%d, creationTimeMs:%d, parents:%v, children:%v, commandPrefix:%q, comment:%q, framework:%s/%s, type:%s, parentDeps:%v, childrenDeps:%v, uncheckpointed:%d, lost:%d]",
		d.ID, d.CreationTimeMs, d.parentFiles, d.childrenFiles, d.CommandPrefix,
		d.Comment, d.Framework, d.FrameworkVersion, d.Type, d.parentDeps,
		d.childrenDeps, len(d.uncheckpointed), len(d.lostFiles))
}

// cloneByteSlices deep-copies a list of opaque payloads.
func cloneByteSlices(src [][]byte) [][]byte {
	if src == nil {
		return [][]byte{}
	}
	dst := make([][]byte, len(src))
	for i, b := range src {
		dst[i] = append([]byte(nil), b...)
	}
	return dst
}
