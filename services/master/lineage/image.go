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
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ImageRecord is the persistent image of one dependency: a name-tagged JSON
// record, one per node, written to the master's image journal and read back
// on restart.
//
// The encoding is self-describing, so readers tolerate fields in any order;
// the writer keeps field order stable for a given codec version. Opaque
// payloads are base64-encoded for the text format.
//
// Two pieces of node state are intentionally absent: childrenDeps (downstream
// edges are re-derived from parent-file membership when the full node set is
// replayed, never stored redundantly) and lostFiles (transient recovery
// bookkeeping that does not survive restart).
type ImageRecord struct {
	DepID                       int64          `json:"dep_id"`
	ParentFiles                 []int64        `json:"parent_files"`
	ChildrenFiles               []int64        `json:"children_files"`
	CommandPrefix               string         `json:"command_prefix"`
	Data                        []string       `json:"data"`
	Comment                     string         `json:"comment"`
	Framework                   string         `json:"framework"`
	FrameworkVersion            string         `json:"framework_version"`
	DepType                     DependencyType `json:"dep_type"`
	ParentDeps                  []int64        `json:"parent_deps"`
	CreationTimeMs              int64          `json:"creation_time_ms"`
	UncheckpointedChildrenFiles []int64        `json:"uncheckpointed_children_files"`
}

// ToImage produces the persistent image of the dependency, including the
// current uncheckpointed-children snapshot.
func (d *Dependency) ToImage() ImageRecord {
	data := make([]string, len(d.data))
	for i, payload := range d.data {
		data[i] = base64.StdEncoding.EncodeToString(payload)
	}
	return ImageRecord{
		DepID:                       d.ID,
		ParentFiles:                 d.ParentFiles(),
		ChildrenFiles:               d.ChildrenFiles(),
		CommandPrefix:               d.CommandPrefix,
		Data:                        data,
		Comment:                     d.Comment,
		Framework:                   d.Framework,
		FrameworkVersion:            d.FrameworkVersion,
		DepType:                     d.Type,
		ParentDeps:                  d.ParentDependencies(),
		CreationTimeMs:              d.CreationTimeMs,
		UncheckpointedChildrenFiles: d.UncheckpointedChildrenFiles(),
	}
}

// FromImage reconstructs a dependency from its persistent image.
//
// Description:
//
//	Inverse of ToImage. The uncheckpointed set is restored exactly as
//	stored, not recomputed from the children files: checkpoint progress is
//	authoritative state that is not otherwise recoverable. The downstream
//	edge list and lost-file set start empty; the registry re-derives edges
//	after the full node set has been replayed.
//
// Outputs:
//
//	*Dependency - The restored node.
//	error - ErrDecode (wrapped) if a required field is missing or malformed.
//	        The failure is local to this record.
func FromImage(rec ImageRecord) (*Dependency, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}

	data := make([][]byte, len(rec.Data))
	for i, encoded := range rec.Data {
		payload, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: dep %d: data[%d]: %v", ErrDecode, rec.DepID, i, err)
		}
		data[i] = payload
	}

	d, err := NewDependency(rec.DepID, rec.ParentFiles, rec.ChildrenFiles,
		rec.CommandPrefix, data, rec.Comment, rec.Framework,
		rec.FrameworkVersion, rec.DepType, rec.ParentDeps, rec.CreationTimeMs)
	if err != nil {
		return nil, fmt.Errorf("%w: dep %d: %v", ErrDecode, rec.DepID, err)
	}
	d.restoreUncheckpointed(rec.UncheckpointedChildrenFiles)
	return d, nil
}

// validate checks the record-level invariants before reconstruction.
func (rec ImageRecord) validate() error {
	if rec.DepID <= 0 {
		return fmt.Errorf("%w: missing or non-positive dep_id (%d)", ErrDecode, rec.DepID)
	}
	if rec.ParentFiles == nil {
		return fmt.Errorf("%w: dep %d: missing parent_files", ErrDecode, rec.DepID)
	}
	if rec.ChildrenFiles == nil {
		return fmt.Errorf("%w: dep %d: missing children_files", ErrDecode, rec.DepID)
	}
	if !rec.DepType.Valid() {
		return fmt.Errorf("%w: dep %d: %v", ErrDecode, rec.DepID,
			fmt.Errorf("%w: %d", ErrUnknownDependencyType, int(rec.DepType)))
	}
	if rec.CreationTimeMs <= 0 {
		return fmt.Errorf("%w: dep %d: missing creation_time_ms", ErrDecode, rec.DepID)
	}
	if rec.UncheckpointedChildrenFiles == nil {
		return fmt.Errorf("%w: dep %d: missing uncheckpointed_children_files", ErrDecode, rec.DepID)
	}
	children := make(map[int64]struct{}, len(rec.ChildrenFiles))
	for _, fileID := range rec.ChildrenFiles {
		children[fileID] = struct{}{}
	}
	for _, fileID := range rec.UncheckpointedChildrenFiles {
		if _, ok := children[fileID]; !ok {
			return fmt.Errorf("%w: dep %d: uncheckpointed file %d is not a child",
				ErrDecode, rec.DepID, fileID)
		}
	}
	return nil
}

// EncodeImage serializes an image record to its JSON wire form.
func EncodeImage(rec ImageRecord) ([]byte, error) {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode image for dep %d: %w", rec.DepID, err)
	}
	return encoded, nil
}

// DecodeImage parses the JSON wire form of an image record. The record is
// not validated here; FromImage performs the semantic checks.
func DecodeImage(data []byte) (ImageRecord, error) {
	var rec ImageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ImageRecord{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return rec, nil
}
