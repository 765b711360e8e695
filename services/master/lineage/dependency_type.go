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
	"encoding/json"
	"fmt"
)

// DependencyType classifies the fan-in/fan-out shape between a dependency's
// inputs and outputs. Narrow means each output depends on one input
// partition; Wide means outputs depend on many inputs. The type affects the
// recomputation fan-out policy downstream and is never mutated here.
type DependencyType int

const (
	// Narrow dependencies regenerate each lost output from a single input
	// partition.
	Narrow DependencyType = 1

	// Wide dependencies need many inputs to regenerate any output.
	Wide DependencyType = 2
)

// String returns the textual code used in image records and logs.
func (t DependencyType) String() string {
	switch t {
	case Narrow:
		return "NARROW"
	case Wide:
		return "WIDE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// Valid reports whether t is one of the defined dependency types.
func (t DependencyType) Valid() bool {
	return t == Narrow || t == Wide
}

// ParseDependencyType parses the textual code of a dependency type.
//
// Outputs:
//
//	DependencyType - The parsed type on success.
//	error - ErrUnknownDependencyType (wrapped) if the code is not recognized.
func ParseDependencyType(code string) (DependencyType, error) {
	switch code {
	case "NARROW":
		return Narrow, nil
	case "WIDE":
		return Wide, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDependencyType, code)
}

// MarshalJSON encodes the type as its textual code so image records stay
// self-describing.
func (t DependencyType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDependencyType, int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the textual code.
func (t *DependencyType) UnmarshalJSON(data []byte) error {
	var code string
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("%w: dependency type: %v", ErrDecode, err)
	}
	parsed, err := ParseDependencyType(code)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
