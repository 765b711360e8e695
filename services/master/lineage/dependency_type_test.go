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
	"errors"
	"testing"
)

func TestParseDependencyType(t *testing.T) {
	testCases := []struct {
		code string
		want DependencyType
	}{
		{"NARROW", Narrow},
		{"WIDE", Wide},
	}
	for _, tc := range testCases {
		t.Run(tc.code, func(t *testing.T) {
			got, err := ParseDependencyType(tc.code)
			if err != nil {
				t.Fatalf("ParseDependencyType(%q): %v", tc.code, err)
			}
			if got != tc.want {
				t.Errorf("ParseDependencyType(%q) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}

func TestParseDependencyType_Unknown(t *testing.T) {
	for _, code := range []string{"", "narrow", "SHUFFLE"} {
		if _, err := ParseDependencyType(code); !errors.Is(err, ErrUnknownDependencyType) {
			t.Errorf("ParseDependencyType(%q): expected ErrUnknownDependencyType, got %v", code, err)
		}
	}
}

func TestDependencyType_JSONRoundTrip(t *testing.T) {
	for _, depType := range []DependencyType{Narrow, Wide} {
		encoded, err := json.Marshal(depType)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", depType, err)
		}
		var decoded DependencyType
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			t.Fatalf("Unmarshal(%s): %v", encoded, err)
		}
		if decoded != depType {
			t.Errorf("round trip %v -> %s -> %v", depType, encoded, decoded)
		}
	}
}

func TestDependencyType_UnmarshalUnknown(t *testing.T) {
	var depType DependencyType
	err := json.Unmarshal([]byte(`"SHUFFLE"`), &depType)
	if !errors.Is(err, ErrUnknownDependencyType) {
		t.Errorf("expected ErrUnknownDependencyType, got %v", err)
	}
}

func TestDependencyType_MarshalInvalid(t *testing.T) {
	if _, err := json.Marshal(DependencyType(42)); err == nil {
		t.Error("expected error marshaling undefined dependency type")
	}
}
