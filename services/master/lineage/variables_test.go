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

import "testing"

func TestVariables_Resolve(t *testing.T) {
	vars := NewVariables(map[string]string{"HOST": "10.0.0.1"})

	testCases := []struct {
		name     string
		template string
		want     string
	}{
		{"bound variable", "run.sh $HOST --id", "run.sh 10.0.0.1 --id"},
		{"unbound left verbatim", "run.sh $MISSING --id", "run.sh $MISSING --id"},
		{"mixed", "$HOST $MISSING $HOST", "10.0.0.1 $MISSING 10.0.0.1"},
		{"no placeholders", "run.sh --id", "run.sh --id"},
		{"empty template", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := vars.Resolve(tc.template); got != tc.want {
				t.Errorf("Resolve(%q) = %q, want %q", tc.template, got, tc.want)
			}
		})
	}
}

func TestVariables_LongestNameFirst(t *testing.T) {
	vars := NewVariables(map[string]string{
		"HOST":     "short",
		"HOSTNAME": "long",
	})
	if got := vars.Resolve("$HOSTNAME/$HOST"); got != "long/short" {
		t.Errorf("Resolve = %q, want %q", got, "long/short")
	}
}

func TestVariables_Immutable(t *testing.T) {
	bindings := map[string]string{"HOST": "10.0.0.1"}
	vars := NewVariables(bindings)

	bindings["HOST"] = "mutated"
	bindings["NEW"] = "added"

	if got, _ := vars.Lookup("HOST"); got != "10.0.0.1" {
		t.Errorf("Lookup(HOST) = %q after caller mutation, want 10.0.0.1", got)
	}
	if _, ok := vars.Lookup("NEW"); ok {
		t.Error("binding added after construction must not be visible")
	}
	if vars.Len() != 1 {
		t.Errorf("Len = %d, want 1", vars.Len())
	}
}

func TestVariables_NilBindings(t *testing.T) {
	vars := NewVariables(nil)
	if got := vars.Resolve("run.sh $HOST"); got != "run.sh $HOST" {
		t.Errorf("Resolve = %q, want template unchanged", got)
	}
}
