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
	"sort"
	"strings"
)

// Variables is an immutable mapping from variable name to substitution
// value, consulted when a recomputation command is synthesized from a
// command template.
//
// Description:
//
//	Bindings are derived from configuration and environment at master
//	startup and never change for the lifetime of the process, so lookups
//	need no locking. Inject the resolver where it is needed rather than
//	reading ambient global state; this keeps command synthesis testable
//	in isolation.
//
// Thread Safety: Safe for concurrent use; the map is never mutated after
// construction.
type Variables struct {
	values map[string]string

	// names sorted longest-first so that $HOSTNAME is substituted before
	// $HOST when both are bound.
	names []string
}

// NewVariables creates a resolver from the given bindings.
//
// The map is copied; callers may mutate their copy afterwards. A nil map
// yields a resolver that leaves every template unchanged.
func NewVariables(bindings map[string]string) *Variables {
	values := make(map[string]string, len(bindings))
	names := make([]string, 0, len(bindings))
	for name, value := range bindings {
		values[name] = value
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return &Variables{values: values, names: names}
}

// Lookup returns the value bound to name.
func (v *Variables) Lookup(name string) (string, bool) {
	value, ok := v.values[name]
	return value, ok
}

// Len returns the number of bindings.
func (v *Variables) Len() int {
	return len(v.values)
}

// Resolve replaces every occurrence of $name in the template with the value
// bound to name. Names with no binding are left verbatim; the template is
// resolver-agnostic and an unknown variable is not an error at this layer.
func (v *Variables) Resolve(template string) string {
	resolved := template
	for _, name := range v.names {
		resolved = strings.ReplaceAll(resolved, "$"+name, v.values[name])
	}
	return resolved
}
