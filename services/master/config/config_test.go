// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "master.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
master_address: "master.tidefs.local:19998"
data_dir: "/var/lib/tidefs"
journal:
  sync_writes: true
  skip_corrupt: true
recompute_variables:
  HOST: "10.0.0.1"
  CLUSTER: "prod"
log_level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MasterAddress != "master.tidefs.local:19998" {
		t.Errorf("MasterAddress = %q", cfg.MasterAddress)
	}
	if !cfg.Journal.SkipCorrupt {
		t.Error("Journal.SkipCorrupt not loaded")
	}
	if cfg.RecomputeVariables["CLUSTER"] != "prod" {
		t.Errorf("RecomputeVariables = %v", cfg.RecomputeVariables)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
master_address: "localhost:19998"
data_dir: "/tmp/tidefs"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Journal.SyncWrites {
		t.Error("journal sync writes must default on")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.RecomputeVariables == nil {
		t.Error("RecomputeVariables must never be nil")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TIDEFS_VAR_HOST", "192.168.1.5")
	t.Setenv("TIDEFS_VAR_REGION", "us-west")

	path := writeConfig(t, `
master_address: "localhost:19998"
data_dir: "/tmp/tidefs"
recompute_variables:
  HOST: "10.0.0.1"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RecomputeVariables["HOST"] != "192.168.1.5" {
		t.Errorf("HOST = %q, env must win over file", cfg.RecomputeVariables["HOST"])
	}
	if cfg.RecomputeVariables["REGION"] != "us-west" {
		t.Errorf("REGION = %q, env-only variables must merge in", cfg.RecomputeVariables["REGION"])
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantSub string
	}{
		{
			name:    "missing master address",
			content: "data_dir: /tmp/tidefs\n",
			wantSub: "MasterAddress",
		},
		{
			name:    "bad address format",
			content: "master_address: not-a-hostport\ndata_dir: /tmp/tidefs\n",
			wantSub: "MasterAddress",
		},
		{
			name:    "missing data dir",
			content: "master_address: localhost:19998\n",
			wantSub: "DataDir",
		},
		{
			name:    "bad log level",
			content: "master_address: localhost:19998\ndata_dir: /tmp\nlog_level: verbose\n",
			wantSub: "LogLevel",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not name field %q", err, tc.wantSub)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "master_address: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMergeEnvVariables(t *testing.T) {
	vars := map[string]string{"HOST": "file-host"}
	mergeEnvVariables(vars, []string{
		"TIDEFS_VAR_HOST=env-host",
		"TIDEFS_VAR_=ignored",
		"PATH=/usr/bin",
		"TIDEFS_VAR_EMPTY_VALUE=",
	})
	if vars["HOST"] != "env-host" {
		t.Errorf("HOST = %q", vars["HOST"])
	}
	if _, ok := vars[""]; ok {
		t.Error("empty variable name must be ignored")
	}
	if v, ok := vars["EMPTY_VALUE"]; !ok || v != "" {
		t.Errorf("EMPTY_VALUE = %q,%v; empty values are legal", v, ok)
	}
}
