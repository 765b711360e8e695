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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tidefs/pkg/logging"
	"github.com/AleutianAI/tidefs/services/master/config"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.MasterAddress = "master:19998"
	cfg.DataDir = t.TempDir()
	cfg.Journal.InMemory = true
	cfg.RecomputeVariables = map[string]string{"HOST": "10.0.0.1"}

	logger := logging.New(logging.Config{Quiet: true})
	svc, err := NewService(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, _ := http.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createDependency(t *testing.T, router *gin.Engine, req CreateDependencyRequest) CreateDependencyResponse {
	t.Helper()
	w := postJSON(t, router, "/v1/lineage/dependencies", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create dependency: status %d, body %s", w.Code, w.Body.String())
	}
	var resp CreateDependencyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	req, _ := http.NewRequest("GET", "/v1/lineage/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
	if resp.Version != ServiceVersion {
		t.Errorf("expected version %q, got %q", ServiceVersion, resp.Version)
	}
	if resp.InstanceID == "" {
		t.Error("expected a non-empty instance id")
	}
}

func TestHandlers_CreateDependency(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	upstream := createDependency(t, router, CreateDependencyRequest{
		ParentFiles:   []int64{},
		ChildrenFiles: []int64{10, 11},
		CommandPrefix: "gen.sh",
		DepType:       "NARROW",
	})
	if upstream.DepID != 1 {
		t.Errorf("first dep id = %d, want 1", upstream.DepID)
	}

	downstream := createDependency(t, router, CreateDependencyRequest{
		ParentFiles:   []int64{11},
		ChildrenFiles: []int64{20},
		CommandPrefix: "agg.sh",
		DepType:       "WIDE",
	})
	if len(downstream.ParentDeps) != 1 || downstream.ParentDeps[0] != upstream.DepID {
		t.Errorf("derived parent deps = %v, want [%d]", downstream.ParentDeps, upstream.DepID)
	}
}

func TestHandlers_CreateDependency_Errors(t *testing.T) {
	router := setupTestRouter(newTestService(t))
	createDependency(t, router, CreateDependencyRequest{
		ChildrenFiles: []int64{10},
		DepType:       "NARROW",
	})

	testCases := []struct {
		name       string
		req        CreateDependencyRequest
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no output files",
			req:        CreateDependencyRequest{DepType: "NARROW"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name: "unknown dep type",
			req: CreateDependencyRequest{
				ChildrenFiles: []int64{30}, DepType: "SHUFFLE",
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "UNKNOWN_DEP_TYPE",
		},
		{
			name: "bad base64 data",
			req: CreateDependencyRequest{
				ChildrenFiles: []int64{30}, DepType: "NARROW",
				Data: []string{"not!!base64"},
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name: "duplicate output file",
			req: CreateDependencyRequest{
				ChildrenFiles: []int64{10}, DepType: "NARROW",
			},
			wantStatus: http.StatusConflict,
			wantCode:   "FILE_ALREADY_PRODUCED",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, router, "/v1/lineage/dependencies", tc.req)
			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tc.wantStatus, w.Body.String())
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal error response: %v", err)
			}
			if resp.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tc.wantCode)
			}
		})
	}
}

func TestHandlers_GetDependency(t *testing.T) {
	router := setupTestRouter(newTestService(t))
	created := createDependency(t, router, CreateDependencyRequest{
		ParentFiles:   []int64{5},
		ChildrenFiles: []int64{10, 11},
		DepType:       "NARROW",
	})

	req, _ := http.NewRequest("GET", fmt.Sprintf("/v1/lineage/dependencies/%d", created.DepID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp DependencyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ID != created.DepID {
		t.Errorf("id = %d, want %d", resp.ID, created.DepID)
	}
	if len(resp.Children) != 2 {
		t.Errorf("children = %v", resp.Children)
	}

	req, _ = http.NewRequest("GET", "/v1/lineage/dependencies/999", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", w.Code)
	}

	req, _ = http.NewRequest("GET", "/v1/lineage/dependencies/abc", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: status = %d, want 400", w.Code)
	}
}

func TestHandlers_LossAndRecompute(t *testing.T) {
	router := setupTestRouter(newTestService(t))
	created := createDependency(t, router, CreateDependencyRequest{
		ParentFiles:   []int64{},
		ChildrenFiles: []int64{30, 31, 32},
		CommandPrefix: "regen.sh $HOST",
		DepType:       "NARROW",
	})

	w := postJSON(t, router, fmt.Sprintf("/v1/lineage/dependencies/%d/lost", created.DepID),
		FileEventRequest{FileID: 31})
	if w.Code != http.StatusNoContent {
		t.Fatalf("loss report: status = %d, body %s", w.Code, w.Body.String())
	}

	w = postJSON(t, router, fmt.Sprintf("/v1/lineage/dependencies/%d/recompute", created.DepID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recompute: status = %d, body %s", w.Code, w.Body.String())
	}
	var resp RecomputeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	want := fmt.Sprintf("regen.sh 10.0.0.1 master:19998 %d 1", created.DepID)
	if resp.Command != want {
		t.Errorf("command = %q, want %q", resp.Command, want)
	}

	// The command is consumed; a second request carries no file indices.
	w = postJSON(t, router, fmt.Sprintf("/v1/lineage/dependencies/%d/recompute", created.DepID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second recompute: status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	wantEmpty := fmt.Sprintf("regen.sh 10.0.0.1 master:19998 %d", created.DepID)
	if resp.Command != wantEmpty {
		t.Errorf("consumed command = %q, want %q", resp.Command, wantEmpty)
	}
}

func TestHandlers_CheckpointAndImage(t *testing.T) {
	router := setupTestRouter(newTestService(t))
	created := createDependency(t, router, CreateDependencyRequest{
		ParentFiles:   []int64{},
		ChildrenFiles: []int64{10, 11},
		DepType:       "NARROW",
	})

	for _, fileID := range []int64{10, 11} {
		w := postJSON(t, router, fmt.Sprintf("/v1/lineage/dependencies/%d/checkpoint", created.DepID),
			FileEventRequest{FileID: fileID})
		if w.Code != http.StatusNoContent {
			t.Fatalf("checkpoint report: status = %d, body %s", w.Code, w.Body.String())
		}
	}

	w := postJSON(t, router, "/v1/lineage/image", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("image write: status = %d, body %s", w.Code, w.Body.String())
	}

	w = postJSON(t, router, "/v1/lineage/dependencies/999/checkpoint", FileEventRequest{FileID: 1})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown dep: status = %d, want 404", w.Code)
	}
}
