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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/tidefs/services/master/lineage"
)

// Handlers contains the HTTP handlers for the lineage API.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleCreateDependency handles POST /v1/lineage/dependencies.
//
// Request Body:
//
//	CreateDependencyRequest
//
// Response:
//
//	201 Created: CreateDependencyResponse
//	400 Bad Request: Validation error
//	409 Conflict: An output file already has a producer
func (h *Handlers) HandleCreateDependency(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCreateDependency")

	var req CreateDependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.CreateDependency(c.Request.Context(), req)
	if err != nil {
		status, code := http.StatusInternalServerError, "CREATE_FAILED"
		switch {
		case errors.Is(err, lineage.ErrFileAlreadyProduced):
			status, code = http.StatusConflict, "FILE_ALREADY_PRODUCED"
		case errors.Is(err, lineage.ErrUnknownDependencyType):
			status, code = http.StatusBadRequest, "UNKNOWN_DEP_TYPE"
		case errors.Is(err, lineage.ErrInvalidInput):
			status, code = http.StatusBadRequest, "INVALID_REQUEST"
		}
		logger.Error("Create dependency failed", "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Dependency created", "dep_id", resp.DepID)
	c.JSON(http.StatusCreated, resp)
}

// HandleGetDependency handles GET /v1/lineage/dependencies/:id.
//
// Response:
//
//	200 OK: DependencyResponse
//	404 Not Found: Unknown dependency id
func (h *Handlers) HandleGetDependency(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetDependency")

	depID, ok := pathDepID(c)
	if !ok {
		return
	}

	info, err := h.svc.GetDependency(c.Request.Context(), depID)
	if err != nil {
		logger.Warn("Dependency lookup failed", "dep_id", depID, "error", err)
		c.JSON(statusForLookup(err), ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, DependencyResponse{ClientDependencyInfo: info})
}

// HandleCheckpoint handles POST /v1/lineage/dependencies/:id/checkpoint.
//
// Reports that one output file of the dependency reached durable storage.
// Duplicate reports are accepted and ignored.
//
// Response:
//
//	204 No Content
//	404 Not Found: Unknown dependency id
func (h *Handlers) HandleCheckpoint(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCheckpoint")

	depID, ok := pathDepID(c)
	if !ok {
		return
	}
	var req FileEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.svc.MarkCheckpointed(c.Request.Context(), depID, req.FileID); err != nil {
		logger.Error("Checkpoint report failed", "dep_id", depID, "error", err)
		c.JSON(statusForLookup(err), ErrorResponse{Error: err.Error(), Code: "CHECKPOINT_FAILED"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleFileLost handles POST /v1/lineage/dependencies/:id/lost.
//
// Reports the loss of one output file. Losses accumulate on the node until
// a recompute command is requested.
//
// Response:
//
//	204 No Content
//	404 Not Found: Unknown dependency id
func (h *Handlers) HandleFileLost(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFileLost")

	depID, ok := pathDepID(c)
	if !ok {
		return
	}
	var req FileEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.svc.MarkFileLost(c.Request.Context(), depID, req.FileID); err != nil {
		logger.Error("Loss report failed", "dep_id", depID, "error", err)
		c.JSON(statusForLookup(err), ErrorResponse{Error: err.Error(), Code: "LOSS_REPORT_FAILED"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleRecompute handles POST /v1/lineage/dependencies/:id/recompute.
//
// Synthesizes and consumes the recomputation command for the dependency's
// pending lost files. A second call without new losses returns a command
// with no file indices.
//
// Response:
//
//	200 OK: RecomputeResponse
//	404 Not Found: Unknown dependency id
func (h *Handlers) HandleRecompute(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecompute")

	depID, ok := pathDepID(c)
	if !ok {
		return
	}

	cmd, err := h.svc.RecomputeCommand(c.Request.Context(), depID)
	if err != nil {
		logger.Error("Recompute command failed", "dep_id", depID, "error", err)
		c.JSON(statusForLookup(err), ErrorResponse{Error: err.Error(), Code: "RECOMPUTE_FAILED"})
		return
	}

	logger.Info("Recompute command issued", "dep_id", depID)
	c.JSON(http.StatusOK, RecomputeResponse{DepID: depID, Command: cmd})
}

// HandleWriteImage handles POST /v1/lineage/image.
//
// Streams the full lineage image to the journal. Exposed for the external
// checkpoint scheduler.
//
// Response:
//
//	204 No Content
//	500 Internal Server Error: Journal write failed
func (h *Handlers) HandleWriteImage(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleWriteImage")

	if err := h.svc.WriteImage(c.Request.Context()); err != nil {
		logger.Error("Image write failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "IMAGE_WRITE_FAILED",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /v1/lineage/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health())
}

// pathDepID parses the :id path parameter, writing the error response
// itself when the parameter is malformed.
func pathDepID(c *gin.Context) (int64, bool) {
	depID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || depID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Dependency id must be a positive integer",
			Code:  "INVALID_DEP_ID",
		})
		return 0, false
	}
	return depID, true
}

// statusForLookup maps lookup errors to HTTP status codes.
func statusForLookup(err error) int {
	if errors.Is(err, lineage.ErrDependencyNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
