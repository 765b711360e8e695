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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all lineage routes with the router.
//
// Description:
//
//	Registers all /v1/lineage/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/lineage/dependencies - Register a computation step
//	GET  /v1/lineage/dependencies/:id - Get a dependency's client view
//	POST /v1/lineage/dependencies/:id/checkpoint - Report a checkpointed file
//	POST /v1/lineage/dependencies/:id/lost - Report a lost file
//	POST /v1/lineage/dependencies/:id/recompute - Issue the recompute command
//	POST /v1/lineage/image - Write the full lineage image
//	GET  /v1/lineage/health - Health check
//
// Example:
//
//	svc, _ := master.NewService(ctx, cfg, logger)
//	handlers := master.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	master.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	lineageGroup := rg.Group("/lineage")
	{
		lineageGroup.POST("/dependencies", handlers.HandleCreateDependency)
		lineageGroup.GET("/dependencies/:id", handlers.HandleGetDependency)
		lineageGroup.POST("/dependencies/:id/checkpoint", handlers.HandleCheckpoint)
		lineageGroup.POST("/dependencies/:id/lost", handlers.HandleFileLost)
		lineageGroup.POST("/dependencies/:id/recompute", handlers.HandleRecompute)

		lineageGroup.POST("/image", handlers.HandleWriteImage)

		lineageGroup.GET("/health", handlers.HandleHealth)
	}
}
