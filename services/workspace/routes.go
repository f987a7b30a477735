// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/changegraph/services/workspace/telemetry"
)

// RegisterRoutes registers the change-set endpoints on rg.
//
// Description:
//
//	rg is typically the /v1 group and should already carry any middleware.
//
// Endpoints:
//
//	POST   /v1/changesets                        - Create (or fork with "base")
//	GET    /v1/changesets                        - List change sets
//	GET    /v1/changesets/:id                    - Snapshot summary
//	GET    /v1/changesets/:id/nodes/:node_id     - One node with its edges
//	GET    /v1/changesets/:id/views              - List views
//	POST   /v1/changesets/:id/views              - Create a view
//	DELETE /v1/changesets/:id/views/:view_id     - Remove a view
//	GET    /v1/changesets/:id/rebase?onto=       - Rebase batch onto another change set
//	POST   /v1/changesets/:id/apply?from=        - Apply another change set's batch
//	GET    /v1/changesets/:id/changes?against=   - Changed entities
//	GET    /v1/changesets/:id/approvals?against= - Approval requirements of changes
//	GET    /v1/health                            - Liveness
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/health", h.HandleHealth)

	cs := rg.Group("/changesets")
	cs.POST("", h.HandleCreateChangeSet)
	cs.GET("", h.HandleListChangeSets)
	cs.GET("/:id", h.HandleGetChangeSet)
	cs.GET("/:id/nodes/:node_id", h.HandleGetNode)
	cs.GET("/:id/views", h.HandleListViews)
	cs.POST("/:id/views", h.HandleCreateView)
	cs.DELETE("/:id/views/:view_id", h.HandleRemoveView)
	cs.GET("/:id/rebase", h.HandleRebase)
	cs.POST("/:id/apply", h.HandleApply)
	cs.GET("/:id/changes", h.HandleChanges)
	cs.GET("/:id/approvals", h.HandleApprovals)
}

// NewRouter builds the gin engine with tracing, metrics and /metrics.
func NewRouter(svc *Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(svc.cfg.Telemetry.ServiceName))
	if m := svc.Metrics(); m != nil {
		router.Use(telemetry.GinMetrics(m))
	}
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))
	return router
}

// Serve runs the HTTP API on cfg.HTTP.Addr until ctx is cancelled, then
// shuts down gracefully within cfg.HTTP.ShutdownTimeout.
func (s *Service) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           NewRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	timeout := s.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("http api shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
