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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/changegraph/services/workspace/changeset"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/snapshot"
	"github.com/AleutianAI/changegraph/services/workspace/telemetry"
)

// Handlers serves the change-set inspection API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers backed by svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, logger: svc.logger.With(slog.String("component", "api"))}
}

// HandleCreateChangeSet handles POST /v1/changesets.
//
// Request Body:
//
//	CreateChangeSetRequest
//
// Response:
//
//	201 Created: ChangeSetResponse
//	400 Bad Request: Invalid body or base identifier
//	404 Not Found: Base change set does not exist
//	409 Conflict: Base change set has no snapshot
func (h *Handlers) HandleCreateChangeSet(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateChangeSet")

	var req CreateChangeSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		h.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err, nil)
		return
	}

	ctx := c.Request.Context()
	if req.Base == "" {
		cs, err := h.svc.CreateChangeSet(ctx, req.Name)
		if err != nil {
			h.respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusCreated, changeSetResponse(cs))
		return
	}

	base, err := ids.ParseID(string(req.Base))
	if err != nil {
		h.fail(c, http.StatusBadRequest, "INVALID_ID", err, nil)
		return
	}
	cs, err := h.svc.ForkChangeSet(ctx, base, req.Name)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, changeSetResponse(cs))
}

// HandleListChangeSets handles GET /v1/changesets.
func (h *Handlers) HandleListChangeSets(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListChangeSets")
	sets, err := h.svc.ChangeSets(c.Request.Context())
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	resp := ChangeSetsResponse{ChangeSets: make([]ChangeSetResponse, 0, len(sets))}
	for _, cs := range sets {
		resp.ChangeSets = append(resp.ChangeSets, changeSetResponse(cs))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGetChangeSet handles GET /v1/changesets/:id.
//
// Response:
//
//	200 OK: SummaryResponse
//	404 Not Found: Unknown change set
//	503 Service Unavailable: Snapshot not visible after retries
func (h *Handlers) HandleGetChangeSet(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetChangeSet")
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	sum, err := h.svc.Summarize(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, SummaryResponse{
		ChangeSetResponse: changeSetResponse(sum.ChangeSet),
		RootID:            uuidOf(sum.RootID),
		NodeCount:         sum.NodeCount,
		PartitionCount:    sum.PartitionCount,
		Views:             viewResponses(sum.Views),
	})
}

// HandleGetNode handles GET /v1/changesets/:id/nodes/:node_id.
func (h *Handlers) HandleGetNode(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetNode")
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	node, ok := h.pathID(c, "node_id")
	if !ok {
		return
	}
	detail, err := h.svc.Node(c.Request.Context(), id, node)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, nodeResponse(detail))
}

// HandleListViews handles GET /v1/changesets/:id/views.
func (h *Handlers) HandleListViews(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListViews")
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	views, err := h.svc.Views(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ViewsResponse{Views: viewResponses(views)})
}

// HandleCreateView handles POST /v1/changesets/:id/views.
func (h *Handlers) HandleCreateView(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateView")
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req CreateViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err, nil)
		return
	}
	view, addr, err := h.svc.CreateView(c.Request.Context(), id, req.Name)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, AddressResponse{Address: addr.String(), ID: uuidOf(view)})
}

// HandleRemoveView handles DELETE /v1/changesets/:id/views/:view_id.
//
// Response:
//
//	200 OK: AddressResponse
//	400 Bad Request: Node is not a view
//	409 Conflict: Default view, or components would be left in no view
//	    (Details lists them)
func (h *Handlers) HandleRemoveView(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRemoveView")
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	view, ok := h.pathID(c, "view_id")
	if !ok {
		return
	}
	addr, err := h.svc.RemoveView(c.Request.Context(), id, view)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, AddressResponse{Address: addr.String()})
}

// HandleRebase handles GET /v1/changesets/:id/rebase?onto=<id>.
func (h *Handlers) HandleRebase(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRebase")
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	onto, ok := h.queryID(c, "onto")
	if !ok {
		return
	}
	updates, err := h.svc.RebaseBatch(c.Request.Context(), id, onto)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, RebaseResponse{Onto: uuidOf(onto), Updates: updateResponses(updates)})
}

// HandleApply handles POST /v1/changesets/:id/apply?from=<id>.
func (h *Handlers) HandleApply(c *gin.Context) {
	logger := h.requestLogger(c, "HandleApply")
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	from, ok := h.queryID(c, "from")
	if !ok {
		return
	}
	res, err := h.svc.Apply(c.Request.Context(), id, from)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	n := res.Updates
	c.JSON(http.StatusOK, AddressResponse{Address: res.Address.String(), Updates: &n})
}

// HandleChanges handles GET /v1/changesets/:id/changes?against=<id>.
func (h *Handlers) HandleChanges(c *gin.Context) {
	logger := h.requestLogger(c, "HandleChanges")
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	against, ok := h.queryID(c, "against")
	if !ok {
		return
	}
	changes, err := h.svc.Changes(c.Request.Context(), id, against)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ChangesResponse{Against: uuidOf(against), Changes: changeResponses(changes)})
}

// HandleApprovals handles GET /v1/changesets/:id/approvals?against=<id>.
func (h *Handlers) HandleApprovals(c *gin.Context) {
	logger := h.requestLogger(c, "HandleApprovals")
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	against, ok := h.queryID(c, "against")
	if !ok {
		return
	}
	reqs, err := h.svc.Approvals(c.Request.Context(), id, against)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ApprovalsResponse{Against: uuidOf(against), Requirements: approvalResponses(reqs)})
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: strfmt.DateTime(time.Now().UTC()),
	})
}

// ----- helpers -----

// requestLogger returns a logger carrying the request and trace identifiers.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", requestID),
		slog.String("handler", handler))
}

func (h *Handlers) pathID(c *gin.Context, param string) (ids.ID, bool) {
	id, err := ids.ParseID(c.Param(param))
	if err != nil {
		h.fail(c, http.StatusBadRequest, "INVALID_ID", err, nil)
		return ids.ID{}, false
	}
	return id, true
}

func (h *Handlers) queryID(c *gin.Context, key string) (ids.ID, bool) {
	raw := c.Query(key)
	if raw == "" {
		h.fail(c, http.StatusBadRequest, "MISSING_PARAMETER", errors.New("query parameter "+key+" is required"), nil)
		return ids.ID{}, false
	}
	id, err := ids.ParseID(raw)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "INVALID_ID", err, nil)
		return ids.ID{}, false
	}
	return id, true
}

// respondError maps service errors to status codes.
func (h *Handlers) respondError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	var details []string

	var orphans *snapshot.ViewOrphanError
	switch {
	case errors.Is(err, ErrInvalidName):
		status, code = http.StatusBadRequest, "INVALID_NAME"
	case errors.Is(err, changeset.ErrChangeSetNotFound):
		status, code = http.StatusNotFound, "CHANGE_SET_NOT_FOUND"
	case errors.Is(err, changeset.ErrNoAddress):
		status, code = http.StatusConflict, "NO_SNAPSHOT"
	case errors.Is(err, snapshot.ErrNodeNotFound):
		status, code = http.StatusNotFound, "NODE_NOT_FOUND"
	case errors.Is(err, snapshot.ErrUnexpectedNodeKind):
		status, code = http.StatusBadRequest, "UNEXPECTED_NODE_KIND"
	case errors.Is(err, snapshot.ErrCannotRemoveDefaultView):
		status, code = http.StatusConflict, "DEFAULT_VIEW"
	case errors.As(err, &orphans):
		status, code = http.StatusConflict, "VIEW_REMOVAL_ORPHANS"
		for _, id := range orphans.Components {
			details = append(details, id.String())
		}
	case errors.Is(err, snapshot.ErrSnapshotNotFetched):
		status, code = http.StatusServiceUnavailable, "SNAPSHOT_NOT_FETCHED"
	case errors.Is(err, snapshot.ErrNotMigrated):
		status, code = http.StatusConflict, "NOT_MIGRATED"
	case errors.Is(err, snapshot.ErrUnrelatedRoots):
		status, code = http.StatusConflict, "UNRELATED_CHANGE_SETS"
	case errors.Is(err, snapshot.ErrUnreachableUpdate):
		status, code = http.StatusConflict, "UNREACHABLE_UPDATE"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("code", code), slog.String("error", err.Error()))
	} else {
		logger.Info("request rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	h.fail(c, status, code, err, details)
}

func (h *Handlers) fail(c *gin.Context, status int, code string, err error, details []string) {
	if m := h.svc.Metrics(); m != nil {
		m.ErrorsTotal.Add(c.Request.Context(), 1, metric.WithAttributes(attribute.String("code", code)))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, Details: details})
}
