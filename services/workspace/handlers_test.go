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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/changegraph/services/workspace/changeset"
	"github.com/AleutianAI/changegraph/services/workspace/config"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/layerstore"
	"github.com/AleutianAI/changegraph/services/workspace/snapshot"
	"github.com/AleutianAI/changegraph/services/workspace/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.DefaultConfig()
	cfg.Graph.SplitThreshold = 8
	cfg.Store = layerstore.Config{Backend: "badger", Badger: badger.InMemoryConfig()}
	cfg.ChangeSets.SQLitePath = ":memory:"
	cfg.Retry.Delay = time.Millisecond
	cfg.Workers.Size = 2

	layers, err := layerstore.Open(ctx, cfg.Store, logger)
	require.NoError(t, err)
	dir, err := changeset.OpenSQLite(ctx, cfg.ChangeSets.SQLitePath, logger)
	require.NoError(t, err)

	svc := New(cfg, logger, layers, dir)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T) (*apiClient, *Service) {
	svc := newTestService(t)
	return &apiClient{t: t, router: NewRouter(svc)}, svc
}

func (a *apiClient) do(method, path string, body any, out any) int {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (a *apiClient) create(name, base string) ChangeSetResponse {
	a.t.Helper()
	var cs ChangeSetResponse
	code := a.do(http.MethodPost, "/v1/changesets", map[string]string{"name": name, "base": base}, &cs)
	require.Equal(a.t, http.StatusCreated, code)
	return cs
}

func TestHealth(t *testing.T) {
	api, _ := newAPI(t)
	var resp HealthResponse
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/health", nil, &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	api, _ := newAPI(t)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/metrics", nil, nil))
}

func TestCreateAndSummarize(t *testing.T) {
	api, _ := newAPI(t)
	cs := api.create("main", "")
	assert.NotEmpty(t, cs.Address)
	assert.Empty(t, cs.Base)

	var list ChangeSetsResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/changesets", nil, &list))
	require.Len(t, list.ChangeSets, 1)
	assert.Equal(t, cs.ID, list.ChangeSets[0].ID)

	var sum SummaryResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/changesets/"+cs.ID.String(), nil, &sum))
	assert.Equal(t, "main", sum.Name)
	assert.Greater(t, sum.NodeCount, 1)
	assert.GreaterOrEqual(t, sum.PartitionCount, 1)
	require.Len(t, sum.Views, 1)
	assert.True(t, sum.Views[0].IsDefault)

	var root NodeResponse
	require.Equal(t, http.StatusOK,
		api.do(http.MethodGet, "/v1/changesets/"+cs.ID.String()+"/nodes/"+sum.RootID.String(), nil, &root))
	assert.Equal(t, "root", root.Kind)
	assert.NotEmpty(t, root.Outgoing)
	assert.Empty(t, root.Incoming)
}

func TestCreate_Errors(t *testing.T) {
	api, _ := newAPI(t)
	var errResp ErrorResponse

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/v1/changesets", map[string]string{}, &errResp))
	assert.Equal(t, "INVALID_REQUEST", errResp.Code)

	code := api.do(http.MethodPost, "/v1/changesets",
		map[string]string{"name": "fork", "base": ids.NewID().String()}, &errResp)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "CHANGE_SET_NOT_FOUND", errResp.Code)

	code = api.do(http.MethodPost, "/v1/changesets", map[string]string{"name": "fork", "base": "nope"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ID", errResp.Code)
}

func TestGetNode_Errors(t *testing.T) {
	api, _ := newAPI(t)
	cs := api.create("main", "")
	var errResp ErrorResponse

	code := api.do(http.MethodGet, "/v1/changesets/"+cs.ID.String()+"/nodes/"+ids.NewID().String(), nil, &errResp)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NODE_NOT_FOUND", errResp.Code)

	code = api.do(http.MethodGet, "/v1/changesets/not-a-uuid", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)

	code = api.do(http.MethodGet, "/v1/changesets/"+ids.NewID().String(), nil, &errResp)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestForkViewsRebaseApply(t *testing.T) {
	api, _ := newAPI(t)
	base := api.create("main", "")
	fork := api.create("feature", base.ID.String())
	assert.Equal(t, base.ID, fork.Base)
	assert.Equal(t, base.Address, fork.Address)

	var created AddressResponse
	require.Equal(t, http.StatusCreated,
		api.do(http.MethodPost, "/v1/changesets/"+fork.ID.String()+"/views", CreateViewRequest{Name: "network"}, &created))
	assert.NotEqual(t, base.Address, created.Address)

	var views ViewsResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/changesets/"+fork.ID.String()+"/views", nil, &views))
	assert.Len(t, views.Views, 2)
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/changesets/"+base.ID.String()+"/views", nil, &views))
	assert.Len(t, views.Views, 1)

	var rebase RebaseResponse
	require.Equal(t, http.StatusOK,
		api.do(http.MethodGet, "/v1/changesets/"+fork.ID.String()+"/rebase?onto="+base.ID.String(), nil, &rebase))
	var newView bool
	for _, u := range rebase.Updates {
		if u.Kind == "new_node" && u.NodeKind == "view" && u.Subject == created.ID {
			newView = true
		}
	}
	assert.True(t, newView, "rebase batch should add the new view: %+v", rebase.Updates)

	var changes ChangesResponse
	require.Equal(t, http.StatusOK,
		api.do(http.MethodGet, "/v1/changesets/"+fork.ID.String()+"/changes?against="+base.ID.String(), nil, &changes))
	assert.NotEmpty(t, changes.Changes)

	var approvals ApprovalsResponse
	require.Equal(t, http.StatusOK,
		api.do(http.MethodGet, "/v1/changesets/"+fork.ID.String()+"/approvals?against="+base.ID.String(), nil, &approvals))
	assert.Empty(t, approvals.Requirements)

	var applied AddressResponse
	require.Equal(t, http.StatusOK,
		api.do(http.MethodPost, "/v1/changesets/"+base.ID.String()+"/apply?from="+fork.ID.String(), nil, &applied))
	require.NotNil(t, applied.Updates)
	assert.Equal(t, len(rebase.Updates), *applied.Updates)

	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/changesets/"+base.ID.String()+"/views", nil, &views))
	assert.Len(t, views.Views, 2)

	// Both sides now agree.
	require.Equal(t, http.StatusOK,
		api.do(http.MethodGet, "/v1/changesets/"+fork.ID.String()+"/rebase?onto="+base.ID.String(), nil, &rebase))
	assert.Empty(t, rebase.Updates)
}

func TestApply_UnrelatedChangeSets(t *testing.T) {
	api, _ := newAPI(t)
	trunk := api.create("main", "")
	other := api.create("other", "")

	var created AddressResponse
	require.Equal(t, http.StatusCreated,
		api.do(http.MethodPost, "/v1/changesets/"+other.ID.String()+"/views", CreateViewRequest{Name: "network"}, &created))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusConflict,
		api.do(http.MethodPost, "/v1/changesets/"+trunk.ID.String()+"/apply?from="+other.ID.String(), nil, &errResp))
	assert.Equal(t, "UNRELATED_CHANGE_SETS", errResp.Code)

	errResp = ErrorResponse{}
	assert.Equal(t, http.StatusConflict,
		api.do(http.MethodGet, "/v1/changesets/"+other.ID.String()+"/rebase?onto="+trunk.ID.String(), nil, &errResp))
	assert.Equal(t, "UNRELATED_CHANGE_SETS", errResp.Code)

	errResp = ErrorResponse{}
	assert.Equal(t, http.StatusConflict,
		api.do(http.MethodGet, "/v1/changesets/"+other.ID.String()+"/changes?against="+trunk.ID.String(), nil, &errResp))
	assert.Equal(t, "UNRELATED_CHANGE_SETS", errResp.Code)

	var got ChangeSetResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/changesets/"+trunk.ID.String(), nil, &got))
	assert.Equal(t, trunk.Address, got.Address, "a rejected apply must not republish")
	var views ViewsResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/changesets/"+trunk.ID.String()+"/views", nil, &views))
	assert.Len(t, views.Views, 1)
}

func TestService_ApplyUnrelatedChangeSets(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	a, err := svc.CreateChangeSet(ctx, "a")
	require.NoError(t, err)
	b, err := svc.CreateChangeSet(ctx, "b")
	require.NoError(t, err)
	_, _, err = svc.CreateView(ctx, b.ID, "ops")
	require.NoError(t, err)

	_, err = svc.Apply(ctx, a.ID, b.ID)
	require.ErrorIs(t, err, snapshot.ErrUnrelatedRoots)
}

func TestRemoveView(t *testing.T) {
	api, _ := newAPI(t)
	cs := api.create("main", "")
	path := "/v1/changesets/" + cs.ID.String()

	var views ViewsResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, path+"/views", nil, &views))
	require.Len(t, views.Views, 1)
	defaultView := views.Views[0].ID

	var errResp ErrorResponse
	assert.Equal(t, http.StatusConflict, api.do(http.MethodDelete, path+"/views/"+defaultView.String(), nil, &errResp))
	assert.Equal(t, "DEFAULT_VIEW", errResp.Code)

	var created AddressResponse
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, path+"/views", CreateViewRequest{Name: "extra"}, &created))

	var removed AddressResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodDelete, path+"/views/"+created.ID.String(), nil, &removed))
	assert.NotEmpty(t, removed.Address)

	require.Equal(t, http.StatusOK, api.do(http.MethodGet, path+"/views", nil, &views))
	assert.Len(t, views.Views, 1)

	var root SummaryResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, path, nil, &root))
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodDelete, path+"/views/"+root.RootID.String(), nil, &errResp))
	assert.Equal(t, "UNEXPECTED_NODE_KIND", errResp.Code)
}

func TestRebase_MissingQuery(t *testing.T) {
	api, _ := newAPI(t)
	cs := api.create("main", "")
	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/v1/changesets/"+cs.ID.String()+"/rebase", nil, &errResp))
	assert.Equal(t, "MISSING_PARAMETER", errResp.Code)
}

func TestService_CreateRejectsEmptyName(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateChangeSet(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, _, err = svc.CreateView(context.Background(), ids.NewID(), "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestServe_StopsOnCancel(t *testing.T) {
	svc := newTestService(t)
	svc.cfg.HTTP.Addr = "127.0.0.1:0"
	svc.cfg.HTTP.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
