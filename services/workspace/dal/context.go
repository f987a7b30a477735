// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dal carries the collaborators every snapshot operation needs:
// who is acting, where layers are stored, where change sets are resolved,
// and which worker pool runs CPU-heavy work.
package dal

import (
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/changegraph/services/workspace/changeset"
	"github.com/AleutianAI/changegraph/services/workspace/layerstore"
	"github.com/AleutianAI/changegraph/services/workspace/workpool"
)

// Default retry policy for change-set lookups racing layer visibility.
const (
	DefaultRetryAttempts = 5
	DefaultRetryDelay    = 50 * time.Millisecond
)

// ErrNoLayerStore indicates a Context without a layer store.
var ErrNoLayerStore = errors.New("dal context has no layer store")

// Retry bounds the change-set lookup retry loop.
type Retry struct {
	Attempts int           `yaml:"attempts" validate:"min=1"`
	Delay    time.Duration `yaml:"delay" validate:"min=0"`
}

// Context is the execution context passed to snapshot operations.
//
// A Context is a value; copy it and override fields with the With helpers.
type Context struct {
	Tenancy string
	Actor   string

	Layers     layerstore.Store
	ChangeSets changeset.Directory
	Pool       *workpool.Pool
	Logger     *slog.Logger
	Retry      Retry
}

// New returns a Context with the default retry policy.
func New(tenancy, actor string, layers layerstore.Store, changeSets changeset.Directory, pool *workpool.Pool, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Tenancy:    tenancy,
		Actor:      actor,
		Layers:     layers,
		ChangeSets: changeSets,
		Pool:       pool,
		Logger:     logger,
		Retry:      Retry{Attempts: DefaultRetryAttempts, Delay: DefaultRetryDelay},
	}
}

// Meta returns the provenance attached to layer writes.
func (c *Context) Meta() layerstore.Meta {
	return layerstore.Meta{Tenancy: c.Tenancy, Actor: c.Actor}
}

// Log returns the context logger, never nil.
func (c *Context) Log() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// RetryPolicy returns Retry with defaults filled in for zero fields.
func (c *Context) RetryPolicy() Retry {
	r := c.Retry
	if r.Attempts <= 0 {
		r.Attempts = DefaultRetryAttempts
	}
	if r.Delay <= 0 {
		r.Delay = DefaultRetryDelay
	}
	return r
}

// WithActor returns a copy of c acting as actor.
func (c *Context) WithActor(actor string) *Context {
	cp := *c
	cp.Actor = actor
	return &cp
}

// Validate reports a Context that cannot persist anything.
func (c *Context) Validate() error {
	if c.Layers == nil {
		return ErrNoLayerStore
	}
	return nil
}
