// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layerstore is the content-addressable persistence used by workspace
// snapshots.
//
// Serialized supergraphs and subgraphs are stored under the blake3 address
// of their bytes, in separate namespaces. Writes are idempotent: writing the
// same bytes twice yields the same address and stores them once.
package layerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/storage/badger"
)

// Namespace separates the two kinds of persisted layer.
type Namespace string

const (
	NamespaceSuperGraph Namespace = "supergraph"
	NamespaceSubGraph   Namespace = "subgraph"
)

// Valid reports whether ns is a known namespace.
func (ns Namespace) Valid() bool {
	return ns == NamespaceSuperGraph || ns == NamespaceSubGraph
}

var (
	// ErrUnknownNamespace indicates a namespace other than supergraph or subgraph.
	ErrUnknownNamespace = errors.New("unknown layer namespace")

	// ErrUnknownBackend indicates a configured backend that does not exist.
	ErrUnknownBackend = errors.New("unknown layer store backend")

	// ErrAddressMismatch indicates stored bytes that do not hash to their key.
	ErrAddressMismatch = errors.New("layer bytes do not match their address")
)

// Meta is the provenance recorded alongside every write.
type Meta struct {
	Tenancy string `json:"tenancy"`
	Actor   string `json:"actor"`
}

// Store persists immutable byte layers by content address.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Write stores data under ids.AddressOf(data) in namespace ns and
	// returns that address. Writing bytes that are already stored succeeds.
	Write(ctx context.Context, ns Namespace, data []byte, meta Meta) (ids.Address, error)

	// Read returns the bytes stored at addr. A missing layer is reported as
	// (nil, false, nil) so that callers can tell "not visible yet" apart
	// from backend failures.
	Read(ctx context.Context, ns Namespace, addr ids.Address) ([]byte, bool, error)

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "badger" or "gcs".
	Backend string        `yaml:"backend" validate:"oneof=badger gcs"`
	Badger  badger.Config `yaml:"badger"`
	GCS     GCSConfig     `yaml:"gcs"`
}

// DefaultConfig returns an on-disk badger store rooted at ./data/layers.
func DefaultConfig() Config {
	b := badger.DefaultConfig()
	b.Path = "./data/layers"
	return Config{Backend: "badger", Badger: b}
}

// Open builds the configured backend wrapped with metrics.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "badger", "":
		bcfg := cfg.Badger
		if bcfg.Logger == nil {
			bcfg.Logger = logger
		}
		store, err = OpenBadger(bcfg)
	case "gcs":
		store, err = OpenGCS(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("layer store opened", slog.String("component", "layerstore"), slog.String("backend", cfg.Backend))
	return Instrument(store, cfg.Backend), nil
}

func checkNamespace(ns Namespace) error {
	if !ns.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	return nil
}
