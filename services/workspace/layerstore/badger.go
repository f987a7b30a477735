// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layerstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/storage/badger"
)

// BadgerStore keeps layers in an embedded BadgerDB.
//
// Keys are "<namespace>/<address hex>"; values are zstd frames of the
// layer bytes. Provenance lives under "<namespace>/<address hex>.meta" as
// JSON. Addresses are computed over the uncompressed bytes.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	ownsDB  bool
}

// OpenBadger opens a BadgerDB with cfg and returns a store that closes it.
func OpenBadger(cfg badger.Config) (*BadgerStore, error) {
	db, err := badger.Open(cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewBadgerStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewBadgerStore wraps an already open database. The caller keeps ownership
// of db.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	// EncodeAll/DecodeAll are safe for concurrent use on one coder.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &BadgerStore{db: db, encoder: enc, decoder: dec}, nil
}

func layerKey(ns Namespace, addr ids.Address) []byte {
	return []byte(string(ns) + "/" + addr.String())
}

func metaKey(ns Namespace, addr ids.Address) []byte {
	return []byte(string(ns) + "/" + addr.String() + ".meta")
}

// Write implements Store.
func (s *BadgerStore) Write(ctx context.Context, ns Namespace, data []byte, meta Meta) (ids.Address, error) {
	if err := checkNamespace(ns); err != nil {
		return ids.Address{}, err
	}
	addr := ids.AddressOf(data)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return ids.Address{}, fmt.Errorf("encode layer meta: %w", err)
	}
	compressed := s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))

	if _, err := s.db.PutIfAbsent(ctx,
		[2][]byte{layerKey(ns, addr), compressed},
		[2][]byte{metaKey(ns, addr), metaJSON},
	); err != nil {
		return ids.Address{}, fmt.Errorf("write %s layer %s: %w", ns, addr, err)
	}
	return addr, nil
}

// Read implements Store.
func (s *BadgerStore) Read(ctx context.Context, ns Namespace, addr ids.Address) ([]byte, bool, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, false, err
	}
	compressed, ok, err := s.db.Get(ctx, layerKey(ns, addr))
	if err != nil {
		return nil, false, fmt.Errorf("read %s layer %s: %w", ns, addr, err)
	}
	if !ok {
		return nil, false, nil
	}
	data, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress %s layer %s: %w", ns, addr, err)
	}
	if ids.AddressOf(data) != addr {
		return nil, false, fmt.Errorf("%w: %s", ErrAddressMismatch, addr)
	}
	return data, true, nil
}

// ReadMeta returns the provenance recorded for a layer.
func (s *BadgerStore) ReadMeta(ctx context.Context, ns Namespace, addr ids.Address) (Meta, bool, error) {
	raw, ok, err := s.db.Get(ctx, metaKey(ns, addr))
	if err != nil || !ok {
		return Meta{}, ok, err
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return Meta{}, false, fmt.Errorf("decode layer meta: %w", err)
	}
	return m, true, nil
}

// Count returns the number of layers stored in ns.
func (s *BadgerStore) Count(ctx context.Context, ns Namespace) (int, error) {
	n, err := s.db.CountPrefix(ctx, []byte(string(ns)+"/"))
	if err != nil {
		return 0, err
	}
	// Every layer has exactly one meta key under the same prefix.
	return n / 2, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
