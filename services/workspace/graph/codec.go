// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// Persisted record framing:
//
//	[4 bytes magic][1 byte version][4 bytes CRC32 big-endian][gob payload]
//
// Bytes with an unknown magic or an older version are legacy and fail with
// ErrNotMigrated. The CRC covers the payload only.

// FormatVersion is the current record format version.
const FormatVersion byte = 3

const headerSize = 4 + 1 + 4

var (
	magicSubGraph   = [4]byte{'C', 'G', 's', 'g'}
	magicSuperGraph = [4]byte{'C', 'G', 'S', 'G'}
	magicUpdates    = [4]byte{'C', 'G', 'u', 'p'}
)

var registerOnce sync.Once

func registerGobTypes() {
	registerOnce.Do(func() {
		weights.RegisterGobTypes()
		gob.Register(NewNode{})
		gob.Register(ReplaceNode{})
		gob.Register(RenameNode{})
		gob.Register(NewEdge{})
		gob.Register(RemoveEdge{})
	})
}

type subGraphRecord struct {
	Nodes    []weights.NodeWeight
	Edges    []Edge
	RootHash ids.Hash
}

type superGraphRecord struct {
	Addresses       []ids.Address
	PersistedHashes []ids.Hash
	RootIndex       int
	RootID          ids.ID
	CrossEdges      []Edge
	SplitThreshold  int
}

type updatesRecord struct {
	Updates []Update
}

func frame(magic [4]byte, v any) ([]byte, error) {
	registerGobTypes()
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	out := make([]byte, headerSize, headerSize+payload.Len())
	copy(out[0:4], magic[:])
	out[4] = FormatVersion
	binary.BigEndian.PutUint32(out[5:9], crc32.ChecksumIEEE(payload.Bytes()))
	return append(out, payload.Bytes()...), nil
}

func unframe(magic [4]byte, data []byte, v any) error {
	registerGobTypes()
	if len(data) < headerSize || !bytes.Equal(data[0:4], magic[:]) {
		return fmt.Errorf("%w: unrecognised record header", ErrNotMigrated)
	}
	switch version := data[4]; {
	case version < FormatVersion:
		return fmt.Errorf("%w: format version %d, current %d", ErrNotMigrated, version, FormatVersion)
	case version > FormatVersion:
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	payload := data[headerSize:]
	want := binary.BigEndian.Uint32(data[5:9])
	if got := crc32.ChecksumIEEE(payload); got != want {
		return fmt.Errorf("%w: checksum %08x, expected %08x", ErrCorrupted, got, want)
	}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("%w: gob decode: %v", ErrCorrupted, err)
	}
	return nil
}

// EncodeSubGraph serializes a partition with its nodes, local edges and
// root hash.
func EncodeSubGraph(s *SubGraph) ([]byte, error) {
	return frame(magicSubGraph, subGraphRecord{
		Nodes:    s.sortedNodes(),
		Edges:    s.localEdges(),
		RootHash: s.rootHash,
	})
}

// DecodeSubGraph is the inverse of EncodeSubGraph.
func DecodeSubGraph(data []byte) (*SubGraph, error) {
	var rec subGraphRecord
	if err := unframe(magicSubGraph, data, &rec); err != nil {
		return nil, err
	}
	s := newSubGraph()
	for _, w := range rec.Nodes {
		s.nodes[w.ID()] = w
	}
	for _, e := range rec.Edges {
		if _, ok := s.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("%w: edge source %s not in partition", ErrCorrupted, e.Source)
		}
		if _, ok := s.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("%w: edge target %s not in partition", ErrCorrupted, e.Target)
		}
		s.setEdge(e.Source, e.Weight, e.Target)
	}
	s.rootHash = rec.RootHash
	return s, nil
}

// EncodeSuperGraph serializes the routing record. Every slot must have an
// address.
func EncodeSuperGraph(sg SuperGraph) ([]byte, error) {
	addrs := make([]ids.Address, len(sg.Addresses))
	for i, a := range sg.Addresses {
		if a == nil {
			return nil, fmt.Errorf("%w: slot %d", ErrUnpersistedPartition, i)
		}
		addrs[i] = *a
	}
	return frame(magicSuperGraph, superGraphRecord{
		Addresses:       addrs,
		PersistedHashes: sg.PersistedHashes,
		RootIndex:       sg.RootIndex,
		RootID:          sg.RootID,
		CrossEdges:      sg.CrossEdges,
		SplitThreshold:  sg.SplitThreshold,
	})
}

// DecodeSuperGraph is the inverse of EncodeSuperGraph.
func DecodeSuperGraph(data []byte) (SuperGraph, error) {
	var rec superGraphRecord
	if err := unframe(magicSuperGraph, data, &rec); err != nil {
		return SuperGraph{}, err
	}
	addrs := make([]*ids.Address, len(rec.Addresses))
	for i := range rec.Addresses {
		a := rec.Addresses[i]
		addrs[i] = &a
	}
	hashes := rec.PersistedHashes
	if hashes == nil {
		hashes = make([]ids.Hash, len(addrs))
	}
	return SuperGraph{
		Addresses:       addrs,
		PersistedHashes: hashes,
		RootIndex:       rec.RootIndex,
		RootID:          rec.RootID,
		CrossEdges:      rec.CrossEdges,
		SplitThreshold:  rec.SplitThreshold,
	}, nil
}

// EncodeUpdates serializes a rebase batch for shipping to another process.
func EncodeUpdates(updates []Update) ([]byte, error) {
	return frame(magicUpdates, updatesRecord{Updates: updates})
}

// DecodeUpdates is the inverse of EncodeUpdates.
func DecodeUpdates(data []byte) ([]Update, error) {
	var rec updatesRecord
	if err := unframe(magicUpdates, data, &rec); err != nil {
		return nil, err
	}
	return rec.Updates, nil
}
