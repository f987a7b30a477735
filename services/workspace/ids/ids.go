// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ids defines the identifier types shared by the workspace graph.
//
// Three kinds of value are used:
//
//	ID      - 128-bit, time-sortable node and lineage identifiers (UUIDv7)
//	Hash    - 256-bit blake3 digest of node content or a merkle subtree
//	Address - 256-bit blake3 digest of serialized bytes in the layer store
//
// ID values sort by creation time both lexically (String) and bytewise
// (Compare), which keeps every traversal of the graph deterministic.
package ids

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// ErrInvalidID is returned when a string is not a valid identifier.
var ErrInvalidID = errors.New("invalid identifier")

// ErrInvalidHash is returned when a string is not a valid hash or address.
var ErrInvalidHash = errors.New("invalid hash")

// -----------------------------------------------------------------------------
// ID
// -----------------------------------------------------------------------------

// ID is a globally unique, time-sortable 128-bit identifier.
//
// The zero value is the nil identifier and never names a node.
type ID [16]byte

// NewID returns a fresh UUIDv7 identifier.
//
// Thread Safety: Safe for concurrent use.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// ParseID parses the canonical textual form of an identifier.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
	}
	return ID(u), nil
}

// MustParseID is like ParseID but panics on error. Intended for tests and
// static tables.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical hyphenated form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the nil identifier.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare orders identifiers bytewise, which for UUIDv7 is creation order.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SortIDs sorts ids in place in creation order.
func SortIDs(list []ID) {
	slices.SortFunc(list, func(a, b ID) int { return a.Compare(b) })
}

// -----------------------------------------------------------------------------
// Hash
// -----------------------------------------------------------------------------

// Hash is a blake3-256 digest.
type Hash [32]byte

// HashBytes returns the blake3 digest of b.
func HashBytes(b []byte) Hash {
	return Hash(blake3.Sum256(b))
}

// NewHasher returns an incremental blake3 hasher producing Hash values.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New(32, nil)}
}

// Hasher accumulates bytes into a blake3 digest.
//
// Thread Safety: NOT safe for concurrent use.
type Hasher struct {
	h *blake3.Hasher
}

// Write appends b to the digest input.
func (h *Hasher) Write(b []byte) {
	_, _ = h.h.Write(b)
}

// WriteString appends s to the digest input.
func (h *Hasher) WriteString(s string) {
	_, _ = h.h.Write([]byte(s))
}

// WriteID appends the 16 identifier bytes.
func (h *Hasher) WriteID(id ID) {
	_, _ = h.h.Write(id[:])
}

// WriteHash appends the 32 digest bytes.
func (h *Hasher) WriteHash(x Hash) {
	_, _ = h.h.Write(x[:])
}

// WriteByte appends a single byte.
func (h *Hasher) WriteByte(b byte) error {
	_, err := h.h.Write([]byte{b})
	return err
}

// WriteUint64 appends v in big-endian order.
func (h *Hasher) WriteUint64(v uint64) {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	_, _ = h.h.Write(buf[:])
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], h.h.Sum(nil))
	return out
}

// String returns the lowercase hex form.
func (x Hash) String() string {
	return hex.EncodeToString(x[:])
}

// IsZero reports whether x is the zero digest.
func (x Hash) IsZero() bool {
	return x == Hash{}
}

// ParseHash decodes a 64-character hex digest.
func ParseHash(s string) (Hash, error) {
	var out Hash
	if err := decodeHex32(s, out[:]); err != nil {
		return Hash{}, err
	}
	return out, nil
}

// MarshalText implements encoding.TextMarshaler.
func (x Hash) MarshalText() ([]byte, error) {
	return []byte(x.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (x *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*x = parsed
	return nil
}

// -----------------------------------------------------------------------------
// Address
// -----------------------------------------------------------------------------

// Address is the content address of serialized bytes in the layer store.
type Address [32]byte

// AddressOf returns the content address of data.
func AddressOf(data []byte) Address {
	return Address(blake3.Sum256(data))
}

// String returns the lowercase hex form.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a 64-character hex address.
func ParseAddress(s string) (Address, error) {
	var out Address
	if err := decodeHex32(s, out[:]); err != nil {
		return Address{}, err
	}
	return out, nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func decodeHex32(s string, dst []byte) error {
	if len(s) != 64 {
		return fmt.Errorf("%w: want 64 hex characters, got %d", ErrInvalidHash, len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return nil
}
