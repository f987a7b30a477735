// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ids

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_IsUniqueAndSortable(t *testing.T) {
	first := NewID()
	second := NewID()

	assert.False(t, first.IsZero())
	assert.NotEqual(t, first, second)
	assert.LessOrEqual(t, first.Compare(second), 0, "v7 identifiers must sort in creation order")
}

func TestParseID(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		id := NewID()
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseID("not-an-id")
		require.ErrorIs(t, err, ErrInvalidID)
	})
}

func TestSortIDs(t *testing.T) {
	a, b, c := NewID(), NewID(), NewID()
	list := []ID{c, a, b}
	SortIDs(list)
	assert.Equal(t, []ID{a, b, c}, list)
}

func TestHashBytes_Deterministic(t *testing.T) {
	assert.Equal(t, HashBytes([]byte("payload")), HashBytes([]byte("payload")))
	assert.NotEqual(t, HashBytes([]byte("payload")), HashBytes([]byte("other")))
}

func TestHasher_MatchesOneShot(t *testing.T) {
	h := NewHasher()
	h.Write([]byte("pay"))
	h.WriteString("load")
	assert.Equal(t, HashBytes([]byte("payload")), h.Sum())
}

func TestAddress_TextRoundTrip(t *testing.T) {
	addr := AddressOf([]byte("subgraph bytes"))

	parsed, err := ParseAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)

	raw, err := json.Marshal(map[string]Address{"a": addr})
	require.NoError(t, err)
	var decoded map[string]Address
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, addr, decoded["a"])
}

func TestParseAddress_Invalid(t *testing.T) {
	_, err := ParseAddress("abc")
	require.ErrorIs(t, err, ErrInvalidHash)

	_, err = ParseAddress("zz" + HashBytes(nil).String()[2:])
	require.ErrorIs(t, err, ErrInvalidHash)
}
