// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package changeset maps change sets to the snapshot address they currently
// publish.
package changeset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
)

var (
	// ErrChangeSetNotFound indicates no change set has the given identifier.
	ErrChangeSetNotFound = errors.New("change set not found")

	// ErrNoAddress indicates a change set that has never published a snapshot.
	ErrNoAddress = errors.New("change set has no snapshot address")
)

// Directory resolves and republishes change-set snapshot addresses.
type Directory interface {
	Address(ctx context.Context, id ids.ID) (ids.Address, error)
	SetAddress(ctx context.Context, id ids.ID, addr ids.Address) error
}

// ChangeSet is one row of the directory.
type ChangeSet struct {
	ID        ids.ID
	Name      string
	Address   ids.Address
	BaseID    ids.ID
	UpdatedAt time.Time
}

// HasAddress reports whether the change set has published a snapshot.
func (c ChangeSet) HasAddress() bool { return !c.Address.IsZero() }

const schema = `
CREATE TABLE IF NOT EXISTS change_sets (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	snapshot_address TEXT NOT NULL DEFAULT '',
	base_change_set  TEXT NOT NULL DEFAULT '',
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS change_sets_by_name ON change_sets(name);
`

// SQLiteDirectory is a Directory backed by a single SQLite table.
//
// Thread Safety: Safe for concurrent use; SQLite serializes writers.
type SQLiteDirectory struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the directory database at path.
// The special path ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteDirectory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open change-set database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping change-set database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply change-set schema: %w", err)
	}
	return &SQLiteDirectory{
		db:     db,
		logger: logger.With(slog.String("component", "changeset")),
		now:    time.Now,
	}, nil
}

// Close closes the database.
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}

// Create registers a new change set publishing addr. A zero addr creates a
// change set with no snapshot yet.
func (d *SQLiteDirectory) Create(ctx context.Context, name string, addr ids.Address) (ChangeSet, error) {
	cs := ChangeSet{ID: ids.NewID(), Name: name, Address: addr, UpdatedAt: d.now().UTC()}
	if err := d.insert(ctx, cs); err != nil {
		return ChangeSet{}, err
	}
	d.logger.Info("change set created", slog.String("change_set_id", cs.ID.String()), slog.String("name", name))
	return cs, nil
}

// Fork creates a change set that starts from the current address of base.
func (d *SQLiteDirectory) Fork(ctx context.Context, baseID ids.ID, name string) (ChangeSet, error) {
	base, err := d.Get(ctx, baseID)
	if err != nil {
		return ChangeSet{}, err
	}
	if !base.HasAddress() {
		return ChangeSet{}, fmt.Errorf("fork %s: %w", baseID, ErrNoAddress)
	}
	cs := ChangeSet{ID: ids.NewID(), Name: name, Address: base.Address, BaseID: baseID, UpdatedAt: d.now().UTC()}
	if err := d.insert(ctx, cs); err != nil {
		return ChangeSet{}, err
	}
	d.logger.Info("change set forked",
		slog.String("change_set_id", cs.ID.String()),
		slog.String("base_change_set_id", baseID.String()),
		slog.String("address", cs.Address.String()))
	return cs, nil
}

func (d *SQLiteDirectory) insert(ctx context.Context, cs ChangeSet) error {
	addr, base := "", ""
	if cs.HasAddress() {
		addr = cs.Address.String()
	}
	if !cs.BaseID.IsZero() {
		base = cs.BaseID.String()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO change_sets (id, name, snapshot_address, base_change_set, updated_at) VALUES (?, ?, ?, ?, ?)`,
		cs.ID.String(), cs.Name, addr, base, cs.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert change set %s: %w", cs.ID, err)
	}
	return nil
}

// Get returns one change set.
func (d *SQLiteDirectory) Get(ctx context.Context, id ids.ID) (ChangeSet, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, name, snapshot_address, base_change_set, updated_at FROM change_sets WHERE id = ?`, id.String())
	cs, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ChangeSet{}, fmt.Errorf("%w: %s", ErrChangeSetNotFound, id)
	}
	return cs, err
}

// List returns every change set ordered by identifier, which is creation
// order.
func (d *SQLiteDirectory) List(ctx context.Context) ([]ChangeSet, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, snapshot_address, base_change_set, updated_at FROM change_sets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list change sets: %w", err)
	}
	defer rows.Close()

	var out []ChangeSet
	for rows.Next() {
		cs, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Address implements Directory.
func (d *SQLiteDirectory) Address(ctx context.Context, id ids.ID) (ids.Address, error) {
	cs, err := d.Get(ctx, id)
	if err != nil {
		return ids.Address{}, err
	}
	if !cs.HasAddress() {
		return ids.Address{}, fmt.Errorf("%s: %w", id, ErrNoAddress)
	}
	return cs.Address, nil
}

// SetAddress implements Directory.
func (d *SQLiteDirectory) SetAddress(ctx context.Context, id ids.ID, addr ids.Address) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE change_sets SET snapshot_address = ?, updated_at = ? WHERE id = ?`,
		addr.String(), d.now().UTC().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("update change set %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update change set %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrChangeSetNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (ChangeSet, error) {
	var (
		id, name, addr, base string
		updated              int64
	)
	if err := s.Scan(&id, &name, &addr, &base, &updated); err != nil {
		return ChangeSet{}, err
	}
	cs := ChangeSet{Name: name, UpdatedAt: time.Unix(0, updated).UTC()}
	var err error
	if cs.ID, err = ids.ParseID(id); err != nil {
		return ChangeSet{}, fmt.Errorf("change set row id: %w", err)
	}
	if addr != "" {
		if cs.Address, err = ids.ParseAddress(addr); err != nil {
			return ChangeSet{}, fmt.Errorf("change set %s address: %w", id, err)
		}
	}
	if base != "" {
		if cs.BaseID, err = ids.ParseID(base); err != nil {
			return ChangeSet{}, fmt.Errorf("change set %s base: %w", id, err)
		}
	}
	return cs, nil
}
