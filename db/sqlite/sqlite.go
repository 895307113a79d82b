// Package sqlite stores the issued-token ledger in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bcspragu/blobsas/db"
	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS issued_tokens (
	id             TEXT PRIMARY KEY,
	account        TEXT NOT NULL,
	permissions    TEXT NOT NULL,
	resource_types TEXT NOT NULL,
	services       TEXT NOT NULL,
	protocol       TEXT NOT NULL,
	issued_at      INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS issued_tokens_account ON issued_tokens (account, issued_at);
`

type DB struct {
	db *sql.DB
}

func New(dbPath string) (*DB, error) {
	sdb, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite only allows one writer anyway.
	sdb.SetMaxOpenConns(1)

	if _, err := sdb.Exec(schema); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db: sdb}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) RecordIssued(ctx context.Context, tok *db.IssuedToken) (db.TokenID, error) {
	if tok == nil {
		return "", errors.New("no token given")
	}
	if tok.Account == "" {
		return "", errors.New("no account set on issued token")
	}

	id := uuid.NewString()
	if _, err := d.db.ExecContext(ctx, `
INSERT INTO issued_tokens (id, account, permissions, resource_types, services, protocol, issued_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		tok.Account,
		tok.Permissions,
		tok.ResourceTypes,
		tok.Services,
		tok.Protocol,
		tok.IssuedAt.UnixNano(),
		tok.Expiry.UnixNano(),
	); err != nil {
		return "", fmt.Errorf("failed to record issued token: %w", err)
	}
	return db.TokenID(id), nil
}

const selectCols = `id, account, permissions, resource_types, services, protocol, issued_at, expires_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*db.IssuedToken, error) {
	var (
		tok                 db.IssuedToken
		id                  string
		issuedAt, expiresAt int64
	)
	if err := s.Scan(&id, &tok.Account, &tok.Permissions, &tok.ResourceTypes, &tok.Services, &tok.Protocol, &issuedAt, &expiresAt); err != nil {
		return nil, err
	}
	tok.ID = db.TokenID(id)
	tok.IssuedAt = time.Unix(0, issuedAt).UTC()
	tok.Expiry = time.Unix(0, expiresAt).UTC()
	return &tok, nil
}

func (d *DB) IssuedToken(ctx context.Context, id db.TokenID) (*db.IssuedToken, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM issued_tokens WHERE id = ?`, string(id))
	tok, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.NotExists("issued_token", id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load issued token: %w", err)
	}
	return tok, nil
}

func (d *DB) IssuedTokens(ctx context.Context, account string) ([]*db.IssuedToken, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+selectCols+` FROM issued_tokens WHERE account = ? ORDER BY issued_at DESC, id ASC`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to load issued tokens: %w", err)
	}
	defer rows.Close()

	var out []*db.IssuedToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issued token: %w", err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issued tokens: %w", err)
	}
	return out, nil
}
