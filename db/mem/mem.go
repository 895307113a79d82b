// Package mem implements an in-memory version of our ledger, for quick
// iteration and local testing.
//
// Unlike a lot of throwaway in-memory stores, this one is used by the server
// when no database path is configured, so it's guarded by a mutex.
package mem

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/bcspragu/blobsas/db"
	"github.com/google/uuid"
)

type DB struct {
	mu     sync.RWMutex
	tokens map[db.TokenID]*db.IssuedToken
}

func New() *DB {
	return &DB{
		tokens: make(map[db.TokenID]*db.IssuedToken),
	}
}

func (d *DB) RecordIssued(_ context.Context, tok *db.IssuedToken) (db.TokenID, error) {
	if tok == nil {
		return "", errors.New("no token given")
	}
	if tok.Account == "" {
		return "", errors.New("no account set on issued token")
	}

	id := db.TokenID(uuid.NewString())
	// Copy so the caller can't mutate what we've stored.
	cp := *tok
	cp.ID = id

	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[id] = &cp
	return id, nil
}

func (d *DB) IssuedToken(_ context.Context, id db.TokenID) (*db.IssuedToken, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tok, ok := d.tokens[id]
	if !ok {
		return nil, db.NotExists("issued_token", id)
	}
	cp := *tok
	return &cp, nil
}

func (d *DB) IssuedTokens(_ context.Context, account string) ([]*db.IssuedToken, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*db.IssuedToken
	for _, tok := range d.tokens {
		if tok.Account != account {
			continue
		}
		cp := *tok
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out, nil
}
