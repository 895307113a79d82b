// Package db contains domain types for the ledger of issued delegation tokens.
// The ledger holds what a token allowed and for how long, never the signature
// itself, so leaking it doesn't leak access.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type TokenID string

type IssuedToken struct {
	ID            TokenID
	Account       string
	Permissions   string
	ResourceTypes string
	Services      string
	Protocol      string
	IssuedAt      time.Time
	Expiry        time.Time
}

// Ledger is implemented by mem.DB and sqlite.DB.
type Ledger interface {
	// RecordIssued stores tok under a fresh ID, ignoring tok.ID.
	RecordIssued(ctx context.Context, tok *IssuedToken) (TokenID, error)
	IssuedToken(ctx context.Context, id TokenID) (*IssuedToken, error)
	// IssuedTokens lists tokens for account, newest first.
	IssuedTokens(ctx context.Context, account string) ([]*IssuedToken, error)
}

type errNotExists struct {
	entityName string
	id         string
}

func (e errNotExists) Error() string {
	return fmt.Sprintf("a %s with id %s doesn't exist", e.entityName, e.id)
}

func IsNotExists(err error) bool {
	var ne errNotExists
	return errors.As(err, &ne)
}

func NotExists[T ~string](name string, id T) error {
	return errNotExists{entityName: name, id: string(id)}
}
