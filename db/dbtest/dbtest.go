// Package dbtest runs the same behavioral checks against every db.Ledger
// implementation.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/bcspragu/blobsas/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func RunLedgerTests(t *testing.T, newLedger func(t *testing.T) db.Ledger) {
	t.Run("record and load", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		issued := time.Date(2024, time.March, 14, 9, 26, 53, 0, time.UTC)

		in := &db.IssuedToken{
			ID:            "ignored",
			Account:       "acct1",
			Permissions:   "rwdlc",
			ResourceTypes: "co",
			Services:      "b",
			Protocol:      "https,http",
			IssuedAt:      issued,
			Expiry:        issued.Add(3 * time.Minute),
		}
		id, err := l.RecordIssued(ctx, in)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.NotEqual(t, db.TokenID("ignored"), id)

		got, err := l.IssuedToken(ctx, id)
		require.NoError(t, err)

		want := *in
		want.ID = id
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Account, got.Account)
		assert.Equal(t, want.Permissions, got.Permissions)
		assert.Equal(t, want.ResourceTypes, got.ResourceTypes)
		assert.Equal(t, want.Services, got.Services)
		assert.Equal(t, want.Protocol, got.Protocol)
		assert.True(t, want.IssuedAt.Equal(got.IssuedAt))
		assert.True(t, want.Expiry.Equal(got.Expiry))
	})

	t.Run("missing token", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.IssuedToken(context.Background(), "nope")
		require.Error(t, err)
		assert.True(t, db.IsNotExists(err))
	})

	t.Run("no account", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.RecordIssued(context.Background(), &db.IssuedToken{Permissions: "r"})
		assert.Error(t, err)
	})

	t.Run("list by account newest first", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		base := time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)

		var ids []db.TokenID
		for i := 0; i < 3; i++ {
			id, err := l.RecordIssued(ctx, &db.IssuedToken{
				Account:       "acct1",
				Permissions:   "r",
				ResourceTypes: "o",
				Services:      "b",
				Protocol:      "https",
				IssuedAt:      base.Add(time.Duration(i) * time.Minute),
				Expiry:        base.Add(time.Hour),
			})
			require.NoError(t, err)
			ids = append(ids, id)
		}
		_, err := l.RecordIssued(ctx, &db.IssuedToken{
			Account:  "acct2",
			IssuedAt: base,
			Expiry:   base.Add(time.Hour),
		})
		require.NoError(t, err)

		toks, err := l.IssuedTokens(ctx, "acct1")
		require.NoError(t, err)
		require.Len(t, toks, 3)
		assert.Equal(t, ids[2], toks[0].ID)
		assert.Equal(t, ids[1], toks[1].ID)
		assert.Equal(t, ids[0], toks[2].ID)

		toks, err = l.IssuedTokens(ctx, "acct3")
		require.NoError(t, err)
		assert.Empty(t, toks)
	})
}
