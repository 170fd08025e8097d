// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
)

func newSessionMock(t *testing.T) (pgxmock.PgxPoolIface, *SessionRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock, NewSessionRepository(mock)
}

func testSession(t *testing.T, identityID *ulid.ULID) *auth.Session {
	t.Helper()
	session, err := auth.NewSession(identityID, auth.HashSessionToken("sometoken"), time.Now().Add(time.Hour))
	require.NoError(t, err)
	return session
}

func TestSessionRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts anonymous session with null identity", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		session := testSession(t, nil)

		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(session.ID.String(), pgxmock.AnyArg(), session.TokenHash, session.ExpiresAt, session.CreatedAt, session.LastSeenAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(ctx, session))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inserts bound session", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		identityID := ulid.Make()
		session := testSession(t, &identityID)

		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(session.ID.String(), pgxmock.AnyArg(), session.TokenHash, session.ExpiresAt, session.CreatedAt, session.LastSeenAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(ctx, session))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionRepository_GetByTokenHash(t *testing.T) {
	ctx := context.Background()

	t.Run("returns bound session", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		identityID := ulid.Make()
		session := testSession(t, &identityID)
		identityIDStr := identityID.String()

		rows := pgxmock.NewRows([]string{"id", "identity_id", "token_hash", "expires_at", "created_at", "last_seen_at"}).
			AddRow(session.ID.String(), &identityIDStr, session.TokenHash, session.ExpiresAt, session.CreatedAt, session.LastSeenAt)
		mock.ExpectQuery(`SELECT id, identity_id, token_hash, expires_at, created_at, last_seen_at FROM sessions WHERE token_hash`).
			WithArgs(session.TokenHash).
			WillReturnRows(rows)

		got, err := repo.GetByTokenHash(ctx, session.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, got.IdentityID)
		assert.Equal(t, identityID, *got.IdentityID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns anonymous session with nil identity", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		session := testSession(t, nil)

		rows := pgxmock.NewRows([]string{"id", "identity_id", "token_hash", "expires_at", "created_at", "last_seen_at"}).
			AddRow(session.ID.String(), (*string)(nil), session.TokenHash, session.ExpiresAt, session.CreatedAt, session.LastSeenAt)
		mock.ExpectQuery(`SELECT id, identity_id, token_hash, expires_at, created_at, last_seen_at FROM sessions WHERE token_hash`).
			WithArgs(session.TokenHash).
			WillReturnRows(rows)

		got, err := repo.GetByTokenHash(ctx, session.TokenHash)
		require.NoError(t, err)
		assert.True(t, got.IsAnonymous())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token maps to not found", func(t *testing.T) {
		mock, repo := newSessionMock(t)

		mock.ExpectQuery(`SELECT id, identity_id, token_hash, expires_at, created_at, last_seen_at FROM sessions WHERE token_hash`).
			WithArgs("unknownhash").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetByTokenHash(ctx, "unknownhash")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionRepository_Bind(t *testing.T) {
	ctx := context.Background()

	t.Run("binds identity to session row", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		id := ulid.Make()
		identityID := ulid.Make()

		mock.ExpectExec(`UPDATE sessions`).
			WithArgs(id.String(), identityID.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.Bind(ctx, id, identityID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing session maps to not found", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		id := ulid.Make()
		identityID := ulid.Make()

		mock.ExpectExec(`UPDATE sessions`).
			WithArgs(id.String(), identityID.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.Bind(ctx, id, identityID)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionRepository_UpdateLastSeen(t *testing.T) {
	ctx := context.Background()

	t.Run("updates the timestamp", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		id := ulid.Make()
		now := time.Now()

		mock.ExpectExec(`UPDATE sessions`).
			WithArgs(id.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.UpdateLastSeen(ctx, id, now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing session maps to not found", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		id := ulid.Make()

		mock.ExpectExec(`UPDATE sessions`).
			WithArgs(id.String(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.UpdateLastSeen(ctx, id, time.Now())
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionRepository_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes the session", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		id := ulid.Make()

		mock.ExpectExec(`DELETE FROM sessions`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, repo.Delete(ctx, id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing session maps to not found", func(t *testing.T) {
		mock, repo := newSessionMock(t)
		id := ulid.Make()

		mock.ExpectExec(`DELETE FROM sessions`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := repo.Delete(ctx, id)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("returns deleted count", func(t *testing.T) {
		mock, repo := newSessionMock(t)

		mock.ExpectExec(`DELETE FROM sessions`).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))

		deleted, err := repo.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
