// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	pool querier
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(pool querier) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Create stores a new identity. The unique constraint on identities.email is
// what makes concurrent registrations for the same email safe: the insert
// either lands whole or fails with auth.ErrDuplicateIdentity.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identities (id, email, secret_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		identity.ID.String(),
		identity.Email,
		identity.SecretHash,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("IDENTITY_DUPLICATE").
				With("email", identity.Email).
				Wrap(auth.ErrDuplicateIdentity)
		}
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("email", identity.Email).
			Wrap(err)
	}
	return nil
}

// GetByEmail retrieves an identity by email. The match is case-sensitive:
// emails are compared exactly as stored.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, secret_hash, created_at, updated_at
		FROM identities
		WHERE email = $1
	`, email)

	identity, err := r.scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_BY_EMAIL_FAILED").
			With("operation", "get identity by email").
			With("email", email).
			Wrap(err)
	}
	return identity, nil
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, secret_hash, created_at, updated_at
		FROM identities
		WHERE id = $1
	`, id.String())

	identity, err := r.scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_BY_ID_FAILED").
			With("operation", "get identity by id").
			With("id", id.String()).
			Wrap(err)
	}
	return identity, nil
}

// UpdateSecretHash replaces the stored hash for an identity.
func (r *IdentityRepository) UpdateSecretHash(ctx context.Context, id ulid.ULID, secretHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE identities
		SET secret_hash = $2, updated_at = NOW()
		WHERE id = $1
	`, id.String(), secretHash)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_HASH_FAILED").
			With("operation", "update secret hash").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanIdentity scans an identity row.
func (r *IdentityRepository) scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var identity auth.Identity
	var idStr string

	if err := row.Scan(
		&idStr,
		&identity.Email,
		&identity.SecretHash,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("IDENTITY_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	identity.ID = id

	return &identity, nil
}
