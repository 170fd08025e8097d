// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Email validation constraints.
const (
	MinEmailLength = 3
	MaxEmailLength = 254
)

// emailRegex matches a pragmatic email shape: non-empty local part, a single
// @, and a non-empty domain. Full RFC 5322 validation is deliberately not
// attempted; the mailbox is never contacted.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

// Identity represents a registered account, keyed by email.
type Identity struct {
	ID         ulid.ULID
	Email      string
	SecretHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewIdentity creates a validated Identity with a fresh ULID.
// The secret hash must already be computed; plaintext secrets never reach
// this type.
func NewIdentity(email, secretHash string) (*Identity, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if secretHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("secret hash cannot be empty")
	}

	now := time.Now()
	return &Identity{
		ID:         ulid.Make(),
		Email:      email,
		SecretHash: secretHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ValidateEmail validates an email address against the registration rules.
// Emails are stored case-sensitively; validation does not normalize case.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) < MinEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("min", MinEmailLength).
			Errorf("email must be at least %d characters", MinEmailLength)
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email must contain a local part and a domain")
	}
	return nil
}

// IdentityRepository manages identity persistence.
type IdentityRepository interface {
	// Create stores a new identity. The email uniqueness check and the
	// insert must be atomic with respect to concurrent registrations:
	// exactly one of N simultaneous Create calls for the same email may
	// succeed, the rest fail with ErrDuplicateIdentity.
	Create(ctx context.Context, identity *Identity) error

	// GetByEmail retrieves an identity by email (case-sensitive).
	// Returns ErrNotFound if no identity has the given email; absence is
	// an expected result, not a store failure.
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// GetByID retrieves an identity by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)

	// UpdateSecretHash replaces the stored hash for an identity. Used only
	// by the transparent hash-upgrade path during login.
	UpdateSecretHash(ctx context.Context, id ulid.ULID, secretHash string) error
}
