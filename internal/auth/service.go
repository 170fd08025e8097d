// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Service provides authentication operations: registration, login, and the
// session lifecycle. It performs no locking of its own; the identity store's
// uniqueness constraint is the sole concurrency-correctness mechanism for
// same-email races.
type Service struct {
	identities IdentityRepository
	sessions   SessionRepository
	hasher     PasswordHasher
	lifetime   time.Duration
	logger     *slog.Logger
}

// NewService creates a new Service. A zero lifetime selects
// DefaultSessionLifetime.
func NewService(identities IdentityRepository, sessions SessionRepository, hasher PasswordHasher, lifetime time.Duration) (*Service, error) {
	return NewServiceWithLogger(identities, sessions, hasher, lifetime, slog.Default())
}

// NewServiceWithLogger creates a new Service with an explicit logger.
func NewServiceWithLogger(identities IdentityRepository, sessions SessionRepository, hasher PasswordHasher, lifetime time.Duration, logger *slog.Logger) (*Service, error) {
	if identities == nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("identities repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("logger is required")
	}
	if lifetime < 0 {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("session lifetime cannot be negative")
	}
	if lifetime == 0 {
		lifetime = DefaultSessionLifetime
	}
	return &Service{
		identities: identities,
		sessions:   sessions,
		hasher:     hasher,
		lifetime:   lifetime,
		logger:     logger,
	}, nil
}

// SessionLifetime returns the fixed lifetime applied to new sessions.
func (s *Service) SessionLifetime() time.Duration {
	return s.lifetime
}

// dummySecretHash is used when an email doesn't exist to prevent timing
// attacks. We still run password verification to make response time
// consistent. This is NOT a real credential - it's a fake hash that will
// never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummySecretHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates a new identity from an email and plaintext secret.
// The secret is hashed before the store is touched; the plaintext is never
// persisted or logged. A concurrent registration race for the same email is
// resolved by the store's uniqueness constraint: the loser gets
// ErrDuplicateIdentity and the stored hash is untouched.
func (s *Service) Register(ctx context.Context, email, secret string) (*Identity, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, ErrInvalidSecret
	}

	secretHash, err := s.hasher.Hash(secret)
	if err != nil {
		// Hashing faults are infrastructure failures, never a
		// credential-level outcome.
		return nil, oops.Code("AUTH_HASH_FAILED").
			With("operation", "hash secret").
			Wrap(err)
	}

	identity, err := NewIdentity(email, secretHash)
	if err != nil {
		return nil, err
	}

	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			return nil, err
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create identity").
			Wrap(err)
	}

	return identity, nil
}

// Login validates an (email, secret) pair against the stored credentials.
// Unknown email and wrong secret both yield ErrInvalidCredentials, with the
// dummy-hash verification keeping the two paths time-consistent. Store or
// hasher faults propagate as errors distinct from ErrInvalidCredentials so
// infrastructure failures can never masquerade as a wrong password.
func (s *Service) Login(ctx context.Context, email, secret string) (*Identity, error) {
	identity, lookupErr := s.identities.GetByEmail(ctx, email)

	// Determine which hash to verify against (real or dummy for timing attack prevention)
	var targetHash string
	var identityExists bool

	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			// Use dummy hash - still perform verification to maintain constant time
			targetHash = dummySecretHash
			identityExists = false
		} else {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get identity by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = identity.SecretHash
		identityExists = true
	}

	// Always verify the secret (constant-time operation for timing attack prevention)
	valid, verifyErr := s.hasher.Verify(secret, targetHash)
	if verifyErr != nil {
		// For dummy hash verification errors, just treat as invalid
		if !identityExists {
			return nil, ErrInvalidCredentials
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify secret").
			Wrap(verifyErr)
	}

	// If the identity doesn't exist OR the secret is wrong, return the same error
	if !identityExists || !valid {
		return nil, ErrInvalidCredentials
	}

	// Check if the hash needs an upgrade (e.g., from bcrypt to argon2id).
	// Best effort: login succeeds regardless.
	if s.hasher.NeedsUpgrade(identity.SecretHash) {
		if newHash, hashErr := s.hasher.Hash(secret); hashErr == nil {
			if err := s.identities.UpdateSecretHash(ctx, identity.ID, newHash); err == nil {
				identity.SecretHash = newHash
			} else {
				s.logger.Warn("secret hash upgrade failed",
					"identity_id", identity.ID.String())
			}
		}
	}

	return identity, nil
}

// StartSession issues a new session and returns it with the plaintext token.
// A nil identityID starts an anonymous shell that a later Bind upgrades.
func (s *Service) StartSession(ctx context.Context, identityID *ulid.ULID) (*Session, string, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code("SESSION_START_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(identityID, tokenHash, time.Now().Add(s.lifetime))
	if err != nil {
		return nil, "", oops.Code("SESSION_START_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_START_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	return session, token, nil
}

// Resolve maps a session token to its bound identity.
// Returns (session, identity, nil) for a live bound session,
// (session, nil, nil) for a live anonymous shell, and (nil, nil, nil) when
// the token is unknown or the session has expired - expiry is checked here,
// at resolve time, not by a background sweep. Expired rows are removed best
// effort.
func (s *Service) Resolve(ctx context.Context, token string) (*Session, *Identity, error) {
	if token == "" {
		return nil, nil, nil
	}

	session, err := s.sessions.GetByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	// Defense in depth: the lookup already matched the hash, but verify the
	// plaintext token against it in constant time before trusting the row.
	if ok, verifyErr := VerifySessionToken(token, session.TokenHash); verifyErr != nil || !ok {
		return nil, nil, nil
	}

	if session.IsExpired() {
		// Lazy expiry: the row may still exist, but it resolves anonymous.
		if delErr := s.sessions.Delete(ctx, session.ID); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			s.logger.Warn("failed to delete expired session",
				"session_id", session.ID.String())
		}
		return nil, nil, nil
	}

	now := time.Now()
	if err := s.sessions.UpdateLastSeen(ctx, session.ID, now); err == nil {
		session.LastSeenAt = now
	}

	if session.IsAnonymous() {
		return session, nil, nil
	}

	identity, err := s.identities.GetByID(ctx, *session.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Bound identity vanished underneath the session; treat the
			// session as anonymous rather than failing the request.
			return session, nil, nil
		}
		return nil, nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get identity by id").
			Wrap(err)
	}

	return session, identity, nil
}

// Bind upgrades an existing anonymous session to an authenticated one after
// a successful login or registration. The client's token stays valid; no new
// token is issued.
func (s *Service) Bind(ctx context.Context, session *Session, identityID ulid.ULID) error {
	if session == nil {
		return oops.Code("SESSION_BIND_FAILED").Errorf("session is required")
	}
	if identityID.Compare(ulid.ULID{}) == 0 {
		return oops.Code("SESSION_BIND_FAILED").Errorf("identity ID cannot be zero")
	}

	if err := s.sessions.Bind(ctx, session.ID, identityID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").
				With("session_id", session.ID.String()).
				Wrap(err)
		}
		return oops.Code("SESSION_BIND_FAILED").
			With("operation", "bind session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}

	id := identityID
	session.IdentityID = &id
	return nil
}

// SweepExpired eagerly removes expired sessions. Lazy expiry at resolve time
// keeps correctness without it; this exists to stop the table growing.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	deleted, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return deleted, nil
}
