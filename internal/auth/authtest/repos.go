// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package authtest provides in-memory repository implementations for tests.
// They honor the same contracts as the postgres repositories, including the
// atomic duplicate check on identity creation, so service and handler tests
// can run the real auth flows without a database.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// IdentityRepository is an in-memory auth.IdentityRepository.
type IdentityRepository struct {
	mu      sync.Mutex
	byEmail map[string]*auth.Identity
	byID    map[ulid.ULID]*auth.Identity
}

// NewIdentityRepository creates an empty in-memory identity repository.
func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{
		byEmail: make(map[string]*auth.Identity),
		byID:    make(map[ulid.ULID]*auth.Identity),
	}
}

// Create stores a new identity. The duplicate check and insert happen under
// one lock, mirroring the database uniqueness constraint.
func (r *IdentityRepository) Create(_ context.Context, identity *auth.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[identity.Email]; exists {
		return auth.ErrDuplicateIdentity
	}
	cp := *identity
	r.byEmail[cp.Email] = &cp
	r.byID[cp.ID] = &cp
	return nil
}

// GetByEmail retrieves an identity by email (case-sensitive).
func (r *IdentityRepository) GetByEmail(_ context.Context, email string) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

// UpdateSecretHash replaces the stored hash for an identity.
func (r *IdentityRepository) UpdateSecretHash(_ context.Context, id ulid.ULID, secretHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	identity.SecretHash = secretHash
	identity.UpdatedAt = time.Now()
	return nil
}

// SessionRepository is an in-memory auth.SessionRepository.
type SessionRepository struct {
	mu          sync.Mutex
	byID        map[ulid.ULID]*auth.Session
	byTokenHash map[string]ulid.ULID
}

// NewSessionRepository creates an empty in-memory session repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byID:        make(map[ulid.ULID]*auth.Session),
		byTokenHash: make(map[string]ulid.ULID),
	}
}

// Create stores a new session.
func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *session
	if session.IdentityID != nil {
		id := *session.IdentityID
		cp.IdentityID = &id
	}
	r.byID[cp.ID] = &cp
	r.byTokenHash[cp.TokenHash] = cp.ID
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byTokenHash[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return r.copySessionLocked(id)
}

// Bind sets the identity on an existing session.
func (r *SessionRepository) Bind(_ context.Context, id ulid.ULID, identityID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	bound := identityID
	session.IdentityID = &bound
	return nil
}

// UpdateLastSeen updates the LastSeenAt timestamp for a session.
func (r *SessionRepository) UpdateLastSeen(_ context.Context, id ulid.ULID, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	session.LastSeenAt = lastSeen
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(r.byTokenHash, session.TokenHash)
	delete(r.byID, id)
	return nil
}

// DeleteExpired removes all expired sessions.
func (r *SessionRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	now := time.Now()
	for id, session := range r.byID {
		if now.After(session.ExpiresAt) {
			delete(r.byTokenHash, session.TokenHash)
			delete(r.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

// ExpireNow force-expires a session so tests can exercise the lazy-expiry
// path without sleeping.
func (r *SessionRepository) ExpireNow(id ulid.ULID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.byID[id]; ok {
		session.ExpiresAt = time.Now().Add(-time.Second)
	}
}

func (r *SessionRepository) copySessionLocked(id ulid.ULID) (*auth.Session, error) {
	session, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *session
	if session.IdentityID != nil {
		bound := *session.IdentityID
		cp.IdentityID = &bound
	}
	return &cp, nil
}
