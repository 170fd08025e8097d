// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateIdentity is returned when registration targets an email that
// already has an identity record.
var ErrDuplicateIdentity = errors.New("identity already exists")

// ErrInvalidCredentials is returned for both unknown-email and wrong-secret
// login failures. Callers must not be able to tell the two apart.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrInvalidSecret is returned when a registration secret fails validation.
var ErrInvalidSecret = errors.New("password cannot be empty")

// IsValidationError reports whether err is a rejected-input outcome
// (bad email or secret) rather than an infrastructure fault. The web layer
// uses this to send the user back to the form instead of failing the request.
func IsValidationError(err error) bool {
	if errors.Is(err, ErrInvalidSecret) {
		return true
	}
	if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == "AUTH_INVALID_EMAIL" {
		return true
	}
	return false
}
