// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth provides the authentication core for Gatehouse.
//
// # Domain Types
//
// Domain types (Identity, Session) should be created using their
// constructors:
//   - NewIdentity - creates an Identity with a validated email and secret hash
//   - NewSession - creates a Session with a validated token hash and expiry
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Service
//
// Service coordinates the domain operations: registration, login, and the
// session lifecycle (start, resolve, bind, sweep). It is handed its
// repositories and hasher at construction time and holds no ambient globals.
package auth
