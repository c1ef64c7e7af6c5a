// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

// Package auth is the provider-neutral core of authcore.
//
// # Domain Types
//
// Persistent types (User, PasswordCredential, SessionRecord) should be
// created with their constructors:
//   - NewUser - validates and normalizes the email
//   - NewSessionRecord - validates the user, digests and expiry
//
// Stores receive pre-validated values and keep only digests of tokens.
//
// # Providers
//
// A Provider is an identity backend. The local provider (package local)
// owns users and credentials in a CredentialStore; the remote provider
// (package remote) delegates to an external identity service. Optional
// capabilities are separate interfaces: EmailVerifier, OAuthProvider and
// UserManager.
//
// # Service
//
// Service routes each call to the active provider, or to the one named with
// WithProvider, and appends an AuthEvent for every state-changing call.
// Token verification scans all providers. Middleware gates HTTP handlers on
// a verified, non-banned user.
//
// # Errors
//
// Every failure a client may see carries one of the Code* constants and an
// HTTP status; see Kind, ErrorCode and HTTPStatus.
package auth
