// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Transactor runs fn inside a transaction. Repository calls made with the
// context passed to fn participate in it; fn returning an error rolls back.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository manages user persistence.
type UserRepository interface {
	// GetUserByID returns ErrNotFound if no such user exists.
	GetUserByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetUserByEmail matches case-insensitively. Returns ErrNotFound if none.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateUser persists display name, avatar and updated_at.
	UpdateUser(ctx context.Context, user *User) error

	// DeleteUser removes a user together with its credential and sessions.
	DeleteUser(ctx context.Context, id ulid.ULID) error

	// UpsertShadowUser inserts a user for email or updates its display name and
	// avatar, never creating a second row for the same email.
	UpsertShadowUser(ctx context.Context, email, displayName, avatarURL string) (*User, error)
}

// CredentialRepository manages password credentials.
type CredentialRepository interface {
	// CreateUserWithCredential inserts both rows atomically. Returns an error
	// wrapping ErrConflict if the email is taken.
	CreateUserWithCredential(ctx context.Context, user *User, cred *PasswordCredential) error

	// GetCredential returns ErrNotFound for users without a password (e.g. shadow users).
	GetCredential(ctx context.Context, userID ulid.ULID) (*PasswordCredential, error)

	// RecordFailedAttempt increments the failure counter and applies the
	// lockout in one atomic statement, returning the new state. A lockout that
	// expired before now restarts the count.
	RecordFailedAttempt(ctx context.Context, userID ulid.ULID, policy LockoutPolicy, now time.Time) (int, *time.Time, error)

	// ResetFailedAttempts zeroes the counter and clears the lockout unless the
	// row is locked at now. A non-nil time means the lock is still active and
	// nothing was reset.
	ResetFailedAttempts(ctx context.Context, userID ulid.ULID, now time.Time) (*time.Time, error)

	SetVerificationToken(ctx context.Context, userID ulid.ULID, tokenHash string, expiresAt time.Time) error

	// ConsumeVerificationToken marks the owning credential verified and clears
	// the token in one step. Returns ErrNotFound for unknown or expired tokens.
	ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error)

	SetResetToken(ctx context.Context, userID ulid.ULID, tokenHash string, expiresAt time.Time) error

	// ConsumeResetToken clears the reset token in one step and returns its
	// owner. Returns ErrNotFound for unknown or expired tokens.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error)

	// UpdatePassword replaces the hash. With resetLockout the failure counter
	// and lockout are cleared as well.
	UpdatePassword(ctx context.Context, userID ulid.ULID, passwordHash string, resetLockout bool) error
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *SessionRecord) error

	// LockSessionByRefreshHash loads a session and locks its row for the rest
	// of the surrounding transaction. Returns ErrNotFound if none.
	LockSessionByRefreshHash(ctx context.Context, refreshHash string) (*SessionRecord, error)

	DeactivateSession(ctx context.Context, id ulid.ULID) error

	// DeactivateSessionByAccessHash deactivates the user's active session
	// issued with the given access token and returns the rows affected.
	DeactivateSessionByAccessHash(ctx context.Context, userID ulid.ULID, accessHash string) (int64, error)

	// DeactivateUserSessions deactivates every active session of a user.
	DeactivateUserSessions(ctx context.Context, userID ulid.ULID) (int64, error)

	// DeleteExpiredSessions removes sessions that expired before the cutoff or
	// were deactivated before it.
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// CredentialStore is everything the local provider persists.
type CredentialStore interface {
	Transactor
	UserRepository
	CredentialRepository
	SessionRepository
}

// EventSink receives audit events.
type EventSink interface {
	AppendEvent(ctx context.Context, event *AuthEvent) error
}

// BanChecker reports whether a user has been banned.
type BanChecker interface {
	IsBanned(ctx context.Context, userID ulid.ULID) (bool, error)
}

// UserDirectory is the live user lookup the request gate consults.
type UserDirectory interface {
	BanChecker
	GetUserByID(ctx context.Context, id ulid.ULID) (*User, error)
}

// Mailer requests outbound email. Implementations must not block on delivery;
// failures are the implementation's to log.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, token string) error
	SendPasswordResetEmail(ctx context.Context, to, token string) error
	SendWelcomeEmail(ctx context.Context, to, displayName string) error
}
