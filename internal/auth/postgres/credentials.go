// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/synthstack/authcore/internal/auth"
)

// CreateUserWithCredential implements auth.CredentialRepository. Both rows
// are written in one transaction, joining the caller's if there is one.
func (s *Store) CreateUserWithCredential(ctx context.Context, user *auth.User, cred *auth.PasswordCredential) error {
	return s.InTransaction(ctx, func(ctx context.Context) error {
		q := s.q(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO users (id, email, display_name, avatar_url, banned, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, user.ID.String(), user.Email, user.DisplayName, user.AvatarURL, user.Banned, user.CreatedAt, user.UpdatedAt)
		if isUniqueViolation(err) {
			return oops.Code("USER_CREATE_FAILED").With("email", user.Email).Wrap(auth.ErrConflict)
		}
		if err != nil {
			return oops.Code("USER_CREATE_FAILED").With("operation", "insert user").With("email", user.Email).Wrap(err)
		}

		_, err = q.Exec(ctx, `
			INSERT INTO password_credentials (
				user_id, password_hash, email_verified, failed_attempts, locked_until,
				verification_token_hash, verification_expires_at,
				reset_token_hash, reset_expires_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			user.ID.String(),
			cred.PasswordHash,
			cred.EmailVerified,
			cred.FailedAttempts,
			cred.LockedUntil,
			cred.VerificationTokenHash,
			cred.VerificationExpiresAt,
			cred.ResetTokenHash,
			cred.ResetExpiresAt,
			cred.CreatedAt,
			cred.UpdatedAt,
		)
		if err != nil {
			return oops.Code("CREDENTIAL_CREATE_FAILED").With("user_id", user.ID.String()).Wrap(err)
		}
		return nil
	})
}

// GetCredential implements auth.CredentialRepository.
func (s *Store) GetCredential(ctx context.Context, userID ulid.ULID) (*auth.PasswordCredential, error) {
	c := auth.PasswordCredential{UserID: userID}
	err := s.q(ctx).QueryRow(ctx, `
		SELECT password_hash, email_verified, failed_attempts, locked_until,
		       verification_token_hash, verification_expires_at,
		       reset_token_hash, reset_expires_at, created_at, updated_at
		FROM password_credentials
		WHERE user_id = $1
	`, userID.String()).Scan(
		&c.PasswordHash,
		&c.EmailVerified,
		&c.FailedAttempts,
		&c.LockedUntil,
		&c.VerificationTokenHash,
		&c.VerificationExpiresAt,
		&c.ResetTokenHash,
		&c.ResetExpiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_GET_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return &c, nil
}

// RecordFailedAttempt implements auth.CredentialRepository with the same
// arithmetic as auth.LockoutPolicy.NextFailure, in a single UPDATE so that
// concurrent failures are never lost. SET expressions see the old row.
func (s *Store) RecordFailedAttempt(ctx context.Context, userID ulid.ULID, policy auth.LockoutPolicy, now time.Time) (int, *time.Time, error) {
	policy = policy.WithDefaults()
	var (
		failures    int
		lockedUntil *time.Time
	)
	err := s.q(ctx).QueryRow(ctx, `
		UPDATE password_credentials SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until > $2 THEN locked_until
				WHEN (CASE
					WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
					ELSE failed_attempts + 1
				END) >= $3 THEN $4::timestamptz
				ELSE NULL
			END,
			updated_at = $2
		WHERE user_id = $1
		RETURNING failed_attempts, locked_until
	`, userID.String(), now, policy.MaxFailedAttempts, policy.LockUntil(now)).Scan(&failures, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, nil, oops.Code("CREDENTIAL_RECORD_FAILURE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return failures, lockedUntil, nil
}

// ResetFailedAttempts implements auth.CredentialRepository. The lock test is
// part of the UPDATE, so a lockout committed by a concurrent failure wins.
func (s *Store) ResetFailedAttempts(ctx context.Context, userID ulid.ULID, now time.Time) (*time.Time, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE password_credentials SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE user_id = $1 AND (locked_until IS NULL OR locked_until <= $2)
	`, userID.String(), now)
	if err != nil {
		return nil, oops.Code("CREDENTIAL_RESET_FAILURES_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	if tag.RowsAffected() > 0 {
		return nil, nil
	}

	var lockedUntil *time.Time
	err = s.q(ctx).QueryRow(ctx,
		`SELECT locked_until FROM password_credentials WHERE user_id = $1`,
		userID.String()).Scan(&lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_GET_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	// Unlocked between the two statements by another successful sign-in.
	if !auth.IsLockedOut(lockedUntil, now) {
		return nil, nil
	}
	return lockedUntil, nil
}

// SetVerificationToken implements auth.CredentialRepository.
func (s *Store) SetVerificationToken(ctx context.Context, userID ulid.ULID, tokenHash string, expiresAt time.Time) error {
	return s.execCredential(ctx, "CREDENTIAL_SET_VERIFICATION_FAILED", userID, `
		UPDATE password_credentials
		SET verification_token_hash = $2, verification_expires_at = $3, updated_at = NOW()
		WHERE user_id = $1
	`, tokenHash, expiresAt)
}

// ConsumeVerificationToken implements auth.CredentialRepository.
func (s *Store) ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	return s.consume(ctx, "VERIFICATION_TOKEN", `
		UPDATE password_credentials
		SET email_verified = TRUE,
		    verification_token_hash = NULL,
		    verification_expires_at = NULL,
		    updated_at = $2
		WHERE verification_token_hash = $1 AND verification_expires_at > $2
		RETURNING user_id
	`, tokenHash, now)
}

// SetResetToken implements auth.CredentialRepository.
func (s *Store) SetResetToken(ctx context.Context, userID ulid.ULID, tokenHash string, expiresAt time.Time) error {
	return s.execCredential(ctx, "CREDENTIAL_SET_RESET_FAILED", userID, `
		UPDATE password_credentials
		SET reset_token_hash = $2, reset_expires_at = $3, updated_at = NOW()
		WHERE user_id = $1
	`, tokenHash, expiresAt)
}

// ConsumeResetToken implements auth.CredentialRepository.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	return s.consume(ctx, "RESET_TOKEN", `
		UPDATE password_credentials
		SET reset_token_hash = NULL, reset_expires_at = NULL, updated_at = $2
		WHERE reset_token_hash = $1 AND reset_expires_at > $2
		RETURNING user_id
	`, tokenHash, now)
}

// UpdatePassword implements auth.CredentialRepository.
func (s *Store) UpdatePassword(ctx context.Context, userID ulid.ULID, passwordHash string, resetLockout bool) error {
	return s.execCredential(ctx, "CREDENTIAL_UPDATE_PASSWORD_FAILED", userID, `
		UPDATE password_credentials SET
			password_hash = $2,
			failed_attempts = CASE WHEN $3::boolean THEN 0 ELSE failed_attempts END,
			locked_until = CASE WHEN $3::boolean THEN NULL ELSE locked_until END,
			updated_at = NOW()
		WHERE user_id = $1
	`, passwordHash, resetLockout)
}

// execCredential runs a single-row credential UPDATE keyed by user_id ($1).
func (s *Store) execCredential(ctx context.Context, code string, userID ulid.ULID, sql string, args ...any) error {
	tag, err := s.q(ctx).Exec(ctx, sql, append([]any{userID.String()}, args...)...)
	if err != nil {
		return oops.Code(code).With("user_id", userID.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// consume runs a single-use token UPDATE ... RETURNING user_id.
func (s *Store) consume(ctx context.Context, kind, sql string, tokenHash string, now time.Time) (ulid.ULID, error) {
	var idStr string
	err := s.q(ctx).QueryRow(ctx, sql, tokenHash, now).Scan(&idStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, oops.Code(kind + "_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return ulid.ULID{}, oops.Code(kind + "_CONSUME_FAILED").Wrap(err)
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return ulid.ULID{}, oops.Code("CREDENTIAL_CORRUPT_ID").With("user_id", idStr).Wrap(err)
	}
	return id, nil
}
