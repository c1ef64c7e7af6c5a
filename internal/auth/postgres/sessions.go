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

// CreateSession implements auth.SessionRepository.
func (s *Store) CreateSession(ctx context.Context, session *auth.SessionRecord) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		session.ID.String(),
		session.UserID.String(),
		session.AccessTokenHash,
		session.RefreshTokenHash,
		session.Active,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// LockSessionByRefreshHash implements auth.SessionRepository. Outside a
// transaction the row lock is released immediately.
func (s *Store) LockSessionByRefreshHash(ctx context.Context, refreshHash string) (*auth.SessionRecord, error) {
	var (
		rec           auth.SessionRecord
		idStr, uidStr string
	)
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, user_id, access_token_hash, refresh_token_hash, active, expires_at, created_at
		FROM sessions
		WHERE refresh_token_hash = $1
		FOR UPDATE
	`, refreshHash).Scan(&idStr, &uidStr, &rec.AccessTokenHash, &rec.RefreshTokenHash, &rec.Active, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_LOCK_FAILED").With("operation", "select session for update").Wrap(err)
	}
	if rec.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	if rec.UserID, err = ulid.Parse(uidStr); err != nil {
		return nil, oops.Code("SESSION_CORRUPT_ID").With("user_id", uidStr).Wrap(err)
	}
	return &rec, nil
}

// DeactivateSession implements auth.SessionRepository.
func (s *Store) DeactivateSession(ctx context.Context, id ulid.ULID) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE sessions SET active = FALSE, deactivated_at = COALESCE(deactivated_at, NOW())
		WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("SESSION_DEACTIVATE_FAILED").With("session_id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeactivateSessionByAccessHash implements auth.SessionRepository.
func (s *Store) DeactivateSessionByAccessHash(ctx context.Context, userID ulid.ULID, accessHash string) (int64, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE sessions SET active = FALSE, deactivated_at = NOW()
		WHERE user_id = $1 AND access_token_hash = $2 AND active
	`, userID.String(), accessHash)
	if err != nil {
		return 0, oops.Code("SESSION_DEACTIVATE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeactivateUserSessions implements auth.SessionRepository.
func (s *Store) DeactivateUserSessions(ctx context.Context, userID ulid.ULID) (int64, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE sessions SET active = FALSE, deactivated_at = NOW()
		WHERE user_id = $1 AND active
	`, userID.String())
	if err != nil {
		return 0, oops.Code("SESSION_DEACTIVATE_ALL_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredSessions implements auth.SessionRepository.
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		DELETE FROM sessions
		WHERE expires_at < $1 OR (NOT active AND deactivated_at < $1)
	`, cutoff)
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").With("cutoff", cutoff).Wrap(err)
	}
	return tag.RowsAffected(), nil
}
