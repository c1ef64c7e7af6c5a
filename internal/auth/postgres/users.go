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

const userColumns = `id, email, display_name, avatar_url, banned, created_at, updated_at`

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		u     auth.User
		idStr string
	)
	if err := row.Scan(&idStr, &u.Email, &u.DisplayName, &u.AvatarURL, &u.Banned, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	u.ID = id
	return &u, nil
}

// GetUserByID implements auth.UserRepository.
func (s *Store) GetUserByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	u, err := scanUser(s.q(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("id", id.String()).Wrap(err)
	}
	return u, nil
}

// GetUserByEmail implements auth.UserRepository.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := scanUser(s.q(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").With("email", email).Wrap(err)
	}
	return u, nil
}

// UpdateUser implements auth.UserRepository.
func (s *Store) UpdateUser(ctx context.Context, user *auth.User) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE users SET display_name = $2, avatar_url = $3, updated_at = $4
		WHERE id = $1
	`, user.ID.String(), user.DisplayName, user.AvatarURL, user.UpdatedAt)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("id", user.ID.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteUser implements auth.UserRepository. Credentials and sessions go
// with the user through ON DELETE CASCADE.
func (s *Store) DeleteUser(ctx context.Context, id ulid.ULID) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").With("id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpsertShadowUser implements auth.UserRepository.
func (s *Store) UpsertShadowUser(ctx context.Context, email, displayName, avatarURL string) (*auth.User, error) {
	fresh, err := auth.NewUser(email, displayName, time.Now())
	if err != nil {
		return nil, err
	}
	u, err := scanUser(s.q(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, display_name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT ((LOWER(email))) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    avatar_url = EXCLUDED.avatar_url,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+userColumns,
		fresh.ID.String(), fresh.Email, displayName, avatarURL, fresh.CreatedAt))
	if err != nil {
		return nil, oops.Code("USER_UPSERT_FAILED").With("email", fresh.Email).Wrap(err)
	}
	return u, nil
}

// IsBanned implements auth.BanChecker.
func (s *Store) IsBanned(ctx context.Context, userID ulid.ULID) (bool, error) {
	var banned bool
	err := s.q(ctx).QueryRow(ctx, `SELECT banned FROM users WHERE id = $1`, userID.String()).Scan(&banned)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, oops.Code("USER_NOT_FOUND").With("id", userID.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return false, oops.Code("USER_BAN_CHECK_FAILED").With("id", userID.String()).Wrap(err)
	}
	return banned, nil
}

// SetBanned sets or clears a user's ban.
func (s *Store) SetBanned(ctx context.Context, userID ulid.ULID, banned bool) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE users SET banned = $2, updated_at = NOW() WHERE id = $1`, userID.String(), banned)
	if err != nil {
		return oops.Code("USER_BAN_FAILED").With("id", userID.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", userID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}
