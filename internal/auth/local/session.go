// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package local

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/synthstack/authcore/internal/auth"
	"github.com/synthstack/authcore/internal/token"
)

// issueSession mints an access token and an opaque refresh token, persists
// their digests, and returns the plaintext pair. This is the only place the
// plaintext refresh token exists.
func (p *Provider) issueSession(ctx context.Context, user *auth.User, emailVerified bool) (*auth.Session, error) {
	now := p.now()

	access, claims, err := p.codec.Issue(token.Claims{
		Subject:  user.ID.String(),
		Email:    user.Email,
		Provider: auth.ProviderLocal,
	}, p.cfg.AccessTokenTTL)
	if err != nil {
		return nil, p.storeErr(err, "issue access token")
	}

	refresh, refreshHash, err := auth.GenerateOpaqueToken()
	if err != nil {
		return nil, p.storeErr(err, "generate refresh token")
	}

	record, err := auth.NewSessionRecord(user.ID, auth.HashToken(access), refreshHash, now, now.Add(p.cfg.SessionDuration))
	if err != nil {
		return nil, p.storeErr(err, "create session")
	}
	if err := p.store.CreateSession(ctx, record); err != nil {
		return nil, p.storeErr(err, "create session")
	}

	return &auth.Session{
		User:         auth.NewAuthUser(user, emailVerified),
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    claims.ExpiresAt.UnixMilli(),
		TokenType:    auth.TokenTypeBearer,
		Provider:     auth.ProviderLocal,
	}, nil
}

// SignOut implements auth.Provider. The token only has to be genuine, not
// fresh, so an expired access token still signs out. Tokens that do not
// decode are ignored.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	claims, err := p.codec.Decode(accessToken)
	if err != nil {
		p.logger.DebugContext(ctx, "sign-out with undecodable token", "code", auth.ErrorCode(err))
		return nil
	}
	if claims.Provider != auth.ProviderLocal {
		return nil
	}
	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil
	}

	n, err := p.store.DeactivateSessionByAccessHash(ctx, userID, auth.HashToken(accessToken))
	if err != nil {
		return p.storeErr(err, "sign out")
	}
	if n > 0 {
		return nil
	}

	// No session matches this exact token; revoke everything the subject holds.
	if _, err := p.store.DeactivateUserSessions(ctx, userID); err != nil {
		return p.storeErr(err, "sign out all")
	}
	return nil
}

// RefreshSession implements auth.Provider. Lookup, deactivation and
// re-issue run in one transaction with the session row locked, so a replayed
// refresh token can never mint two sessions.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	if refreshToken == "" {
		return nil, auth.InvalidRefreshToken.Errorf("refresh token is required")
	}
	refreshHash := auth.HashToken(refreshToken)

	var (
		session *auth.Session
		expired bool
	)
	err := p.store.InTransaction(ctx, func(ctx context.Context) error {
		record, err := p.store.LockSessionByRefreshHash(ctx, refreshHash)
		if errors.Is(err, auth.ErrNotFound) {
			return auth.InvalidRefreshToken.Errorf("invalid refresh token")
		}
		if err != nil {
			return err
		}
		if !record.Active {
			return auth.InvalidRefreshToken.Errorf("invalid refresh token")
		}

		if record.IsExpiredAt(p.now()) {
			// Commit the deactivation; the caller still gets TOKEN_EXPIRED.
			expired = true
			return p.store.DeactivateSession(ctx, record.ID)
		}

		user, err := p.store.GetUserByID(ctx, record.UserID)
		if errors.Is(err, auth.ErrNotFound) {
			return auth.InvalidRefreshToken.Errorf("invalid refresh token")
		}
		if err != nil {
			return err
		}
		if user.Banned {
			return auth.AccountDisabled.Errorf("account is disabled")
		}
		verified, err := p.emailVerified(ctx, user.ID)
		if err != nil {
			return err
		}

		if err := p.store.DeactivateSession(ctx, record.ID); err != nil {
			return err
		}
		session, err = p.issueSession(ctx, user, verified)
		return err
	})
	if err != nil {
		if auth.InvalidRefreshToken.Is(err) || auth.AccountDisabled.Is(err) {
			return nil, err
		}
		return nil, p.storeErr(err, "refresh session")
	}
	if expired {
		return nil, auth.TokenExpired.Errorf("refresh token has expired")
	}
	return session, nil
}

// VerifyToken implements auth.Provider. Claims establish identity only; the
// user row is re-read on every call so bans and deletions apply at once.
func (p *Provider) VerifyToken(ctx context.Context, accessToken string) (*auth.Verification, error) {
	claims, err := p.codec.Verify(accessToken)
	if err != nil {
		return auth.Invalid(auth.ProviderLocal, auth.ErrorCode(err)), nil
	}
	if claims.Provider != auth.ProviderLocal {
		return auth.Invalid(auth.ProviderLocal, "provider mismatch"), nil
	}
	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return auth.Invalid(auth.ProviderLocal, "malformed subject"), nil
	}

	user, err := p.store.GetUserByID(ctx, userID)
	if errors.Is(err, auth.ErrNotFound) {
		return auth.Invalid(auth.ProviderLocal, "user not found"), nil
	}
	if err != nil {
		return nil, p.storeErr(err, "verify token")
	}
	if user.Banned {
		return auth.Invalid(auth.ProviderLocal, "user banned"), nil
	}

	verified, err := p.emailVerified(ctx, userID)
	if err != nil {
		return nil, p.storeErr(err, "verify token")
	}
	au := auth.NewAuthUser(user, verified)
	return &auth.Verification{
		Valid:    true,
		Provider: auth.ProviderLocal,
		UserID:   userID,
		User:     &au,
	}, nil
}

func (p *Provider) storeErr(err error, operation string) error {
	return auth.ProviderFailure(auth.ProviderLocal, operation, err)
}
