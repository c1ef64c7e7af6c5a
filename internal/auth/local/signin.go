// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package local

import (
	"context"
	"errors"
	"time"

	"github.com/synthstack/authcore/internal/auth"
	"github.com/synthstack/authcore/internal/observability"
	"github.com/synthstack/authcore/pkg/errutil"
)

// SignUp implements auth.Provider. User and credential are created in one
// transaction together with the first session.
func (p *Provider) SignUp(ctx context.Context, in auth.SignUpInput) (*auth.Session, error) {
	email := auth.NormalizeEmail(in.Email)
	if err := auth.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	_, err := p.store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil, auth.UserAlreadyExists.Errorf("an account with this email already exists")
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return nil, p.storeErr(err, "sign up")
	}

	hash, err := p.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, p.storeErr(err, "hash password")
	}

	now := p.now()
	user, err := auth.NewUser(email, in.DisplayName, now)
	if err != nil {
		return nil, p.storeErr(err, "sign up")
	}
	verifyToken, verifyHash, err := auth.GenerateOpaqueToken()
	if err != nil {
		return nil, p.storeErr(err, "generate verification token")
	}
	verifyExpires := now.Add(auth.VerificationTokenTTL)
	cred := &auth.PasswordCredential{
		UserID:                user.ID,
		PasswordHash:          hash,
		VerificationTokenHash: &verifyHash,
		VerificationExpiresAt: &verifyExpires,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	var session *auth.Session
	err = p.store.InTransaction(ctx, func(ctx context.Context) error {
		if err := p.store.CreateUserWithCredential(ctx, user, cred); err != nil {
			return err
		}
		var issueErr error
		session, issueErr = p.issueSession(ctx, user, false)
		return issueErr
	})
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			return nil, auth.UserAlreadyExists.Errorf("an account with this email already exists")
		}
		return nil, p.storeErr(err, "sign up")
	}

	p.sendMail(ctx, "verification", func(ctx context.Context) error {
		return p.mailer.SendVerificationEmail(ctx, email, verifyToken)
	})
	return session, nil
}

// SignIn implements auth.Provider. Lockout is checked before the password so
// a locked account answers the same for right and wrong passwords, and again
// when the counter is reset so a lockout committed while the hash was being
// verified still wins. Ban and verification state are only revealed to
// callers holding the password.
func (p *Provider) SignIn(ctx context.Context, in auth.SignInInput) (*auth.Session, error) {
	email := auth.NormalizeEmail(in.Email)

	user, err := p.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			return nil, p.storeErr(err, "sign in")
		}
		p.equaliseTiming(ctx, in.Password)
		return nil, invalidCredentials()
	}

	cred, err := p.store.GetCredential(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			return nil, p.storeErr(err, "sign in")
		}
		// Shadow users have no local password.
		p.equaliseTiming(ctx, in.Password)
		return nil, invalidCredentials()
	}

	now := p.now()
	if cred.IsLockedAt(now) {
		return nil, accountLocked(*cred.LockedUntil)
	}

	ok, err := p.hasher.Verify(ctx, in.Password, cred.PasswordHash)
	if err != nil {
		return nil, p.storeErr(err, "verify password")
	}
	if !ok {
		failures, lockedUntil, err := p.store.RecordFailedAttempt(ctx, user.ID, p.cfg.Lockout, now)
		if err != nil {
			return nil, p.storeErr(err, "record failed attempt")
		}
		if lockedUntil != nil {
			observability.RecordLockout()
			p.logger.InfoContext(ctx, "account locked",
				"user_id", user.ID.String(),
				"failed_attempts", failures,
				"locked_until", lockedUntil.UTC())
		}
		return nil, invalidCredentials()
	}

	lockedUntil, err := p.store.ResetFailedAttempts(ctx, user.ID, p.now())
	if err != nil {
		return nil, p.storeErr(err, "reset failed attempts")
	}
	if lockedUntil != nil {
		return nil, accountLocked(*lockedUntil)
	}

	if user.Banned {
		return nil, auth.AccountDisabled.Errorf("account is disabled")
	}
	if p.cfg.RequireEmailVerification && !cred.EmailVerified {
		return nil, auth.EmailNotVerified.Errorf("email address has not been verified")
	}

	p.upgradeHash(ctx, user, in.Password, cred.PasswordHash)

	return p.issueSession(ctx, user, cred.EmailVerified)
}

// equaliseTiming spends one password verification so unknown emails take as
// long as known ones.
func (p *Provider) equaliseTiming(ctx context.Context, password string) {
	_, _ = p.hasher.Verify(ctx, password, p.dummyHash)
}

// upgradeHash rehashes with current parameters when the stored hash is weaker.
func (p *Provider) upgradeHash(ctx context.Context, user *auth.User, password, current string) {
	if !p.hasher.NeedsUpgrade(current) {
		return
	}
	hash, err := p.hasher.Hash(ctx, password)
	if err == nil {
		err = p.store.UpdatePassword(ctx, user.ID, hash, false)
	}
	if err != nil {
		errutil.LogWarn(ctx, p.logger, "password hash upgrade failed", err, "user_id", user.ID.String())
		return
	}
	p.logger.DebugContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

func (p *Provider) sendMail(ctx context.Context, kind string, send func(context.Context) error) {
	if err := send(ctx); err != nil {
		errutil.LogWarn(ctx, p.logger, "failed to request email", err, "kind", kind)
	}
}

func accountLocked(until time.Time) error {
	until = until.UTC()
	return auth.AccountLocked.Builder().
		With("locked_until", until).
		Errorf("account is locked until %s", until.Format(time.RFC3339))
}

func invalidCredentials() error {
	return auth.InvalidCredentials.Errorf("invalid email or password")
}
