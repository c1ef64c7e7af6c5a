// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package local

import (
	"context"
	"errors"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/synthstack/authcore/internal/auth"
)

// ResetPasswordRequest implements auth.Provider. Unknown addresses and users
// without a local password return nil without sending anything.
func (p *Provider) ResetPasswordRequest(ctx context.Context, email string) error {
	email = auth.NormalizeEmail(email)

	user, err := p.store.GetUserByEmail(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		return nil
	}
	if err != nil {
		return p.storeErr(err, "reset password request")
	}
	if _, err := p.store.GetCredential(ctx, user.ID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil
		}
		return p.storeErr(err, "reset password request")
	}

	resetToken, resetHash, err := auth.GenerateOpaqueToken()
	if err != nil {
		return p.storeErr(err, "generate reset token")
	}
	if err := p.store.SetResetToken(ctx, user.ID, resetHash, p.now().Add(auth.ResetTokenTTL)); err != nil {
		return p.storeErr(err, "set reset token")
	}

	p.sendMail(ctx, "password_reset", func(ctx context.Context) error {
		return p.mailer.SendPasswordResetEmail(ctx, user.Email, resetToken)
	})
	return nil
}

// ResetPassword implements auth.Provider.
func (p *Provider) ResetPassword(ctx context.Context, in auth.ResetPasswordInput) error {
	if err := auth.ValidatePassword(in.NewPassword); err != nil {
		return err
	}
	switch {
	case in.Token != "":
		return p.resetWithToken(ctx, in.Token, in.NewPassword)
	case in.CurrentPassword != "":
		return p.changePassword(ctx, in.UserID, in.CurrentPassword, in.NewPassword)
	default:
		return auth.InvalidInput.Errorf("a reset token or the current password is required")
	}
}

// resetWithToken consumes the token, replaces the hash, clears the lockout
// and revokes every session of the user, all in one transaction.
func (p *Provider) resetWithToken(ctx context.Context, resetToken, newPassword string) error {
	hash, err := p.hasher.Hash(ctx, newPassword)
	if err != nil {
		return p.storeErr(err, "hash password")
	}

	err = p.store.InTransaction(ctx, func(ctx context.Context) error {
		userID, err := p.store.ConsumeResetToken(ctx, auth.HashToken(resetToken), p.now())
		if errors.Is(err, auth.ErrNotFound) {
			return auth.InvalidToken.Errorf("invalid or expired reset token")
		}
		if err != nil {
			return err
		}
		if err := p.store.UpdatePassword(ctx, userID, hash, true); err != nil {
			return err
		}
		n, err := p.store.DeactivateUserSessions(ctx, userID)
		if err != nil {
			return err
		}
		p.logger.InfoContext(ctx, "password reset", "user_id", userID.String(), "sessions_revoked", n)
		return nil
	})
	if err != nil {
		if auth.InvalidToken.Is(err) {
			return err
		}
		return p.storeErr(err, "reset password")
	}
	return nil
}

// changePassword is the authenticated flow. Sessions are left alone.
func (p *Provider) changePassword(ctx context.Context, userID ulid.ULID, currentPassword, newPassword string) error {
	if userID.Compare(ulid.ULID{}) == 0 {
		return auth.InvalidInput.Errorf("user id is required to change password")
	}

	cred, err := p.store.GetCredential(ctx, userID)
	if errors.Is(err, auth.ErrNotFound) {
		return invalidCredentials()
	}
	if err != nil {
		return p.storeErr(err, "change password")
	}

	ok, err := p.hasher.Verify(ctx, currentPassword, cred.PasswordHash)
	if err != nil {
		return p.storeErr(err, "verify password")
	}
	if !ok {
		return invalidCredentials()
	}

	hash, err := p.hasher.Hash(ctx, newPassword)
	if err != nil {
		return p.storeErr(err, "hash password")
	}
	if err := p.store.UpdatePassword(ctx, userID, hash, false); err != nil {
		return p.storeErr(err, "change password")
	}
	return nil
}

// VerifyEmail implements auth.EmailVerifier. The token is consumed in the
// same statement that marks the address verified.
func (p *Provider) VerifyEmail(ctx context.Context, verifyToken string) (*auth.User, error) {
	if verifyToken == "" {
		return nil, auth.InvalidToken.Errorf("verification token is required")
	}

	userID, err := p.store.ConsumeVerificationToken(ctx, auth.HashToken(verifyToken), p.now())
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.InvalidToken.Errorf("invalid or expired verification token")
	}
	if err != nil {
		return nil, p.storeErr(err, "verify email")
	}

	user, err := p.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, p.mapLookupErr(err, "verify email")
	}

	p.sendMail(ctx, "welcome", func(ctx context.Context) error {
		return p.mailer.SendWelcomeEmail(ctx, user.Email, user.DisplayName)
	})
	return user, nil
}

// ResendVerificationEmail implements auth.EmailVerifier.
func (p *Provider) ResendVerificationEmail(ctx context.Context, email string, authenticated bool) error {
	email = auth.NormalizeEmail(email)

	user, err := p.store.GetUserByEmail(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		return nil
	}
	if err != nil {
		return p.storeErr(err, "resend verification")
	}
	cred, err := p.store.GetCredential(ctx, user.ID)
	if errors.Is(err, auth.ErrNotFound) {
		return nil
	}
	if err != nil {
		return p.storeErr(err, "resend verification")
	}

	if cred.EmailVerified {
		if authenticated {
			return auth.ProviderError.WithStatus(http.StatusBadRequest).Errorf("email address is already verified")
		}
		return nil
	}

	verifyToken, verifyHash, err := auth.GenerateOpaqueToken()
	if err != nil {
		return p.storeErr(err, "generate verification token")
	}
	if err := p.store.SetVerificationToken(ctx, user.ID, verifyHash, p.now().Add(auth.VerificationTokenTTL)); err != nil {
		return p.storeErr(err, "set verification token")
	}

	p.sendMail(ctx, "verification", func(ctx context.Context) error {
		return p.mailer.SendVerificationEmail(ctx, user.Email, verifyToken)
	})
	return nil
}
