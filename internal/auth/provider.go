// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Provider names of the built-in providers.
const (
	ProviderLocal  = "local"
	ProviderRemote = "remote"
)

// SignUpInput is the registration request.
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
}

// SignInInput is the password sign-in request.
type SignInInput struct {
	Email    string
	Password string
}

// ResetPasswordInput selects one of two flows: Token (forgotten password) or
// CurrentPassword + UserID (authenticated change).
type ResetPasswordInput struct {
	Token           string
	CurrentPassword string
	UserID          ulid.ULID
	NewPassword     string
}

// OAuthCallbackInput is what an OAuth redirect hands back.
type OAuthCallbackInput struct {
	// OAuthProvider is the upstream identity provider, e.g. "google".
	OAuthProvider string
	Code          string
	State         string
}

// Provider is the contract every identity backend implements.
type Provider interface {
	// Name is the registry key, also carried in issued tokens.
	Name() string

	SignUp(ctx context.Context, in SignUpInput) (*Session, error)
	SignIn(ctx context.Context, in SignInInput) (*Session, error)

	// SignOut revokes the caller's session. Undecodable tokens are not an error.
	SignOut(ctx context.Context, accessToken string) error

	// RefreshSession redeems a refresh token exactly once and returns a new pair.
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)

	// VerifyToken reports whether accessToken is valid for this provider.
	// An invalid token is a negative Verification, not an error; errors mean
	// the check itself could not be performed.
	VerifyToken(ctx context.Context, accessToken string) (*Verification, error)

	GetUser(ctx context.Context, id ulid.ULID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// ResetPasswordRequest succeeds whether or not the email is known.
	ResetPasswordRequest(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in ResetPasswordInput) error
}

// EmailVerifier is implemented by providers that own email verification.
type EmailVerifier interface {
	VerifyEmail(ctx context.Context, token string) (*User, error)
	// ResendVerificationEmail is silent for unknown addresses. For verified
	// addresses it is silent unless authenticated is set.
	ResendVerificationEmail(ctx context.Context, email string, authenticated bool) error
}

// OAuthProvider is implemented by providers that can broker OAuth logins.
type OAuthProvider interface {
	OAuthURL(ctx context.Context, oauthProvider, redirectURL string) (string, error)
	HandleOAuthCallback(ctx context.Context, in OAuthCallbackInput) (*Session, error)
}

// UserManager is implemented by providers that own user profiles.
type UserManager interface {
	UpdateUser(ctx context.Context, id ulid.ULID, update UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, id ulid.ULID) error
}
