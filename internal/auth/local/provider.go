// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

// Package local implements the self-hosted password provider: argon2id
// credentials, hashed sessions with refresh rotation, lockout, and single-use
// reset and verification tokens.
package local

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/synthstack/authcore/internal/auth"
	"github.com/synthstack/authcore/internal/token"
)

// Session lifetimes.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultSessionDuration = 168 * time.Hour
)

// dummyPassword is hashed once at construction so unknown-user sign-ins
// spend the same argon2 time as real ones.
const dummyPassword = "timing-equaliser-0"

// Config tunes the local provider. Zero values take defaults.
type Config struct {
	RequireEmailVerification bool
	AccessTokenTTL           time.Duration
	SessionDuration          time.Duration
	Lockout                  auth.LockoutPolicy
}

func (c Config) withDefaults() Config {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.SessionDuration <= 0 {
		c.SessionDuration = DefaultSessionDuration
	}
	c.Lockout = c.Lockout.WithDefaults()
	return c
}

// Provider is the local auth.Provider.
type Provider struct {
	store     auth.CredentialStore
	codec     *token.Codec
	hasher    auth.ContextHasher
	mailer    auth.Mailer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	dummyHash string
}

var (
	_ auth.Provider      = (*Provider)(nil)
	_ auth.EmailVerifier = (*Provider)(nil)
	_ auth.UserManager   = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithMailer sets the mail collaborator. Without one, mail requests are dropped.
func WithMailer(m auth.Mailer) Option {
	return func(p *Provider) { p.mailer = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithClock sets the time source. The codec keeps its own clock.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New creates a local provider.
func New(store auth.CredentialStore, codec *token.Codec, hasher auth.ContextHasher, cfg Config, opts ...Option) (*Provider, error) {
	if store == nil {
		return nil, oops.Code("LOCAL_PROVIDER_INVALID").Errorf("credential store is required")
	}
	if codec == nil {
		return nil, oops.Code("LOCAL_PROVIDER_INVALID").Errorf("token codec is required")
	}
	if hasher == nil {
		return nil, oops.Code("LOCAL_PROVIDER_INVALID").Errorf("password hasher is required")
	}

	p := &Provider{
		store:  store,
		codec:  codec,
		hasher: hasher,
		mailer: noopMailer{},
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	dummy, err := hasher.Hash(context.Background(), dummyPassword)
	if err != nil {
		return nil, oops.Code("LOCAL_PROVIDER_INVALID").With("operation", "hash dummy password").Wrap(err)
	}
	p.dummyHash = dummy
	return p, nil
}

// Name implements auth.Provider.
func (p *Provider) Name() string { return auth.ProviderLocal }

// GetUser implements auth.Provider.
func (p *Provider) GetUser(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	u, err := p.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, p.mapLookupErr(err, "get user")
	}
	return u, nil
}

// GetUserByEmail implements auth.Provider.
func (p *Provider) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := p.store.GetUserByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		return nil, p.mapLookupErr(err, "get user by email")
	}
	return u, nil
}

// UpdateUser implements auth.UserManager.
func (p *Provider) UpdateUser(ctx context.Context, id ulid.ULID, update auth.UserUpdate) (*auth.User, error) {
	u, err := p.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, p.mapLookupErr(err, "update user")
	}
	update.Apply(u, p.now())
	if err := p.store.UpdateUser(ctx, u); err != nil {
		return nil, p.mapLookupErr(err, "update user")
	}
	return u, nil
}

// DeleteUser implements auth.UserManager. Credential and sessions go with the user.
func (p *Provider) DeleteUser(ctx context.Context, id ulid.ULID) error {
	if err := p.store.DeleteUser(ctx, id); err != nil {
		return p.mapLookupErr(err, "delete user")
	}
	return nil
}

func (p *Provider) mapLookupErr(err error, operation string) error {
	if errors.Is(err, auth.ErrNotFound) {
		return auth.UserNotFound.Builder().With("operation", operation).Errorf("user not found")
	}
	return auth.ProviderFailure(auth.ProviderLocal, operation, err)
}

// emailVerified reports the credential's verified flag. Users without a
// credential (remote shadow users) report unverified.
func (p *Provider) emailVerified(ctx context.Context, userID ulid.ULID) (bool, error) {
	cred, err := p.store.GetCredential(ctx, userID)
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cred.EmailVerified, nil
}

type noopMailer struct{}

func (noopMailer) SendVerificationEmail(context.Context, string, string) error  { return nil }
func (noopMailer) SendPasswordResetEmail(context.Context, string, string) error { return nil }
func (noopMailer) SendWelcomeEmail(context.Context, string, string) error       { return nil }
