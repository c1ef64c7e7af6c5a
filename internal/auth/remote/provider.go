// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

// Package remote implements a provider that delegates credential checks to
// an external identity API and mirrors verified identities into local
// shadow users keyed by email.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/synthstack/authcore/internal/auth"
	"github.com/synthstack/authcore/internal/token"
	"github.com/synthstack/authcore/pkg/errutil"
)

// Defaults for Config.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = 100 * time.Millisecond
)

// Endpoint labels.
const (
	endpointLogin        = "login"
	endpointRefresh      = "refresh"
	endpointLogout       = "logout"
	endpointMe           = "users_me"
	endpointResetRequest = "password_request"
	endpointReset        = "password_reset"
)

// Config configures the remote provider.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   uint64
	RetryBackoff time.Duration
	// SkipLocallySigned answers invalid without a network call when the
	// token carries the local codec's signature. Requires WithLocalCodec.
	SkipLocallySigned bool
}

// Provider is the remote auth.Provider.
type Provider struct {
	users  auth.UserRepository
	client *client
	codec  *token.Codec
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	http   *http.Client
}

var (
	_ auth.Provider      = (*Provider)(nil)
	_ auth.OAuthProvider = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client. Its timeout is left as given.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithClock sets the time source used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithLocalCodec lets the provider recognise locally signed tokens.
func WithLocalCodec(c *token.Codec) Option {
	return func(p *Provider) { p.codec = c }
}

// New creates a remote provider. Shadow users are written through users.
func New(users auth.UserRepository, cfg Config, opts ...Option) (*Provider, error) {
	if users == nil {
		return nil, oops.Code("REMOTE_PROVIDER_INVALID").Errorf("user repository is required")
	}
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	p := &Provider{
		users:  users,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.SkipLocallySigned && p.codec == nil {
		return nil, oops.Code("REMOTE_PROVIDER_INVALID").Errorf("skip_locally_signed requires a local codec")
	}
	if p.http == nil {
		p.http = &http.Client{Timeout: cfg.Timeout}
	}
	p.client = &client{
		base:       base,
		http:       p.http,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		logger:     p.logger,
	}
	return p, nil
}

// Name implements auth.Provider.
func (p *Provider) Name() string { return auth.ProviderRemote }

type remoteUser struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Avatar    *string `json:"avatar"`
}

func (u remoteUser) displayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type remoteTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// Expires is the access token lifetime in milliseconds.
	Expires int64 `json:"expires"`
}

// SignUp implements auth.Provider. Registration happens in the external
// system, never through this provider.
func (p *Provider) SignUp(context.Context, auth.SignUpInput) (*auth.Session, error) {
	return nil, auth.NotSupported(auth.ProviderRemote, "SignUp")
}

// SignIn implements auth.Provider.
func (p *Provider) SignIn(ctx context.Context, in auth.SignInInput) (*auth.Session, error) {
	var tokens remoteTokens
	status, err := p.client.do(ctx, call{
		endpoint: endpointLogin,
		method:   http.MethodPost,
		path:     "/auth/login",
		body: map[string]string{
			"email":    auth.NormalizeEmail(in.Email),
			"password": in.Password,
		},
	}, &tokens)
	if err != nil {
		return nil, p.unavailable(err, endpointLogin)
	}
	if isClientError(status) {
		return nil, auth.InvalidCredentials.Errorf("invalid email or password")
	}
	if !isSuccess(status) {
		return nil, p.unexpected(endpointLogin, status)
	}
	return p.sessionFromTokens(ctx, tokens)
}

// SignOut implements auth.Provider. Remote failures are logged, not returned.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	status, err := p.client.do(ctx, call{
		endpoint: endpointLogout,
		method:   http.MethodPost,
		path:     "/auth/logout",
		bearer:   accessToken,
		body:     map[string]string{},
	}, nil)
	if err != nil {
		errutil.LogWarn(ctx, p.logger, "remote sign-out failed", err)
		return nil
	}
	if !isSuccess(status) {
		p.logger.DebugContext(ctx, "remote sign-out rejected", "status", status)
	}
	return nil
}

// RefreshSession implements auth.Provider.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	if refreshToken == "" {
		return nil, auth.InvalidRefreshToken.Errorf("refresh token is required")
	}
	tokens, status, err := p.refresh(ctx, refreshToken)
	if err != nil {
		return nil, p.unavailable(err, endpointRefresh)
	}
	if isClientError(status) {
		return nil, auth.InvalidRefreshToken.Errorf("invalid refresh token")
	}
	if !isSuccess(status) {
		return nil, p.unexpected(endpointRefresh, status)
	}
	return p.sessionFromTokens(ctx, tokens)
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (remoteTokens, int, error) {
	var tokens remoteTokens
	status, err := p.client.do(ctx, call{
		endpoint: endpointRefresh,
		method:   http.MethodPost,
		path:     "/auth/refresh",
		body: map[string]string{
			"refresh_token": refreshToken,
			"mode":          "json",
		},
	}, &tokens)
	return tokens, status, err
}

// VerifyToken implements auth.Provider. Any failure to reach a positive
// answer from the remote, including transport errors, is an invalid result.
func (p *Provider) VerifyToken(ctx context.Context, accessToken string) (*auth.Verification, error) {
	if accessToken == "" {
		return auth.Invalid(auth.ProviderRemote, "empty token"), nil
	}
	if p.cfg.SkipLocallySigned && p.codec.IsLocallySigned(accessToken) {
		return auth.Invalid(auth.ProviderRemote, "locally signed token"), nil
	}

	remote, status, err := p.me(ctx, accessToken)
	if err != nil {
		errutil.LogWarn(ctx, p.logger, "remote token verification unavailable", err)
		return auth.Invalid(auth.ProviderRemote, "remote unavailable"), nil
	}
	if !isSuccess(status) {
		return auth.Invalid(auth.ProviderRemote, "remote rejected token"), nil
	}

	user, err := p.upsertShadow(ctx, remote)
	if err != nil {
		return nil, err
	}
	if user.Banned {
		return auth.Invalid(auth.ProviderRemote, "user banned"), nil
	}
	au := auth.NewAuthUser(user, true)
	return &auth.Verification{
		Valid:    true,
		Provider: auth.ProviderRemote,
		UserID:   user.ID,
		User:     &au,
	}, nil
}

func (p *Provider) me(ctx context.Context, accessToken string) (remoteUser, int, error) {
	var u remoteUser
	status, err := p.client.do(ctx, call{
		endpoint: endpointMe,
		method:   http.MethodGet,
		path:     "/users/me",
		bearer:   accessToken,
	}, &u)
	return u, status, err
}

// upsertShadow mirrors a remote identity into the local user table.
func (p *Provider) upsertShadow(ctx context.Context, remote remoteUser) (*auth.User, error) {
	email := auth.NormalizeEmail(remote.Email)
	if err := auth.ValidateEmail(email); err != nil {
		return nil, auth.ProviderError.WithStatus(http.StatusBadGateway).Builder().
			With("provider", auth.ProviderRemote).
			Errorf("remote identity has no usable email")
	}
	var avatar string
	if remote.Avatar != nil && *remote.Avatar != "" {
		avatar = p.client.base.JoinPath("assets", *remote.Avatar).String()
	}
	user, err := p.users.UpsertShadowUser(ctx, email, remote.displayName(), avatar)
	if err != nil {
		return nil, auth.ProviderFailure(auth.ProviderRemote, "upsert shadow user", err)
	}
	return user, nil
}

// sessionFromTokens resolves the identity behind fresh remote tokens and
// shapes them like a local session.
func (p *Provider) sessionFromTokens(ctx context.Context, tokens remoteTokens) (*auth.Session, error) {
	if tokens.AccessToken == "" {
		return nil, auth.ProviderError.WithStatus(http.StatusBadGateway).Errorf("remote returned no access token")
	}
	remote, status, err := p.me(ctx, tokens.AccessToken)
	if err != nil {
		return nil, p.unavailable(err, endpointMe)
	}
	if !isSuccess(status) {
		return nil, p.unexpected(endpointMe, status)
	}
	user, err := p.upsertShadow(ctx, remote)
	if err != nil {
		return nil, err
	}
	if user.Banned {
		return nil, auth.AccountDisabled.Errorf("account is disabled")
	}

	return &auth.Session{
		User:         auth.NewAuthUser(user, true),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    p.now().Add(time.Duration(tokens.Expires) * time.Millisecond).UnixMilli(),
		TokenType:    auth.TokenTypeBearer,
		Provider:     auth.ProviderRemote,
	}, nil
}

// GetUser implements auth.Provider from the shadow table.
func (p *Provider) GetUser(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	u, err := p.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, p.lookupErr(err)
	}
	return u, nil
}

// GetUserByEmail implements auth.Provider from the shadow table.
func (p *Provider) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := p.users.GetUserByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		return nil, p.lookupErr(err)
	}
	return u, nil
}

// ResetPasswordRequest implements auth.Provider. The answer never depends on
// whether the remote knows the address.
func (p *Provider) ResetPasswordRequest(ctx context.Context, email string) error {
	status, err := p.client.do(ctx, call{
		endpoint: endpointResetRequest,
		method:   http.MethodPost,
		path:     "/auth/password/request",
		body:     map[string]string{"email": auth.NormalizeEmail(email)},
	}, nil)
	if err != nil {
		errutil.LogErrorContext(ctx, p.logger, "remote password reset request failed", err)
		return nil
	}
	if !isSuccess(status) {
		p.logger.DebugContext(ctx, "remote password reset request rejected", "status", status)
	}
	return nil
}

// ResetPassword implements auth.Provider. Only the token flow is proxied.
func (p *Provider) ResetPassword(ctx context.Context, in auth.ResetPasswordInput) error {
	if in.Token == "" {
		return auth.NotSupported(auth.ProviderRemote, "ResetPassword with current password")
	}
	if err := auth.ValidatePassword(in.NewPassword); err != nil {
		return err
	}
	status, err := p.client.do(ctx, call{
		endpoint: endpointReset,
		method:   http.MethodPost,
		path:     "/auth/password/reset",
		body: map[string]string{
			"token":    in.Token,
			"password": in.NewPassword,
		},
	}, nil)
	if err != nil {
		return p.unavailable(err, endpointReset)
	}
	if isClientError(status) {
		return auth.InvalidToken.Errorf("invalid or expired reset token")
	}
	if !isSuccess(status) {
		return p.unexpected(endpointReset, status)
	}
	return nil
}

// OAuthURL implements auth.OAuthProvider. The remote drives the redirect
// dance and calls back with a refresh token as the code.
func (p *Provider) OAuthURL(_ context.Context, oauthProvider, redirectURL string) (string, error) {
	if oauthProvider == "" {
		return "", auth.OAuthError.Errorf("oauth provider is required")
	}
	u := p.client.base.JoinPath("auth", "login", oauthProvider)
	if redirectURL != "" {
		q := u.Query()
		q.Set("redirect", redirectURL)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// HandleOAuthCallback implements auth.OAuthProvider.
func (p *Provider) HandleOAuthCallback(ctx context.Context, in auth.OAuthCallbackInput) (*auth.Session, error) {
	if in.Code == "" {
		return nil, auth.OAuthError.Errorf("authorization code is required")
	}
	tokens, status, err := p.refresh(ctx, in.Code)
	if err != nil {
		return nil, p.unavailable(err, endpointRefresh)
	}
	if isClientError(status) {
		return nil, auth.OAuthError.Builder().
			With("oauth_provider", in.OAuthProvider).
			Errorf("oauth code was rejected")
	}
	if !isSuccess(status) {
		return nil, p.unexpected(endpointRefresh, status)
	}
	return p.sessionFromTokens(ctx, tokens)
}

func (p *Provider) lookupErr(err error) error {
	if errors.Is(err, auth.ErrNotFound) {
		return auth.UserNotFound.Errorf("user not found")
	}
	return auth.ProviderFailure(auth.ProviderRemote, "lookup user", err)
}

// unavailable reports a remote that gave no definitive answer. The cause is
// flattened into the message so the error keeps the PROVIDER_ERROR code.
func (p *Provider) unavailable(err error, endpoint string) error {
	return auth.ProviderError.WithStatus(http.StatusBadGateway).Builder().
		With("provider", auth.ProviderRemote).
		With("endpoint", endpoint).
		Errorf("identity service unavailable: %v", err)
}

func (p *Provider) unexpected(endpoint string, status int) error {
	return auth.ProviderError.WithStatus(http.StatusBadGateway).Builder().
		With("provider", auth.ProviderRemote).
		With("endpoint", endpoint).
		With("status", status).
		Errorf("identity service answered %d", status)
}
