// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/synthstack/authcore/internal/observability"
	"github.com/synthstack/authcore/pkg/errutil"
)

const tracerName = "authcore/auth"

// ServiceConfig selects the provider used for writes.
type ServiceConfig struct {
	ActiveProvider string
}

// Service routes auth operations to registered providers and records an
// audit event for every state-changing call. It is constructed once at
// startup and shared by all request handlers.
type Service struct {
	providers []Provider
	byName    map[string]Provider
	active    Provider
	events    EventSink
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEventSink sets where audit events go. Without one, events are dropped.
func WithEventSink(sink EventSink) ServiceOption {
	return func(s *Service) { s.events = sink }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ServiceOption {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// WithServiceClock sets the clock used to stamp events.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService registers providers in the given order. Order matters: token
// verification without a named provider tries them first to last.
func NewService(cfg ServiceConfig, providers []Provider, opts ...ServiceOption) (*Service, error) {
	if len(providers) == 0 {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("at least one provider is required")
	}
	s := &Service{
		byName: make(map[string]Provider, len(providers)),
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, p := range providers {
		if p == nil {
			return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("provider cannot be nil")
		}
		if _, dup := s.byName[p.Name()]; dup {
			return nil, oops.Code("AUTH_SERVICE_INVALID").With("provider", p.Name()).Errorf("provider registered twice")
		}
		s.byName[p.Name()] = p
		s.providers = append(s.providers, p)
	}
	active, ok := s.byName[cfg.ActiveProvider]
	if !ok {
		return nil, oops.Code("AUTH_SERVICE_INVALID").
			With("active_provider", cfg.ActiveProvider).
			Errorf("active provider is not registered")
	}
	s.active = active
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ActiveProvider returns the name of the provider used for writes.
func (s *Service) ActiveProvider() string {
	return s.active.Name()
}

// Providers returns provider names in registration order.
func (s *Service) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// CallOption adjusts a single Service call.
type CallOption func(*callOptions)

type callOptions struct {
	provider  string
	ip        string
	userAgent string
}

// WithProvider routes the call to the named provider instead of the active
// one, or restricts token verification to it.
func WithProvider(name string) CallOption {
	return func(o *callOptions) { o.provider = name }
}

// WithRequestMeta attaches the client address and user agent to the audit event.
func WithRequestMeta(ip, userAgent string) CallOption {
	return func(o *callOptions) {
		o.ip = ip
		o.userAgent = userAgent
	}
}

func collect(opts []CallOption) callOptions {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	return co
}

func (s *Service) pick(co callOptions) (Provider, error) {
	if co.provider == "" {
		return s.active, nil
	}
	p, ok := s.byName[co.provider]
	if !ok {
		return nil, ProviderError.WithStatus(http.StatusBadRequest).Builder().
			With("provider", co.provider).
			Errorf("unknown provider %q", co.provider)
	}
	return p, nil
}

// event describes the audit record of one call.
type event struct {
	typ     EventType
	failTyp EventType
	email   string
	userID  *ulid.ULID
}

// run executes fn against the selected provider inside a span, then records
// the operation metric and audit event. Neither can fail the call.
func run[T any](ctx context.Context, s *Service, op string, co callOptions, ev *event, fn func(context.Context, Provider) (T, error)) (T, error) {
	var zero T
	p, err := s.pick(co)
	if err != nil {
		return zero, err
	}

	ctx, span := s.tracer.Start(ctx, "auth."+op, trace.WithAttributes(
		attribute.String("auth.provider", p.Name()),
	))
	defer span.End()

	result, err := fn(ctx, p)
	if err != nil {
		err = ProviderFailure(p.Name(), op, err)
	}

	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = ErrorCode(err)
		if outcome == "" {
			outcome = "INTERNAL"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	observability.RecordOperation(op, p.Name(), outcome)

	if ev != nil {
		if ev.userID == nil {
			ev.userID = subjectOf(ctx, result)
		}
		s.record(ctx, p.Name(), co, ev, err)
	}
	return result, err
}

// subjectOf finds the user an operation acted on, from its result or the
// authenticated request context.
func subjectOf(ctx context.Context, result any) *ulid.ULID {
	var raw string
	switch r := result.(type) {
	case *Session:
		if r != nil {
			raw = r.User.ID
		}
	case *User:
		if r != nil {
			id := r.ID
			return &id
		}
	}
	if raw == "" {
		if u, ok := UserFromContext(ctx); ok {
			id := u.ID
			return &id
		}
		return nil
	}
	id, err := ulid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

// record appends the audit event. Failures are logged, never returned.
func (s *Service) record(ctx context.Context, provider string, co callOptions, ev *event, opErr error) {
	if s.events == nil {
		return
	}
	typ := ev.typ
	meta := map[string]any{"success": opErr == nil}
	if opErr != nil {
		if ev.failTyp != "" {
			typ = ev.failTyp
		}
		if code := ErrorCode(opErr); code != "" {
			meta["error_code"] = code
		}
	}
	if co.ip != "" {
		meta["ip"] = co.ip
	}
	if co.userAgent != "" {
		meta["user_agent"] = co.userAgent
	}

	err := s.events.AppendEvent(ctx, &AuthEvent{
		ID:        ulid.Make(),
		Type:      typ,
		UserID:    ev.userID,
		Email:     NormalizeEmail(ev.email),
		Provider:  provider,
		Metadata:  meta,
		CreatedAt: s.now(),
	})
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to append auth event", err, "event_type", string(typ))
	}
}

// SignUp registers a user with the selected provider.
func (s *Service) SignUp(ctx context.Context, in SignUpInput, opts ...CallOption) (*Session, error) {
	return run(ctx, s, "sign_up", collect(opts), &event{typ: EventSignUp, email: in.Email},
		func(ctx context.Context, p Provider) (*Session, error) { return p.SignUp(ctx, in) })
}

// SignIn authenticates with email and password.
func (s *Service) SignIn(ctx context.Context, in SignInInput, opts ...CallOption) (*Session, error) {
	return run(ctx, s, "sign_in", collect(opts), &event{typ: EventSignIn, failTyp: EventSignInFailed, email: in.Email},
		func(ctx context.Context, p Provider) (*Session, error) { return p.SignIn(ctx, in) })
}

// SignOut revokes the session behind accessToken.
func (s *Service) SignOut(ctx context.Context, accessToken string, opts ...CallOption) error {
	_, err := run(ctx, s, "sign_out", collect(opts), &event{typ: EventSignOut},
		func(ctx context.Context, p Provider) (struct{}, error) { return struct{}{}, p.SignOut(ctx, accessToken) })
	return err
}

// RefreshSession rotates a refresh token.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string, opts ...CallOption) (*Session, error) {
	return run(ctx, s, "refresh_session", collect(opts), &event{typ: EventSessionRefreshed},
		func(ctx context.Context, p Provider) (*Session, error) { return p.RefreshSession(ctx, refreshToken) })
}

// VerifyToken checks an access token. With WithProvider it asks that
// provider only. Otherwise every provider is asked in registration order
// and the first valid answer wins; provider errors count as invalid and no
// error is surfaced.
func (s *Service) VerifyToken(ctx context.Context, accessToken string, opts ...CallOption) (*Verification, error) {
	co := collect(opts)
	if co.provider != "" {
		return run(ctx, s, "verify_token", co, nil,
			func(ctx context.Context, p Provider) (*Verification, error) { return p.VerifyToken(ctx, accessToken) })
	}

	ctx, span := s.tracer.Start(ctx, "auth.verify_token")
	defer span.End()

	for _, p := range s.providers {
		v, err := p.VerifyToken(ctx, accessToken)
		if err != nil {
			errutil.LogWarn(ctx, s.logger, "provider failed to verify token", err, "provider", p.Name())
			continue
		}
		if v != nil && v.Valid {
			span.SetAttributes(attribute.String("auth.provider", p.Name()))
			observability.RecordOperation("verify_token", p.Name(), observability.OutcomeSuccess)
			return v, nil
		}
	}
	observability.RecordOperation("verify_token", "any", CodeInvalidToken)
	return Invalid("", "no provider accepted the token"), nil
}

// GetUser loads a user from the selected provider.
func (s *Service) GetUser(ctx context.Context, id ulid.ULID, opts ...CallOption) (*User, error) {
	return run(ctx, s, "get_user", collect(opts), nil,
		func(ctx context.Context, p Provider) (*User, error) { return p.GetUser(ctx, id) })
}

// GetUserByEmail loads a user by email from the selected provider.
func (s *Service) GetUserByEmail(ctx context.Context, email string, opts ...CallOption) (*User, error) {
	return run(ctx, s, "get_user_by_email", collect(opts), nil,
		func(ctx context.Context, p Provider) (*User, error) { return p.GetUserByEmail(ctx, email) })
}

// ResetPasswordRequest starts the forgotten-password flow.
func (s *Service) ResetPasswordRequest(ctx context.Context, email string, opts ...CallOption) error {
	_, err := run(ctx, s, "reset_password_request", collect(opts), &event{typ: EventPasswordResetRequest, email: email},
		func(ctx context.Context, p Provider) (struct{}, error) {
			return struct{}{}, p.ResetPasswordRequest(ctx, email)
		})
	return err
}

// ResetPassword completes a reset or changes a password.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput, opts ...CallOption) error {
	ev := &event{typ: EventPasswordReset}
	if in.UserID.Compare(ulid.ULID{}) != 0 {
		id := in.UserID
		ev.userID = &id
	}
	_, err := run(ctx, s, "reset_password", collect(opts), ev,
		func(ctx context.Context, p Provider) (struct{}, error) { return struct{}{}, p.ResetPassword(ctx, in) })
	return err
}

// VerifyEmail consumes an email verification token.
func (s *Service) VerifyEmail(ctx context.Context, verifyToken string, opts ...CallOption) (*User, error) {
	return run(ctx, s, "verify_email", collect(opts), &event{typ: EventEmailVerified},
		func(ctx context.Context, p Provider) (*User, error) {
			ev, ok := p.(EmailVerifier)
			if !ok {
				return nil, NotSupported(p.Name(), "VerifyEmail")
			}
			return ev.VerifyEmail(ctx, verifyToken)
		})
}

// ResendVerificationEmail issues a fresh verification token.
func (s *Service) ResendVerificationEmail(ctx context.Context, email string, authenticated bool, opts ...CallOption) error {
	_, err := run(ctx, s, "resend_verification", collect(opts), &event{typ: EventVerificationResent, email: email},
		func(ctx context.Context, p Provider) (struct{}, error) {
			ev, ok := p.(EmailVerifier)
			if !ok {
				return struct{}{}, NotSupported(p.Name(), "ResendVerificationEmail")
			}
			return struct{}{}, ev.ResendVerificationEmail(ctx, email, authenticated)
		})
	return err
}

// UpdateUser changes profile fields.
func (s *Service) UpdateUser(ctx context.Context, id ulid.ULID, update UserUpdate, opts ...CallOption) (*User, error) {
	return run(ctx, s, "update_user", collect(opts), &event{typ: EventUserUpdated, userID: &id},
		func(ctx context.Context, p Provider) (*User, error) {
			um, ok := p.(UserManager)
			if !ok {
				return nil, NotSupported(p.Name(), "UpdateUser")
			}
			return um.UpdateUser(ctx, id, update)
		})
}

// DeleteUser removes a user.
func (s *Service) DeleteUser(ctx context.Context, id ulid.ULID, opts ...CallOption) error {
	_, err := run(ctx, s, "delete_user", collect(opts), &event{typ: EventUserDeleted, userID: &id},
		func(ctx context.Context, p Provider) (struct{}, error) {
			um, ok := p.(UserManager)
			if !ok {
				return struct{}{}, NotSupported(p.Name(), "DeleteUser")
			}
			return struct{}{}, um.DeleteUser(ctx, id)
		})
	return err
}

// OAuthURL returns the URL that starts an OAuth login. Without a named
// provider, each OAuth-capable provider is tried in order and the first
// success wins.
func (s *Service) OAuthURL(ctx context.Context, oauthProvider, redirectURL string, opts ...CallOption) (string, error) {
	co := collect(opts)
	if co.provider != "" {
		return run(ctx, s, "oauth_url", co, nil, func(ctx context.Context, p Provider) (string, error) {
			op, ok := p.(OAuthProvider)
			if !ok {
				return "", NotSupported(p.Name(), "OAuthURL")
			}
			return op.OAuthURL(ctx, oauthProvider, redirectURL)
		})
	}

	var lastErr error
	for _, p := range s.oauthProviders() {
		u, err := run(ctx, s, "oauth_url", callOptions{provider: p.Name()}, nil, func(ctx context.Context, p Provider) (string, error) {
			return p.(OAuthProvider).OAuthURL(ctx, oauthProvider, redirectURL)
		})
		if err == nil {
			return u, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", NotSupported("any", "OAuthURL")
}

// HandleOAuthCallback completes an OAuth login, falling back across
// OAuth-capable providers like OAuthURL.
func (s *Service) HandleOAuthCallback(ctx context.Context, in OAuthCallbackInput, opts ...CallOption) (*Session, error) {
	co := collect(opts)
	callback := func(ctx context.Context, p Provider) (*Session, error) {
		op, ok := p.(OAuthProvider)
		if !ok {
			return nil, NotSupported(p.Name(), "HandleOAuthCallback")
		}
		return op.HandleOAuthCallback(ctx, in)
	}
	if co.provider != "" {
		return run(ctx, s, "oauth_callback", co, &event{typ: EventOAuthCallback}, callback)
	}

	candidates := s.oauthProviders()
	if len(candidates) == 0 {
		return nil, NotSupported("any", "HandleOAuthCallback")
	}
	var (
		lastErr  error
		lastName string
	)
	for _, p := range candidates {
		perCall := co
		perCall.provider = p.Name()
		session, err := run(ctx, s, "oauth_callback", perCall, nil, callback)
		if err == nil {
			s.record(ctx, p.Name(), perCall, &event{typ: EventOAuthCallback, userID: subjectOf(ctx, session)}, nil)
			return session, nil
		}
		errutil.LogWarn(ctx, s.logger, "oauth callback failed, trying next provider", err, "provider", p.Name())
		lastErr, lastName = err, p.Name()
	}
	s.record(ctx, lastName, co, &event{typ: EventOAuthCallback, userID: subjectOf(ctx, nil)}, lastErr)
	return nil, lastErr
}

func (s *Service) oauthProviders() []Provider {
	var out []Provider
	for _, p := range s.providers {
		if _, ok := p.(OAuthProvider); ok {
			out = append(out, p)
		}
	}
	return out
}
