// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

// Package token signs and verifies short-lived bearer access tokens.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/synthstack/authcore/internal/auth"
)

// MinSecretLength is the minimum signing secret size in bytes.
const MinSecretLength = 32

// DefaultIssuer is the iss claim written into every token.
const DefaultIssuer = "authcore"

// Claims are the identity facts carried by an access token.
type Claims struct {
	Subject   string
	Email     string
	Provider  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// Codec issues and verifies HS256 tokens with a shared secret. It holds no
// mutable state and is safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithIssuer overrides DefaultIssuer.
func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = issuer }
}

// WithClock sets the time source used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a Codec. The secret must be at least MinSecretLength bytes.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_SECRET_TOO_SHORT").
			With("min_length", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs claims valid for ttl from now. IssuedAt, ExpiresAt and TokenID
// are filled in; the completed claims are returned alongside the token.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, *Claims, error) {
	if claims.Subject == "" {
		return "", nil, oops.Code("TOKEN_ISSUE_FAILED").Errorf("subject cannot be empty")
	}
	if ttl <= 0 {
		return "", nil, oops.Code("TOKEN_ISSUE_FAILED").With("ttl", ttl).Errorf("ttl must be positive")
	}

	// JWT timestamps have second precision.
	now := c.now().Truncate(time.Second)
	claims.IssuedAt = now
	claims.ExpiresAt = now.Add(ttl)
	claims.TokenID = ulid.Make().String()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			NotBefore: jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			ID:        claims.TokenID,
		},
		Email:    claims.Email,
		Provider: claims.Provider,
	})

	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", nil, oops.Code("TOKEN_ISSUE_FAILED").With("operation", "sign").Wrap(err)
	}
	return signed, &claims, nil
}

// Verify checks signature, algorithm, issuer and expiry. Failures are
// INVALID_TOKEN, except a well-signed token past its expiry, which is
// TOKEN_EXPIRED.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	return c.parse(tokenString, true)
}

// Decode checks the signature and issuer but ignores time-based claims, so an
// expired token still yields its identity. Used where a stale but genuine
// token is acceptable, such as sign-out.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	return c.parse(tokenString, false)
}

// IsLocallySigned reports whether tokenString carries this codec's signature,
// regardless of expiry.
func (c *Codec) IsLocallySigned(tokenString string) bool {
	_, err := c.Decode(tokenString)
	return err == nil
}

func (c *Codec) parse(tokenString string, validateTime bool) (*Claims, error) {
	if tokenString == "" {
		return nil, auth.InvalidToken.Errorf("token cannot be empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if validateTime {
		opts = append(opts, jwt.WithIssuer(c.issuer), jwt.WithExpirationRequired())
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	var jc jwtClaims
	tok, err := jwt.ParseWithClaims(tokenString, &jc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, auth.TokenExpired.Builder().Wrapf(err, "token has expired")
		}
		return nil, auth.InvalidToken.Builder().Wrapf(err, "invalid token")
	}
	if !tok.Valid {
		return nil, auth.InvalidToken.Errorf("invalid token")
	}
	if !validateTime && jc.Issuer != c.issuer {
		return nil, auth.InvalidToken.Errorf("invalid token issuer")
	}

	claims := &Claims{
		Subject:  jc.Subject,
		Email:    jc.Email,
		Provider: jc.Provider,
		TokenID:  jc.ID,
	}
	if jc.IssuedAt != nil {
		claims.IssuedAt = jc.IssuedAt.Time
	}
	if jc.ExpiresAt != nil {
		claims.ExpiresAt = jc.ExpiresAt.Time
	}
	return claims, nil
}
