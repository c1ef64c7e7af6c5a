// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package auth

import (
	"errors"
	"net/http"

	"github.com/samber/oops"

	"github.com/synthstack/authcore/pkg/errutil"
)

// ErrNotFound is returned by repositories when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by repositories when a uniqueness constraint is violated.
var ErrConflict = errors.New("conflict")

// Error codes forming the public error taxonomy.
const (
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeUserAlreadyExists   = "USER_ALREADY_EXISTS"
	CodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	CodeAccountLocked       = "ACCOUNT_LOCKED"
	CodeAccountDisabled     = "ACCOUNT_DISABLED"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodePasswordTooWeak     = "PASSWORD_TOO_WEAK"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeOAuthError          = "OAUTH_ERROR"
)

// statusKey is the oops context key carrying the suggested HTTP status.
const statusKey = "http_status"

// Kind is one member of the error taxonomy: a machine-readable code plus the
// HTTP status a transport layer should use for it.
//
// oops reports the innermost code in a chain, so a taxonomy error must be
// created fresh (Errorf) rather than wrapping an already-coded cause.
type Kind struct {
	Code   string
	Status int
}

// Taxonomy members.
var (
	InvalidCredentials  = Kind{CodeInvalidCredentials, http.StatusUnauthorized}
	UserNotFound        = Kind{CodeUserNotFound, http.StatusNotFound}
	UserAlreadyExists   = Kind{CodeUserAlreadyExists, http.StatusConflict}
	EmailNotVerified    = Kind{CodeEmailNotVerified, http.StatusForbidden}
	AccountLocked       = Kind{CodeAccountLocked, http.StatusLocked}
	AccountDisabled     = Kind{CodeAccountDisabled, http.StatusForbidden}
	InvalidToken        = Kind{CodeInvalidToken, http.StatusUnauthorized}
	TokenExpired        = Kind{CodeTokenExpired, http.StatusUnauthorized}
	InvalidRefreshToken = Kind{CodeInvalidRefreshToken, http.StatusUnauthorized}
	PasswordTooWeak     = Kind{CodePasswordTooWeak, http.StatusBadRequest}
	InvalidInput        = Kind{CodeInvalidInput, http.StatusBadRequest}
	ProviderError       = Kind{CodeProviderError, http.StatusInternalServerError}
	OAuthError          = Kind{CodeOAuthError, http.StatusBadRequest}
)

// Builder returns an oops builder pre-populated with the kind's code and status.
func (k Kind) Builder() oops.OopsErrorBuilder {
	return oops.Code(k.Code).With(statusKey, k.Status)
}

// Errorf creates an error of this kind.
func (k Kind) Errorf(format string, args ...any) error {
	return k.Builder().Errorf(format, args...)
}

// WithStatus returns a copy of k carrying a different HTTP status, e.g. a
// PROVIDER_ERROR answered with 501 for unsupported operations.
func (k Kind) WithStatus(status int) Kind {
	k.Status = status
	return k
}

// Is reports whether err belongs to this kind.
func (k Kind) Is(err error) bool {
	return err != nil && errutil.Code(err) == k.Code
}

var taxonomy = map[string]bool{
	CodeInvalidCredentials: true, CodeUserNotFound: true, CodeUserAlreadyExists: true,
	CodeEmailNotVerified: true, CodeAccountLocked: true, CodeAccountDisabled: true,
	CodeInvalidToken: true, CodeTokenExpired: true, CodeInvalidRefreshToken: true,
	CodePasswordTooWeak: true, CodeInvalidInput: true, CodeProviderError: true,
	CodeOAuthError: true,
}

// InTaxonomy reports whether err carries one of the public error codes.
func InTaxonomy(err error) bool {
	return err != nil && taxonomy[errutil.Code(err)]
}

// ProviderFailure reports an unexpected failure beneath a provider as
// PROVIDER_ERROR. The cause is flattened into the message and its own code
// kept as "cause_code", so the chain reports PROVIDER_ERROR instead of a
// storage code. Errors already in the taxonomy are returned unchanged.
func ProviderFailure(provider, operation string, err error) error {
	if err == nil || InTaxonomy(err) {
		return err
	}
	b := ProviderError.Builder().
		With("provider", provider).
		With("operation", operation)
	if code := errutil.Code(err); code != "" {
		b = b.With("cause_code", code)
	}
	return b.Errorf("%s: %v", operation, err)
}

// ErrorCode returns the taxonomy code of err, or "" if it has none.
func ErrorCode(err error) string {
	return errutil.Code(err)
}

// HTTPStatus returns the suggested HTTP status for err. Errors outside the
// taxonomy map to 500.
func HTTPStatus(err error) int {
	if v, ok := errutil.ContextValue(err, statusKey); ok {
		if status, ok := v.(int); ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// NotSupported is the PROVIDER_ERROR returned when a provider does not implement
// an operation.
func NotSupported(provider, operation string) error {
	return ProviderError.WithStatus(http.StatusNotImplemented).Builder().
		With("provider", provider).
		With("operation", operation).
		Errorf("provider %q does not support %s", provider, operation)
}
