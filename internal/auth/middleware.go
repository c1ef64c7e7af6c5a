// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/synthstack/authcore/pkg/errutil"
)

// MiddlewareConfig configures the request gate.
type MiddlewareConfig struct {
	// Users supplies the live user row and ban status.
	Users UserDirectory
	// PublicPaths are glob patterns ("/auth/*", "/docs/**") that bypass the gate.
	PublicPaths []string
	Logger      *slog.Logger
}

// ErrorBody is the JSON body of a rejected request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure without revealing why verification failed.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Middleware returns the request gate. It verifies the bearer token through
// VerifyToken, loads the live user, rejects banned users with 403, and
// attaches the user to the request context. Every other failure is a generic
// 401.
func (s *Service) Middleware(cfg MiddlewareConfig) (func(http.Handler) http.Handler, error) {
	if cfg.Users == nil {
		return nil, oops.Code("MIDDLEWARE_INVALID").Errorf("user directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = s.logger
	}
	public := make([]glob.Glob, 0, len(cfg.PublicPaths))
	for _, pattern := range cfg.PublicPaths {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, oops.Code("MIDDLEWARE_INVALID").With("pattern", pattern).Wrap(err)
		}
		public = append(public, g)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, g := range public {
				if g.Match(r.URL.Path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			ctx := r.Context()
			bearer, ok := BearerToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			v, err := s.VerifyToken(ctx, bearer)
			if err != nil || v == nil || !v.Valid {
				writeUnauthorized(w)
				return
			}

			user, err := cfg.Users.GetUserByID(ctx, v.UserID)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					errutil.LogErrorContext(ctx, logger, "failed to load user for request", err, "user_id", v.UserID.String())
				}
				writeUnauthorized(w)
				return
			}
			banned, err := cfg.Users.IsBanned(ctx, user.ID)
			if err != nil {
				errutil.LogErrorContext(ctx, logger, "failed to check ban status", err, "user_id", user.ID.String())
				writeUnauthorized(w)
				return
			}
			if banned {
				writeError(w, http.StatusForbidden, CodeAccountDisabled, "account is disabled")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
		})
	}, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, tok, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
}

// WriteError writes err as a JSON error body with its taxonomy status.
// Messages of 5xx errors are replaced so internals never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	code := ErrorCode(err)
	var msg string
	switch {
	case status < http.StatusInternalServerError:
		msg = err.Error()
	case status == http.StatusNotImplemented:
		msg = "operation not supported"
	case status == http.StatusBadGateway:
		msg = "identity service unavailable"
	default:
		code, msg = "INTERNAL", "internal error"
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}
