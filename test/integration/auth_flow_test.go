// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/synthstack/authcore/internal/auth"
	"github.com/synthstack/authcore/internal/auth/authtest"
	"github.com/synthstack/authcore/internal/auth/local"
	"github.com/synthstack/authcore/internal/auth/postgres"
	"github.com/synthstack/authcore/internal/auth/remote"
	"github.com/synthstack/authcore/internal/mail"
	"github.com/synthstack/authcore/internal/token"
)

const secret = "integration-secret-0123456789abcdef"

var tokenInBody = regexp.MustCompile(`token=([A-Za-z0-9_\-]+)`)

// outbox collects delivered mail.
type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) tokenFor(kind mail.Kind, to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		m := o.msgs[i]
		if m.Kind == kind && m.To == to {
			if match := tokenInBody.FindStringSubmatch(m.Body); match != nil {
				return match[1]
			}
		}
	}
	return ""
}

// identityService fakes the remote identity API for one user.
func identityService(email, password string) *httptest.Server {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
	}
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != email || body["password"] != password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		write(w, map[string]any{"access_token": "remote-access", "refresh_token": "remote-refresh", "expires": 900000})
	})
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer remote-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		write(w, map[string]any{"id": "r-1", "email": email, "first_name": "Grace", "last_name": "Hopper"})
	})
	return httptest.NewServer(mux)
}

var _ = Describe("Auth flows on PostgreSQL", Ordered, func() {
	var (
		st         *postgres.Store
		svc        *auth.Service
		dispatcher *mail.Dispatcher
		box        *outbox
		identity   *httptest.Server
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate()

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		st = postgres.New(pool)
		box = &outbox{}
		dispatcher = mail.NewDispatcher(box, mail.Config{Workers: 1}, logger)
		identity = identityService("grace@example.com", "cobol-1959")

		codec, err := token.NewCodec([]byte(secret))
		Expect(err).NotTo(HaveOccurred())
		lp, err := local.New(st, codec, authtest.Hasher(), local.Config{},
			local.WithMailer(dispatcher), local.WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		rp, err := remote.New(st, remote.Config{BaseURL: identity.URL, RetryBackoff: time.Millisecond},
			remote.WithLocalCodec(codec), remote.WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())

		svc, err = auth.NewService(auth.ServiceConfig{ActiveProvider: auth.ProviderLocal},
			[]auth.Provider{lp, rp}, auth.WithEventSink(st), auth.WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(dispatcher.Close(ctx)).To(Succeed())
		identity.Close()
	})

	// drain delivers queued mail so tokens can be read from the outbox.
	drain := func() {
		Expect(dispatcher.Close(ctx)).To(Succeed())
	}

	It("round-trips sign-up, email verification and sign-in to the same user", func() {
		signedUp, err := svc.SignUp(ctx, auth.SignUpInput{Email: "Alice@Example.com", Password: "pass1234", DisplayName: "Alice"})
		Expect(err).NotTo(HaveOccurred())
		Expect(signedUp.User.Email).To(Equal("alice@example.com"))
		Expect(signedUp.User.EmailVerified).To(BeFalse())

		drain()
		verifyToken := box.tokenFor(mail.KindVerification, "alice@example.com")
		Expect(verifyToken).NotTo(BeEmpty())

		verified, err := svc.VerifyEmail(ctx, verifyToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(verified.ID.String()).To(Equal(signedUp.User.ID))

		_, err = svc.VerifyEmail(ctx, verifyToken)
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidToken), "verification tokens are single use")

		signedIn, err := svc.SignIn(ctx, auth.SignInInput{Email: "alice@example.com", Password: "pass1234"})
		Expect(err).NotTo(HaveOccurred())
		Expect(signedIn.User.ID).To(Equal(signedUp.User.ID))
		Expect(signedIn.User.EmailVerified).To(BeTrue())

		v, err := svc.VerifyToken(ctx, signedIn.AccessToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Valid).To(BeTrue())
		Expect(v.Provider).To(Equal(auth.ProviderLocal))
	})

	It("locks alice out after five wrong passwords", func() {
		_, err := svc.SignUp(ctx, auth.SignUpInput{Email: "alice@example.com", Password: "pass1234"})
		Expect(err).NotTo(HaveOccurred())

		for range 5 {
			_, err := svc.SignIn(ctx, auth.SignInInput{Email: "alice@example.com", Password: "wrong-pass1"})
			Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidCredentials))
		}
		_, err = svc.SignIn(ctx, auth.SignInInput{Email: "alice@example.com", Password: "pass1234"})
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeAccountLocked))
	})

	It("rotates refresh tokens exactly once", func() {
		session, err := svc.SignUp(ctx, auth.SignUpInput{Email: "bob@example.com", Password: "abc12345"})
		Expect(err).NotTo(HaveOccurred())

		rotated, err := svc.RefreshSession(ctx, session.RefreshToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(rotated.RefreshToken).NotTo(Equal(session.RefreshToken))

		_, err = svc.RefreshSession(ctx, session.RefreshToken)
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidRefreshToken))
	})

	It("resets a forgotten password through the mailed token", func() {
		_, err := svc.SignUp(ctx, auth.SignUpInput{Email: "carol@example.com", Password: "abc12345"})
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.ResetPasswordRequest(ctx, "carol@example.com")).To(Succeed())
		Expect(svc.ResetPasswordRequest(ctx, "nobody@example.com")).To(Succeed(), "unknown emails look the same")
		drain()

		resetToken := box.tokenFor(mail.KindPasswordReset, "carol@example.com")
		Expect(resetToken).NotTo(BeEmpty())
		Expect(box.tokenFor(mail.KindPasswordReset, "nobody@example.com")).To(BeEmpty())

		Expect(svc.ResetPassword(ctx, auth.ResetPasswordInput{Token: resetToken, NewPassword: "new-pass99"})).To(Succeed())
		err = svc.ResetPassword(ctx, auth.ResetPasswordInput{Token: resetToken, NewPassword: "other-pass99"})
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidToken))

		_, err = svc.SignIn(ctx, auth.SignInInput{Email: "carol@example.com", Password: "abc12345"})
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidCredentials))
		_, err = svc.SignIn(ctx, auth.SignInInput{Email: "carol@example.com", Password: "new-pass99"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("verifies remote tokens through the fallback scan and upserts a shadow user", func() {
		session, err := svc.SignIn(ctx, auth.SignInInput{Email: "grace@example.com", Password: "cobol-1959"}, auth.WithProvider(auth.ProviderRemote))
		Expect(err).NotTo(HaveOccurred())
		Expect(session.Provider).To(Equal(auth.ProviderRemote))

		v, err := svc.VerifyToken(ctx, session.AccessToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Valid).To(BeTrue())
		Expect(v.Provider).To(Equal(auth.ProviderRemote))

		shadow, err := st.GetUserByEmail(ctx, "grace@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(shadow.DisplayName).To(Equal("Grace Hopper"))
		Expect(v.UserID).To(Equal(shadow.ID))
	})

	It("records an audit event for every state change", func() {
		_, err := svc.SignUp(ctx, auth.SignUpInput{Email: "dave@example.com", Password: "abc12345"})
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.SignIn(ctx, auth.SignInInput{Email: "dave@example.com", Password: "nope-nope1"},
			auth.WithRequestMeta("198.51.100.4", "integration"))
		Expect(err).To(HaveOccurred())

		var types []string
		rows, err := pool.Query(ctx, `SELECT type FROM auth_events ORDER BY created_at, id`)
		Expect(err).NotTo(HaveOccurred())
		defer rows.Close()
		for rows.Next() {
			var typ string
			Expect(rows.Scan(&typ)).To(Succeed())
			types = append(types, typ)
		}
		Expect(rows.Err()).NotTo(HaveOccurred())
		Expect(types).To(Equal([]string{string(auth.EventSignUp), string(auth.EventSignInFailed)}))
	})
})
