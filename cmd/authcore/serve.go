// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/synthstack/authcore/internal/auth"
	"github.com/synthstack/authcore/internal/auth/local"
	"github.com/synthstack/authcore/internal/auth/postgres"
	"github.com/synthstack/authcore/internal/auth/remote"
	"github.com/synthstack/authcore/internal/config"
	"github.com/synthstack/authcore/internal/logging"
	"github.com/synthstack/authcore/internal/mail"
	"github.com/synthstack/authcore/internal/observability"
	"github.com/synthstack/authcore/internal/store"
	"github.com/synthstack/authcore/internal/token"
	"github.com/synthstack/authcore/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand. Nil deps use the defaults.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the auth API",
		Long: `Run the request gate and session API in front of the configured
providers, with metrics and health probes on the metrics address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg, deps)
		},
	}
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.OpenPool == nil {
		out.OpenPool = store.Open
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	return &out
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, deps *ServeDeps) error {
	deps = deps.withDefaults()
	logger := logging.SetDefault("authcore", version, logging.Options{Format: cfg.Log.Format, Level: cfg.Log.Level})

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url (or DATABASE_URL) is required")
	}
	pool, err := deps.OpenPool(ctx, cfg.Database.URL, poolConfig(cfg))
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()
	st := postgres.New(pool)
	logger.Info("connected to database")

	dispatcher := mail.NewDispatcher(mail.LogSender{Logger: logger}, mail.Config{
		QueueSize: cfg.Mail.QueueSize,
		Workers:   cfg.Mail.Workers,
		LinkBase:  cfg.Mail.LinkBase,
	}, logger)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			errutil.LogWarn(drainCtx, logger, "mail queue not fully drained", err)
		}
	}()

	providers, err := buildProviders(cfg, st, dispatcher, logger)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(auth.ServiceConfig{ActiveProvider: cfg.ActiveProvider}, providers,
		auth.WithEventSink(st),
		auth.WithLogger(logger),
	)
	if err != nil {
		return oops.With("operation", "create auth service").Wrap(err)
	}
	gate, err := svc.Middleware(auth.MiddlewareConfig{Users: st, PublicPaths: cfg.HTTP.PublicPaths, Logger: logger})
	if err != nil {
		return oops.With("operation", "create request gate").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return pool.Ping(pingCtx) == nil
		})
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           gate(newAPIMux(svc)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	apiErrCh := make(chan error, 1)
	go func() {
		defer close(apiErrCh)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErrCh <- err
		}
	}()
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	cmd.Println("authcore started")
	logger.Info("authcore ready",
		"addr", cfg.HTTP.Addr,
		"providers", svc.Providers(),
		"active_provider", svc.ActiveProvider(),
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		errutil.LogWarn(shutdownCtx, logger, "error stopping api server", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogWarn(shutdownCtx, logger, "error stopping observability server", err)
		}
	}
	logger.Info("shutdown complete")
	return nil
}

// buildProviders constructs the enabled providers in scan order: local
// first, then remote.
func buildProviders(cfg *config.Config, st *postgres.Store, mailer auth.Mailer, logger *slog.Logger) ([]auth.Provider, error) {
	var codec *token.Codec
	if cfg.Auth.SigningSecret != "" {
		c, err := token.NewCodec([]byte(cfg.Auth.SigningSecret), token.WithIssuer(cfg.Auth.Issuer))
		if err != nil {
			return nil, oops.With("operation", "create token codec").Wrap(err)
		}
		codec = c
	}

	var providers []auth.Provider
	if cfg.Providers.Local.Enabled {
		pool := auth.NewHashPool(auth.NewArgon2idHasher(), cfg.Auth.HashWorkers)
		p, err := local.New(st, codec, pool, local.Config{
			RequireEmailVerification: cfg.Auth.RequireEmailVerification,
			AccessTokenTTL:           cfg.Auth.AccessTokenTTL,
			SessionDuration:          cfg.SessionDuration(),
			Lockout: auth.LockoutPolicy{
				MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
				Duration:          cfg.LockoutDuration(),
			},
		}, local.WithMailer(mailer), local.WithLogger(logger))
		if err != nil {
			return nil, oops.With("operation", "create local provider").Wrap(err)
		}
		providers = append(providers, p)
	}
	if cfg.Providers.Remote.Enabled {
		rc := cfg.Providers.Remote
		opts := []remote.Option{remote.WithLogger(logger)}
		if codec != nil {
			opts = append(opts, remote.WithLocalCodec(codec))
		}
		p, err := remote.New(st, remote.Config{
			BaseURL:           rc.BaseURL,
			Timeout:           rc.Timeout,
			MaxRetries:        uint64(max(rc.MaxRetries, 0)),
			RetryBackoff:      rc.RetryBackoff,
			SkipLocallySigned: rc.SkipLocallySigned,
		}, opts...)
		if err != nil {
			return nil, oops.With("operation", "create remote provider").Wrap(err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

type meResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// newAPIMux serves the routes behind the gate. Session issuance belongs to
// the embedding application; authcore itself exposes identity lookup.
func newAPIMux(svc *auth.Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		//nolint:errcheck // client may disconnect
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			auth.WriteError(w, auth.InvalidToken.Errorf("no authenticated user"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck // client may disconnect
		json.NewEncoder(w).Encode(meResponse{
			ID:          user.ID.String(),
			Email:       user.Email,
			DisplayName: user.DisplayName,
			AvatarURL:   user.AvatarURL,
		})
	})
	mux.HandleFunc("POST /v1/sign-out", func(w http.ResponseWriter, r *http.Request) {
		bearer, _ := auth.BearerToken(r)
		if err := svc.SignOut(r.Context(), bearer, auth.WithRequestMeta(clientIP(r), r.UserAgent())); err != nil {
			auth.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
