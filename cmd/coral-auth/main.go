// coral-auth is the authorization server: it validates implicit-flow
// authorization requests, authenticates principals locally or through a
// federated provider, and redirects back with signed tokens in the fragment.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/coralproject/coral-auth/oidc"
	"github.com/coralproject/coral-auth/oidc/authn"
	"github.com/coralproject/coral-auth/oidc/connect"
	"github.com/coralproject/coral-auth/store/redistx"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "coral-auth",
		Level: hclog.LevelFromString(envOr(envLogLevel, "info")),
	})
	if err := run(logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Key material is loaded once and the process refuses to serve without
	// a publishable JWKS.
	privPEM, err := os.ReadFile(cfg.privateKeyFile)
	if err != nil {
		return fmt.Errorf("unable to read private key %q: %w", cfg.privateKeyFile, err)
	}
	pubPEM, err := os.ReadFile(cfg.publicKeyFile)
	if err != nil {
		return fmt.Errorf("unable to read public key %q: %w", cfg.publicKeyFile, err)
	}
	keys, err := oidc.LoadKeySet(privPEM, pubPEM, oidc.DefaultAlg)
	if err != nil {
		return err
	}
	logger.Info("signing key loaded", "alg", keys.Alg(), "kid", keys.KeyID())

	tokens, err := oidc.NewTokenService(keys, cfg.rootURL, cfg.tokenExpiry, oidc.WithLogger(logger))
	if err != nil {
		return err
	}
	registry, err := oidc.NewClientRegistry(cfg.allowedClients)
	if err != nil {
		return err
	}

	store, err := newTransactionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	users := authn.NewInMemoryUserStore()
	local, err := authn.NewLocal(users, authn.WithLogger(logger))
	if err != nil {
		return err
	}
	authenticators := []authn.Authenticator{local}
	for kind, creds := range cfg.providers {
		fc, err := authn.DefaultFederatedConfig(kind, creds.clientID, creds.clientSecret, cfg.rootURL)
		if err != nil {
			return err
		}
		federated, err := authn.NewFederated(ctx, fc, users, authn.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("unable to enable %s provider: %w", kind, err)
		}
		authenticators = append(authenticators, federated)
		logger.Info("federated provider enabled", "provider", kind)
	}

	flow, err := connect.NewFlow(registry, tokens, store, authenticators, connect.WithLogger(logger))
	if err != nil {
		return err
	}
	handler, err := connect.NewHandler(&connect.HandlerConfig{
		Flow:          flow,
		Issuer:        cfg.rootURL,
		SecureCookies: strings.HasPrefix(cfg.rootURL, "https://") || cfg.trustProxy,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Mount("/connect", handler)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.listenAddr, "issuer", cfg.rootURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newTransactionStore uses Redis when a URL is configured so detours survive
// restarts, and the in-process store otherwise.
func newTransactionStore(ctx context.Context, cfg *config, logger hclog.Logger) (oidc.TransactionStore, error) {
	if cfg.redisURL == "" {
		logger.Info("using in-memory transaction store")
		return oidc.NewMemoryTransactionStore(oidc.WithLogger(logger)), nil
	}
	opts, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", envRedisURL, err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("unable to reach redis: %w", err)
	}
	logger.Info("using redis transaction store", "addr", opts.Addr)
	return redistx.New(client, redistx.WithLogger(logger))
}
