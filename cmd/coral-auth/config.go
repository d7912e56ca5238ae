package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/coralproject/coral-auth/oidc/authn"
)

const (
	envRootURL        = "CORAL_AUTH_ROOT_URL"
	envAllowedClients = "CORAL_AUTH_ALLOWED_CLIENTS"
	envTrustProxy     = "CORAL_AUTH_TRUST_PROXY"
	envPrivateKeyFile = "CORAL_AUTH_PRIVATE_KEY_FILE"
	envPublicKeyFile  = "CORAL_AUTH_PUBLIC_KEY_FILE"
	envTokenExpiry    = "TOKEN_EXPIRY_TIME"
	envRedisURL       = "REDIS_URL"
	envPort           = "PORT"
	envLogLevel       = "CORAL_AUTH_LOG_LEVEL"

	envFacebookID     = "FACEBOOK_APP_ID"
	envFacebookSecret = "FACEBOOK_APP_SECRET"
	envTwitterID      = "TWITTER_CONSUMER_KEY"
	envTwitterSecret  = "TWITTER_CONSUMER_SECRET"
	envGoogleID       = "GOOGLE_CLIENT_ID"
	envGoogleSecret   = "GOOGLE_CLIENT_SECRET"
)

const (
	defaultTokenExpiry    = 24 * time.Hour
	defaultPrivateKeyFile = "keys/private.pem"
	defaultPublicKeyFile  = "keys/public.pem"
	defaultPort           = "4000"
)

type providerCredentials struct {
	clientID     string
	clientSecret authn.ClientSecret
}

type config struct {
	rootURL        string
	allowedClients string
	tokenExpiry    time.Duration
	privateKeyFile string
	publicKeyFile  string
	redisURL       string
	listenAddr     string
	trustProxy     bool
	logLevel       string

	// providers holds the federated variants with a complete id/secret
	// pair; a variant missing either half stays disabled.
	providers map[authn.ProviderKind]providerCredentials
}

func loadConfig() (*config, error) {
	const op = "main.loadConfig"
	var result *multierror.Error

	cfg := &config{
		rootURL:        os.Getenv(envRootURL),
		allowedClients: os.Getenv(envAllowedClients),
		tokenExpiry:    defaultTokenExpiry,
		privateKeyFile: envOr(envPrivateKeyFile, defaultPrivateKeyFile),
		publicKeyFile:  envOr(envPublicKeyFile, defaultPublicKeyFile),
		redisURL:       os.Getenv(envRedisURL),
		listenAddr:     ":" + envOr(envPort, defaultPort),
		trustProxy:     os.Getenv(envTrustProxy) == "TRUE",
		logLevel:       envOr(envLogLevel, "info"),
		providers:      make(map[authn.ProviderKind]providerCredentials),
	}

	if cfg.rootURL == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", envRootURL))
	} else if u, err := url.Parse(cfg.rootURL); err != nil || !u.IsAbs() {
		result = multierror.Append(result, fmt.Errorf("%s is not an absolute URL", envRootURL))
	}
	if cfg.allowedClients == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", envAllowedClients))
	}
	if raw := os.Getenv(envTokenExpiry); raw != "" {
		expiry, err := time.ParseDuration(raw)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("%s is not a valid duration: %w", envTokenExpiry, err))
		case expiry <= 0:
			result = multierror.Append(result, fmt.Errorf("%s is not greater than zero", envTokenExpiry))
		default:
			cfg.tokenExpiry = expiry
		}
	}

	variants := []struct {
		kind      authn.ProviderKind
		idEnv     string
		secretEnv string
	}{
		{authn.ProviderFacebook, envFacebookID, envFacebookSecret},
		{authn.ProviderTwitter, envTwitterID, envTwitterSecret},
		{authn.ProviderGoogle, envGoogleID, envGoogleSecret},
	}
	for _, v := range variants {
		id, secret := os.Getenv(v.idEnv), os.Getenv(v.secretEnv)
		if id == "" && secret == "" {
			continue
		}
		if id == "" || secret == "" {
			result = multierror.Append(result, fmt.Errorf("%s and %s must both be set to enable the %s provider", v.idEnv, v.secretEnv, v.kind))
			continue
		}
		cfg.providers[v.kind] = providerCredentials{
			clientID:     id,
			clientSecret: authn.ClientSecret(secret),
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
