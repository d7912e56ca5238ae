package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	sdkhttp "github.com/coralproject/coral-auth/sdk/http"
)

// DefaultProviderTimeout bounds every outbound call a federated variant
// makes to its provider.
const DefaultProviderTimeout = 10 * time.Second

type federatedOptions struct {
	withLogger     hclog.Logger
	withTimeout    time.Duration
	withProviderCA string
}

func federatedDefaults() federatedOptions {
	return federatedOptions{
		withLogger:  hclog.NewNullLogger(),
		withTimeout: DefaultProviderTimeout,
	}
}

func getFederatedOpts(opt ...Option) federatedOptions {
	opts := federatedDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// FederatedConfig describes one federated variant's relying party
// registration. Either Issuer (for providers with OIDC discovery) or
// Endpoint plus UserInfoURL (for plain OAuth2 providers) must be set.
type FederatedConfig struct {
	Kind         ProviderKind
	ClientID     string
	ClientSecret ClientSecret
	RedirectURL  string
	Issuer       string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
	Scopes       []string
}

// Validate the configuration.
func (c *FederatedConfig) Validate() error {
	const op = "authn.(FederatedConfig).Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if !c.Kind.Federated() {
		result = multierror.Append(result, fmt.Errorf("%s: kind %q is not a federated variant: %w", op, c.Kind, ErrInvalidParameter))
	}
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter))
	}
	if string(c.ClientSecret) == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter))
	}
	if c.RedirectURL == "" {
		result = multierror.Append(result, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter))
	}
	if c.Issuer == "" {
		if c.Endpoint.AuthURL == "" || c.Endpoint.TokenURL == "" {
			result = multierror.Append(result, fmt.Errorf("%s: neither issuer nor oauth2 endpoint configured: %w", op, ErrInvalidParameter))
		}
		if c.UserInfoURL == "" {
			result = multierror.Append(result, fmt.Errorf("%s: user info URL required without an issuer: %w", op, ErrInvalidParameter))
		}
	}
	return result.ErrorOrNil()
}

// DefaultFederatedConfig returns the stock registration for one of the known
// federated variants, with the callback URL derived from the server's public
// root URL.
func DefaultFederatedConfig(kind ProviderKind, clientID string, clientSecret ClientSecret, rootURL string) (*FederatedConfig, error) {
	const op = "authn.DefaultFederatedConfig"
	if rootURL == "" {
		return nil, fmt.Errorf("%s: root URL is empty: %w", op, ErrInvalidParameter)
	}
	cfg := &FederatedConfig{
		Kind:         kind,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  strings.TrimSuffix(rootURL, "/") + "/connect/" + string(kind) + "/callback",
	}
	switch kind {
	case ProviderGoogle:
		cfg.Issuer = "https://accounts.google.com"
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile"}
	case ProviderFacebook:
		cfg.Endpoint = facebook.Endpoint
		cfg.UserInfoURL = "https://graph.facebook.com/me?fields=id,name"
		cfg.Scopes = []string{"public_profile"}
	case ProviderTwitter:
		cfg.Endpoint = oauth2.Endpoint{
			AuthURL:  "https://twitter.com/i/oauth2/authorize",
			TokenURL: "https://api.twitter.com/2/oauth2/token",
		}
		cfg.UserInfoURL = "https://api.twitter.com/2/users/me"
		cfg.Scopes = []string{"users.read", "tweet.read"}
	default:
		return nil, fmt.Errorf("%s: kind %q is not a federated variant: %w", op, kind, ErrInvalidParameter)
	}
	return cfg, nil
}

// Federated authenticates by round-tripping through an external OAuth2/OIDC
// provider. Variants with an Issuer verify the provider's id_token; plain
// OAuth2 variants resolve the identity from the provider's user info
// endpoint. Every transport, protocol or timeout failure is normalized to
// ErrProviderError.
type Federated struct {
	kind        ProviderKind
	oauthCfg    *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
	users       UserStore
	client      *http.Client
	timeout     time.Duration
	logger      hclog.Logger
}

// NewFederated creates a federated Authenticator. When the config carries an
// Issuer, provider discovery runs here so a misconfigured or unreachable
// provider fails at startup rather than mid-login.
func NewFederated(ctx context.Context, cfg *FederatedConfig, users UserStore, opt ...Option) (*Federated, error) {
	const op = "authn.NewFederated"
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if users == nil {
		return nil, fmt.Errorf("%s: user store is nil: %w", op, ErrNilParameter)
	}
	opts := getFederatedOpts(opt...)

	client, err := sdkhttp.NewClient(opts.withProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	f := &Federated{
		kind:        cfg.Kind,
		userInfoURL: cfg.UserInfoURL,
		users:       users,
		client:      client,
		timeout:     opts.withTimeout,
		logger:      opts.withLogger.Named(string(cfg.Kind)),
	}

	endpoint := cfg.Endpoint
	if cfg.Issuer != "" {
		discoverCtx, cancel := context.WithTimeout(ctx, opts.withTimeout)
		defer cancel()
		provider, err := oidc.NewProvider(sdkhttp.OidcClientContext(discoverCtx, client), cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%s: provider discovery for %q failed: %w", op, cfg.Issuer, err)
		}
		endpoint = provider.Endpoint()
		f.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	}

	f.oauthCfg = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: string(cfg.ClientSecret),
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       cfg.Scopes,
	}
	return f, nil
}

// Kind implements Authenticator.
func (f *Federated) Kind() ProviderKind { return f.kind }

// BeginAuth implements Authenticator. The caller's detour state rides along
// as the oauth2 state parameter and is checked again in CompleteAuth.
func (f *Federated) BeginAuth(_ context.Context, state string) (string, error) {
	const op = "authn.(Federated).BeginAuth"
	if state == "" {
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	return f.oauthCfg.AuthCodeURL(state), nil
}

// CompleteAuth implements Authenticator. The payload is the provider's
// callback query string.
func (f *Federated) CompleteAuth(ctx context.Context, state string, payload url.Values) (*User, error) {
	const op = "authn.(Federated).CompleteAuth"
	if state == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	ctx = sdkhttp.OidcClientContext(ctx, f.client)

	if errCode := payload.Get("error"); errCode != "" {
		f.logger.Debug("provider returned an error on callback", "error", errCode, "description", payload.Get("error_description"))
		return nil, fmt.Errorf("%s: %w", op, ErrProviderError)
	}
	if payload.Get("state") != state {
		f.logger.Debug("callback state does not match the begun detour")
		return nil, fmt.Errorf("%s: %w", op, ErrProviderError)
	}
	code := payload.Get("code")
	if code == "" {
		f.logger.Debug("callback is missing the authorization code")
		return nil, fmt.Errorf("%s: %w", op, ErrProviderError)
	}

	token, err := f.oauthCfg.Exchange(ctx, code)
	if err != nil {
		f.logger.Debug("code exchange failed", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrProviderError)
	}

	var profile Profile
	switch {
	case f.verifier != nil:
		profile, err = f.verifiedProfile(ctx, token)
	default:
		profile, err = f.userInfoProfile(ctx, token)
	}
	if err != nil {
		f.logger.Debug("unable to resolve provider identity", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrProviderError)
	}

	user, err := f.users.FindOrCreateExternal(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// verifiedProfile extracts the identity from the provider's signed id_token.
func (f *Federated) verifiedProfile(ctx context.Context, token *oauth2.Token) (Profile, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Profile{}, fmt.Errorf("token response is missing an id_token")
	}
	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Profile{}, fmt.Errorf("id_token verification failed: %w", err)
	}
	var claims struct {
		Name string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Profile{}, fmt.Errorf("unable to parse id_token claims: %w", err)
	}
	return Profile{
		Provider:    f.kind,
		ExternalID:  idToken.Subject,
		DisplayName: claims.Name,
	}, nil
}

// userInfoProfile extracts the identity from the provider's user info
// endpoint for variants without OIDC discovery.
func (f *Federated) userInfoProfile(ctx context.Context, token *oauth2.Token) (Profile, error) {
	resp, err := f.oauthCfg.Client(ctx, token).Get(f.userInfoURL)
	if err != nil {
		return Profile{}, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("user info request returned status %d", resp.StatusCode)
	}

	var info struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Data *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Profile{}, fmt.Errorf("unable to parse user info response: %w", err)
	}
	// Some providers wrap the object in a data envelope.
	if info.Data != nil {
		info.ID, info.Name = info.Data.ID, info.Data.Name
	}
	if info.ID == "" {
		return Profile{}, fmt.Errorf("user info response is missing an id")
	}
	return Profile{
		Provider:    f.kind,
		ExternalID:  info.ID,
		DisplayName: info.Name,
	}, nil
}
