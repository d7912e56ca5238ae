package authn

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

func TestFederatedConfig_Validate(t *testing.T) {
	t.Parallel()
	valid := func() *FederatedConfig {
		return &FederatedConfig{
			Kind:         ProviderFacebook,
			ClientID:     "rp-client",
			ClientSecret: "rp-secret",
			RedirectURL:  "https://rp.example.com/connect/facebook/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://provider.example.com/auth",
				TokenURL: "https://provider.example.com/token",
			},
			UserInfoURL: "https://provider.example.com/me",
		}
	}
	tests := []struct {
		name   string
		mutate func(*FederatedConfig)
	}{
		{"local-kind", func(c *FederatedConfig) { c.Kind = ProviderLocal }},
		{"unknown-kind", func(c *FederatedConfig) { c.Kind = "myspace" }},
		{"missing-client-id", func(c *FederatedConfig) { c.ClientID = "" }},
		{"missing-client-secret", func(c *FederatedConfig) { c.ClientSecret = "" }},
		{"missing-redirect-url", func(c *FederatedConfig) { c.RedirectURL = "" }},
		{"no-issuer-no-endpoint", func(c *FederatedConfig) { c.Endpoint = oauth2.Endpoint{} }},
		{"no-issuer-no-user-info", func(c *FederatedConfig) { c.UserInfoURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(err)
			assert.ErrorIs(err, ErrInvalidParameter)
		})
	}
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})
	t.Run("nil-config", func(t *testing.T) {
		var cfg *FederatedConfig
		require.ErrorIs(t, cfg.Validate(), ErrNilParameter)
	})
	t.Run("issuer-stands-in-for-endpoint", func(t *testing.T) {
		cfg := valid()
		cfg.Endpoint = oauth2.Endpoint{}
		cfg.UserInfoURL = ""
		cfg.Issuer = "https://provider.example.com"
		require.NoError(t, cfg.Validate())
	})
}

func TestDefaultFederatedConfig(t *testing.T) {
	t.Parallel()
	for _, kind := range FederatedKinds() {
		t.Run(string(kind), func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			cfg, err := DefaultFederatedConfig(kind, "rp-client", "rp-secret", "https://rp.example.com/")
			require.NoError(err)
			require.NoError(cfg.Validate())
			assert.Equal("https://rp.example.com/connect/"+string(kind)+"/callback", cfg.RedirectURL)
		})
	}
	t.Run("local-rejected", func(t *testing.T) {
		_, err := DefaultFederatedConfig(ProviderLocal, "rp-client", "rp-secret", "https://rp.example.com")
		require.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("empty-root-url", func(t *testing.T) {
		_, err := DefaultFederatedConfig(ProviderGoogle, "rp-client", "rp-secret", "")
		require.ErrorIs(t, err, ErrInvalidParameter)
	})
}

// oauth2TestProvider fakes a plain OAuth2 provider with a token endpoint and
// a user info endpoint.
func oauth2TestProvider(t *testing.T, userInfo http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-test",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/me", userInfo)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testOAuth2Config(kind ProviderKind, providerURL string) *FederatedConfig {
	return &FederatedConfig{
		Kind:         kind,
		ClientID:     "rp-client",
		ClientSecret: "rp-secret",
		RedirectURL:  "https://rp.example.com/connect/" + string(kind) + "/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  providerURL + "/auth",
			TokenURL: providerURL + "/token",
		},
		UserInfoURL: providerURL + "/me",
	}
}

func TestFederated_BeginAuth(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	srv := oauth2TestProvider(t, func(w http.ResponseWriter, r *http.Request) {})
	f, err := NewFederated(ctx, testOAuth2Config(ProviderFacebook, srv.URL), NewInMemoryUserStore())
	require.NoError(err)
	assert.Equal(ProviderFacebook, f.Kind())

	redirect, err := f.BeginAuth(ctx, "st_abc")
	require.NoError(err)
	u, err := url.Parse(redirect)
	require.NoError(err)
	assert.True(strings.HasPrefix(redirect, srv.URL+"/auth"))
	assert.Equal("st_abc", u.Query().Get("state"))
	assert.Equal("rp-client", u.Query().Get("client_id"))
	assert.Equal("code", u.Query().Get("response_type"))

	_, err = f.BeginAuth(ctx, "")
	require.Error(err)
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestFederated_CompleteAuth_UserInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("flat-object", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := oauth2TestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "1001", "name": "Alice"})
		})
		f, err := NewFederated(ctx, testOAuth2Config(ProviderFacebook, srv.URL), NewInMemoryUserStore())
		require.NoError(err)

		user, err := f.CompleteAuth(ctx, "st_abc", url.Values{
			"state": []string{"st_abc"},
			"code":  []string{"code-123"},
		})
		require.NoError(err)
		require.NotNil(user)
		assert.Equal("Alice", user.DisplayName)
		require.Len(user.Profiles, 1)
		assert.Equal(ProviderFacebook, user.Profiles[0].Provider)
		assert.Equal("1001", user.Profiles[0].ExternalID)
	})
	t.Run("data-envelope", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := oauth2TestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"id": "2002", "name": "Bob"},
			})
		})
		f, err := NewFederated(ctx, testOAuth2Config(ProviderTwitter, srv.URL), NewInMemoryUserStore())
		require.NoError(err)

		user, err := f.CompleteAuth(ctx, "st_abc", url.Values{
			"state": []string{"st_abc"},
			"code":  []string{"code-123"},
		})
		require.NoError(err)
		require.Len(user.Profiles, 1)
		assert.Equal("2002", user.Profiles[0].ExternalID)
	})
	t.Run("missing-id", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := oauth2TestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"name": "NoID"})
		})
		f, err := NewFederated(ctx, testOAuth2Config(ProviderFacebook, srv.URL), NewInMemoryUserStore())
		require.NoError(err)

		_, err = f.CompleteAuth(ctx, "st_abc", url.Values{
			"state": []string{"st_abc"},
			"code":  []string{"code-123"},
		})
		require.Error(err)
		assert.ErrorIs(err, ErrProviderError)
	})
}

func TestFederated_CompleteAuth_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := oauth2TestProvider(t, func(w http.ResponseWriter, r *http.Request) {})
	f, err := NewFederated(ctx, testOAuth2Config(ProviderFacebook, srv.URL), NewInMemoryUserStore())
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload url.Values
	}{
		{"provider-error-param", url.Values{"error": []string{"access_denied"}, "state": []string{"st_abc"}}},
		{"state-mismatch", url.Values{"state": []string{"st_other"}, "code": []string{"code-123"}}},
		{"missing-code", url.Values{"state": []string{"st_abc"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			user, err := f.CompleteAuth(ctx, "st_abc", tt.payload)
			require.Error(err)
			assert.ErrorIs(err, ErrProviderError)
			assert.Nil(user)
		})
	}

	t.Run("exchange-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(broken.Close)
		f, err := NewFederated(ctx, testOAuth2Config(ProviderFacebook, broken.URL), NewInMemoryUserStore())
		require.NoError(err)

		_, err = f.CompleteAuth(ctx, "st_abc", url.Values{
			"state": []string{"st_abc"},
			"code":  []string{"code-123"},
		})
		require.Error(err)
		assert.ErrorIs(err, ErrProviderError)
	})
	t.Run("empty-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := f.CompleteAuth(ctx, "", url.Values{})
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

// discoveryTestProvider fakes a full OIDC provider: discovery document, JWKS
// and a token endpoint that returns a freshly signed id_token.
func discoveryTestProvider(t *testing.T, clientID string) (issuer string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	issuer = srv.URL

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                   issuer,
			"authorization_endpoint":   issuer + "/auth",
			"token_endpoint":           issuer + "/token",
			"jwks_uri":                 issuer + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{{
				Key:       &priv.PublicKey,
				KeyID:     "test-signer",
				Algorithm: string(jose.RS256),
				Use:       "sig",
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		signer, err := jose.NewSigner(
			jose.SigningKey{Algorithm: jose.RS256, Key: priv},
			(&jose.SignerOptions{}).WithHeader("kid", "test-signer"),
		)
		require.NoError(t, err)
		now := time.Now()
		idToken, err := jwt.Signed(signer).Claims(jwt.Claims{
			Issuer:   issuer,
			Subject:  "109876",
			Audience: jwt.Audience{clientID},
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(time.Minute)),
		}).Claims(map[string]interface{}{
			"name": "Alice",
		}).CompactSerialize()
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-test",
			"token_type":   "bearer",
			"id_token":     idToken,
		})
	})
	return issuer
}

func TestFederated_CompleteAuth_Verified(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	issuer := discoveryTestProvider(t, "rp-client")
	cfg := &FederatedConfig{
		Kind:         ProviderGoogle,
		ClientID:     "rp-client",
		ClientSecret: "rp-secret",
		RedirectURL:  "https://rp.example.com/connect/google/callback",
		Issuer:       issuer,
		Scopes:       []string{"openid", "profile"},
	}
	f, err := NewFederated(ctx, cfg, NewInMemoryUserStore())
	require.NoError(err)

	user, err := f.CompleteAuth(ctx, "st_abc", url.Values{
		"state": []string{"st_abc"},
		"code":  []string{"code-123"},
	})
	require.NoError(err)
	require.NotNil(user)
	assert.Equal("Alice", user.DisplayName)
	require.Len(user.Profiles, 1)
	assert.Equal(ProviderGoogle, user.Profiles[0].Provider)
	assert.Equal("109876", user.Profiles[0].ExternalID)
}

func TestNewFederated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil-user-store", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := oauth2TestProvider(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := NewFederated(ctx, testOAuth2Config(ProviderFacebook, srv.URL), nil)
		require.Error(err)
		assert.ErrorIs(err, ErrNilParameter)
	})
	t.Run("invalid-config", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewFederated(ctx, &FederatedConfig{}, NewInMemoryUserStore())
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("unreachable-issuer", func(t *testing.T) {
		require := require.New(t)
		cfg := &FederatedConfig{
			Kind:         ProviderGoogle,
			ClientID:     "rp-client",
			ClientSecret: "rp-secret",
			RedirectURL:  "https://rp.example.com/connect/google/callback",
			Issuer:       "https://127.0.0.1:1",
		}
		_, err := NewFederated(ctx, cfg, NewInMemoryUserStore(), WithTimeout(time.Second))
		require.Error(err)
	})
}
