package connect

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"

	"github.com/coralproject/coral-auth/oidc"
	"github.com/coralproject/coral-auth/oidc/authn"
)

// AuthorizePage is what the login surface needs to render: the validated
// request, the enabled variants, a CSRF token for the local form and any
// flashed failure from an earlier phase of the session.
type AuthorizePage struct {
	Request   *oidc.AuthorizationRequest `json:"request"`
	Providers []authn.ProviderKind       `json:"providers"`
	CSRFToken string                     `json:"csrf_token,omitempty"`
	Flash     string                     `json:"flash,omitempty"`
}

// AuthorizeResponseFunc renders the login surface for a validated authorize
// request. The default renders the page as JSON; real deployments supply
// their own templated surface.
type AuthorizeResponseFunc func(w http.ResponseWriter, r *http.Request, page *AuthorizePage)

// HandlerConfig configures the HTTP surface.
type HandlerConfig struct {
	// Flow is the orchestrator behind every route.
	Flow *Flow

	// Issuer is the public root URL, used verbatim in the discovery
	// document and as the base of the advertised endpoints.
	Issuer string

	// MountPath is the path prefix the handler is mounted at. Defaults to
	// "/connect".
	MountPath string

	// AuthorizeResponse renders the login surface. Optional.
	AuthorizeResponse AuthorizeResponseFunc

	// CSRFToken supplies the per-request token carried by the login
	// surface. Optional; verification belongs to middleware outside this
	// handler.
	CSRFToken func(r *http.Request) string

	// SecureCookies marks the session cookie Secure.
	SecureCookies bool

	Logger hclog.Logger
}

type handler struct {
	flow              *Flow
	issuer            string
	mount             string
	authorizeResponse AuthorizeResponseFunc
	csrfToken         func(r *http.Request) string
	secureCookies     bool
	logger            hclog.Logger
}

// NewHandler builds the chi router for the authorization surface: the
// authorize entry point, the local credential post, the federated detour and
// callback routes, and the well-known discovery and JWKS documents. The
// well-knowns allow cross-origin reads from the origins of the registered
// redirect URIs.
func NewHandler(cfg *HandlerConfig) (http.Handler, error) {
	const op = "connect.NewHandler"
	if cfg == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if cfg.Flow == nil {
		return nil, fmt.Errorf("%s: flow is nil: %w", op, ErrNilParameter)
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}

	h := &handler{
		flow:              cfg.Flow,
		issuer:            strings.TrimSuffix(cfg.Issuer, "/"),
		mount:             cfg.MountPath,
		authorizeResponse: cfg.AuthorizeResponse,
		csrfToken:         cfg.CSRFToken,
		secureCookies:     cfg.SecureCookies,
		logger:            cfg.Logger,
	}
	if h.mount == "" {
		h.mount = "/connect"
	}
	if h.authorizeResponse == nil {
		h.authorizeResponse = renderAuthorizeJSON
	}
	if h.logger == nil {
		h.logger = hclog.NewNullLogger()
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.flow.Registry().Origins(),
			AllowedMethods: []string{http.MethodGet},
		}))
		r.Get("/.well-known/openid-configuration", h.handleDiscovery)
		r.Get("/.well-known/jwks", h.handleJWKS)
	})
	r.Get("/authorize", h.handleAuthorize)
	r.Post("/local", h.handleLocal)
	r.Get("/{provider}", h.handleBegin)
	r.Get("/{provider}/callback", h.handleCallback)
	return r, nil
}

func (h *handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	sess, err := EnsureSession(w, r, h.secureCookies)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.flow.Authorize(r.Context(), sess, r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	page := &AuthorizePage{
		Request:   res.Request,
		Providers: h.flow.EnabledProviders(),
		Flash:     res.Flash,
	}
	if h.csrfToken != nil {
		page.CSRFToken = h.csrfToken(r)
	}
	h.authorizeResponse(w, r, page)
}

func (h *handler) handleLocal(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromRequest(r)
	if !ok {
		h.writeError(w, ErrSession)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidParameter)
		return
	}
	res, err := h.flow.CompleteAuth(r.Context(), sess, authn.ProviderLocal, r.PostForm)
	h.finish(w, r, res, err)
}

func (h *handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	kind := authn.ProviderKind(chi.URLParam(r, "provider"))
	if !kind.Federated() {
		h.writeError(w, authn.ErrUnknownProvider)
		return
	}
	sess, ok := SessionFromRequest(r)
	if !ok {
		h.writeError(w, ErrSession)
		return
	}
	res, err := h.flow.BeginAuth(r.Context(), sess, kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (h *handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	kind := authn.ProviderKind(chi.URLParam(r, "provider"))
	if !kind.Federated() {
		h.writeError(w, authn.ErrUnknownProvider)
		return
	}
	sess, ok := SessionFromRequest(r)
	if !ok {
		h.writeError(w, ErrSession)
		return
	}
	res, err := h.flow.CompleteAuth(r.Context(), sess, kind, r.URL.Query())
	h.finish(w, r, res, err)
}

// finish redirects when the flow produced a destination (success fragment or
// retry URL) and otherwise maps the error to a status.
func (h *handler) finish(w http.ResponseWriter, r *http.Request, res *Result, err error) {
	if err != nil && (res == nil || res.RedirectURL == "") {
		h.writeError(w, err)
		return
	}
	if err != nil {
		h.logger.Info("authentication failed", "state", res.State.String(), "error", err)
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (h *handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	base := h.issuer + h.mount
	writeJSON(w, map[string]interface{}{
		"issuer":                                h.issuer,
		"authorization_endpoint":                base + "/authorize",
		"registration_endpoint":                 base + "/register",
		"jwks_uri":                              base + "/.well-known/jwks",
		"scopes_supported":                      []string{oidc.ScopeOpenID},
		"subject_types_supported":               []string{"public"},
		"response_types_supported":              []string{oidc.ResponseTypeImplicit},
		"id_token_signing_alg_values_supported": []string{string(h.flow.TokenService().KeySet().Alg())},
	})
}

func (h *handler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.flow.TokenService().KeySet().JWKS())
}

// writeError maps a flow failure to a status and a sanitized body. Internal
// error detail never reaches a response.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSession):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, authn.ErrUnknownProvider):
		http.Error(w, "unknown provider", http.StatusNotFound)
	case errors.Is(err, oidc.ErrSigning):
		h.logger.Error("signing failure on live request", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
	default:
		if code := validationCode(err); code != "" {
			http.Error(w, code, http.StatusBadRequest)
			return
		}
		h.logger.Error("unhandled flow failure", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

// validationCode returns the user-correctable error code for a validation
// failure, or empty when the failure is not one.
func validationCode(err error) string {
	switch {
	case errors.Is(err, oidc.ErrMissingClientId):
		return "missing_client_id"
	case errors.Is(err, oidc.ErrMissingRedirectURI):
		return "missing_redirect_uri"
	case errors.Is(err, oidc.ErrInvalidRedirectURI):
		return "invalid_redirect_pairing"
	case errors.Is(err, oidc.ErrMissingNonce):
		return "missing_nonce"
	case errors.Is(err, oidc.ErrInvalidNonce):
		return "invalid_nonce"
	case errors.Is(err, oidc.ErrUnsupportedResponseType):
		return "unsupported_response_type"
	case errors.Is(err, oidc.ErrUnsupportedScope):
		return "unsupported_scope"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_request"
	}
	return ""
}

func renderAuthorizeJSON(w http.ResponseWriter, _ *http.Request, page *AuthorizePage) {
	writeJSON(w, page)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
