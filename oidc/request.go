package oidc

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/coralproject/coral-auth/oidc/internal/strutils"
)

const (
	// ResponseTypeImplicit is the only supported response_type: the implicit
	// flow returning both an id_token and an access token in the redirect
	// fragment.
	ResponseTypeImplicit = "id_token token"

	// ScopeOpenID is the only supported scope. There is no scope negotiation.
	ScopeOpenID = "openid"
)

// AuthorizationRequest captures one validated /authorize request. It is
// immutable once validated: the engine never changes it, it is stored for
// the duration of the authentication detour and consumed exactly once on
// successful authentication.
type AuthorizationRequest struct {
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	Nonce        string `json:"nonce"`
	State        string `json:"state,omitempty"`
	Scope        string `json:"scope"`
	ResponseType string `json:"response_type"`
	Display      string `json:"display,omitempty"`
}

// ClientRegistry is the allow-list of client/redirect-uri pairs. It is
// parsed from a single space-delimited string of alternating client_id and
// redirect_uri tokens; one client may appear multiple times to register
// multiple callback URIs, each pair occupying two adjacent positions.
type ClientRegistry struct {
	entries []string
}

// NewClientRegistry parses the space-delimited allow-list. The list must
// hold an even number of tokens (pairs of client_id followed by its
// redirect_uri) and every redirect_uri must be an absolute URL.
func NewClientRegistry(allowList string) (*ClientRegistry, error) {
	const op = "oidc.NewClientRegistry"
	entries := strings.Fields(allowList)
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: allow-list is empty: %w", op, ErrInvalidParameter)
	}

	var result *multierror.Error
	if len(entries)%2 != 0 {
		result = multierror.Append(result, fmt.Errorf("allow-list has an odd number of entries: %w", ErrInvalidParameter))
	}
	for i := 1; i < len(entries); i += 2 {
		u, err := url.Parse(entries[i])
		if err != nil || !u.IsAbs() {
			result = multierror.Append(result, fmt.Errorf("redirect uri %q is not an absolute URL: %w", entries[i], ErrInvalidParameter))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &ClientRegistry{entries: entries}, nil
}

// Allowed reports whether the client/redirect pairing is registered: the
// client_id must be found at an even-aligned registry position i with the
// redirect_uri as its immediate successor at i+1. A redirect uri registered
// under a different client, or merely present anywhere in the list, is not
// allowed.
func (r *ClientRegistry) Allowed(clientID, redirectURI string) bool {
	for i := 0; i+1 < len(r.entries); i += 2 {
		if r.entries[i] == clientID && r.entries[i+1] == redirectURI {
			return true
		}
	}
	return false
}

// Origins returns the deduplicated scheme://host origins of every registered
// redirect uri, suitable for a CORS allow-list on the discovery endpoints.
func (r *ClientRegistry) Origins() []string {
	var origins []string
	for i := 1; i < len(r.entries); i += 2 {
		u, err := url.Parse(r.entries[i])
		if err != nil {
			continue
		}
		origin := u.Scheme + "://" + u.Host
		if !strutils.StrListContains(origins, origin) {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Validate parses raw /authorize parameters into an AuthorizationRequest,
// enforcing the protocol constraints: client_id and redirect_uri present and
// registered as an adjacent pair, a non-empty nonce, the implicit
// response_type literal and the openid scope literal. display and state are
// passthrough and unvalidated.
func (r *ClientRegistry) Validate(raw url.Values) (*AuthorizationRequest, error) {
	const op = "ClientRegistry.Validate"

	clientID := raw.Get("client_id")
	if clientID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingClientId)
	}

	redirectURI := raw.Get("redirect_uri")
	if redirectURI == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRedirectURI)
	}
	if !r.Allowed(clientID, redirectURI) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRedirectURI)
	}

	nonce := raw.Get("nonce")
	if nonce == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingNonce)
	}
	if !validNonce(nonce) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}

	if raw.Get("response_type") != ResponseTypeImplicit {
		return nil, fmt.Errorf("%s: %w", op, ErrUnsupportedResponseType)
	}
	if raw.Get("scope") != ScopeOpenID {
		return nil, fmt.Errorf("%s: %w", op, ErrUnsupportedScope)
	}

	return &AuthorizationRequest{
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		Nonce:        nonce,
		State:        raw.Get("state"),
		Scope:        ScopeOpenID,
		ResponseType: ResponseTypeImplicit,
		Display:      raw.Get("display"),
	}, nil
}

// validNonce reports whether the nonce passes validation. Any non-empty
// string is a valid nonce: the value is caller-supplied and opaque.
func validNonce(nonce string) bool {
	return len(nonce) > 0
}
