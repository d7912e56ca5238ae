package connect

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/coralproject/coral-auth/oidc"
)

// ComposeSuccess builds the final implicit-flow redirect: the tokens ride in
// the URI fragment, never the query string, so they are invisible to
// referrer headers and server logs. The fragment carries access_token,
// token_type=bearer, expires_in, id_token, state (when the request supplied
// one) and the request's nonce.
func ComposeSuccess(redirectURI string, accessToken oidc.AccessToken, idToken oidc.IdToken, expiresIn time.Duration, state, nonce string) (string, error) {
	const op = "connect.ComposeSuccess"
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("%s: unable to parse redirect uri: %w", op, ErrInvalidParameter)
	}
	if accessToken == "" || idToken == "" {
		return "", fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	if nonce == "" {
		return "", fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}

	frag := url.Values{}
	frag.Set("access_token", string(accessToken))
	frag.Set("token_type", "bearer")
	frag.Set("expires_in", strconv.Itoa(int(expiresIn.Seconds())))
	frag.Set("id_token", string(idToken))
	if state != "" {
		frag.Set("state", state)
	}
	frag.Set("nonce", nonce)

	u.Fragment = ""
	return u.String() + "#" + frag.Encode(), nil
}

// ComposeFailure rebuilds the original authorize URL from a failed attempt's
// AuthorizationRequest so the caller re-enters validation with the original
// parameters. The failure reason travels as a session flash, never in the
// URI.
func ComposeFailure(authorizeEndpoint string, ar *oidc.AuthorizationRequest) (string, error) {
	const op = "connect.ComposeFailure"
	if authorizeEndpoint == "" {
		return "", fmt.Errorf("%s: authorize endpoint is empty: %w", op, ErrInvalidParameter)
	}
	if ar == nil {
		return "", fmt.Errorf("%s: authorization request is nil: %w", op, ErrNilParameter)
	}

	q := url.Values{}
	q.Set("client_id", ar.ClientID)
	q.Set("redirect_uri", ar.RedirectURI)
	q.Set("nonce", ar.Nonce)
	if ar.State != "" {
		q.Set("state", ar.State)
	}
	q.Set("scope", ar.Scope)
	q.Set("response_type", ar.ResponseType)
	if ar.Display != "" {
		q.Set("display", ar.Display)
	}
	return authorizeEndpoint + "?" + q.Encode(), nil
}
