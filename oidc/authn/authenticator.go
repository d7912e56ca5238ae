package authn

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrInvalidCredentials is returned for every local credential failure:
	// unknown email and wrong password are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid email/password combination")

	// ErrUserNotFound is internal to the package; callers at the flow
	// boundary normalize it to ErrInvalidCredentials before anything is
	// surfaced.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserDisabled is the single suspension gate's failure, applied after
	// authentication regardless of variant.
	ErrUserDisabled = errors.New("user account is disabled")

	// ErrProviderError is the normalized failure for every federated
	// transport, protocol or timeout problem. The provider's identity is
	// never part of the message.
	ErrProviderError = errors.New("authentication provider error")

	ErrUnknownProvider = errors.New("unknown authentication provider")
)

// ProviderKind names one of the closed set of authentication variants.
type ProviderKind string

const (
	ProviderLocal    ProviderKind = "local"
	ProviderFacebook ProviderKind = "facebook"
	ProviderTwitter  ProviderKind = "twitter"
	ProviderGoogle   ProviderKind = "google"
)

// Valid reports whether k is one of the known variants.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderLocal, ProviderFacebook, ProviderTwitter, ProviderGoogle:
		return true
	}
	return false
}

// Federated reports whether k requires a provider round trip.
func (k ProviderKind) Federated() bool {
	return k.Valid() && k != ProviderLocal
}

// FederatedKinds returns the closed set of federated variants.
func FederatedKinds() []ProviderKind {
	return []ProviderKind{ProviderFacebook, ProviderTwitter, ProviderGoogle}
}

// Authenticator is the capability interface every variant implements.
//
// BeginAuth starts the variant's detour and returns the URL the user agent
// must be redirected to; the local variant has no detour and returns an
// empty URL. CompleteAuth resolves the variant's payload (posted
// credentials, or the provider's callback parameters) into a User. The
// state is an opaque value minted per detour by the caller; it rides to
// the provider and must match on the callback. It is never the caller's
// session key, since the provider sees it in the clear.
type Authenticator interface {
	Kind() ProviderKind
	BeginAuth(ctx context.Context, state string) (redirectURL string, err error)
	CompleteAuth(ctx context.Context, state string, payload url.Values) (*User, error)
}

// ClientSecret is a federated relying party secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client
// secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (s ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (s ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}
