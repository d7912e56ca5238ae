package oidc

import (
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/coralproject/coral-auth/sdk/id"
)

// TokenClaims is the claim set of a token minted by the engine. Two claim
// sets are produced per successful flow: an access token claim set carrying
// only scopes, and an id token claim set carrying the subject, audience,
// nonce and at_hash binding. Signing-time fields (iss, exp, nbf, jti, kid)
// are supplied by TokenService.Sign, never by the claim constructors.
type TokenClaims struct {
	jwt.Claims
	Nonce  string   `json:"nonce,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	AtHash string   `json:"at_hash,omitempty"`
	KeyID  string   `json:"kid,omitempty"`
}

// NewAccessTokenClaims returns the claim set for an opaque bearer access
// token. The scopes may be empty.
func NewAccessTokenClaims(scopes []string) TokenClaims {
	return TokenClaims{
		Scopes: scopes,
	}
}

// NewIDTokenClaims returns the claim set for an identity token bound to one
// authorization transaction: the subject is the authenticated principal, the
// audience is the requesting client, the nonce is copied from the
// AuthorizationRequest and atHash binds the identity token to the access
// token issued alongside it.
func NewIDTokenClaims(subject, clientID, nonce, atHash string) TokenClaims {
	return TokenClaims{
		Claims: jwt.Claims{
			Subject:  subject,
			Audience: jwt.Audience{clientID},
		},
		Nonce:  nonce,
		AtHash: atHash,
	}
}

// AccessTokenHash computes the at_hash binding for an access token: the
// base64url encoding (unpadded) of the left half of the SHA-384 digest of the
// access token string.
func AccessTokenHash(accessToken AccessToken) string {
	digest := sha512.Sum384([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(digest[:sha512.Size384/2])
}

// DefaultNotBeforeWindow is the grace window applied to a freshly signed
// token's nbf claim when no WithNotBeforeWindow option is given.
const DefaultNotBeforeWindow = 1 * time.Minute

// TokenService signs and verifies claim sets as compact signed tokens using
// the immutable KeySet. Signing is CPU-bound and stateless, so a single
// service is safe for use across concurrent flows.
type TokenService struct {
	keys            *KeySet
	issuer          string
	expiry          time.Duration
	notBeforeWindow time.Duration
	logger          hclog.Logger
}

// NewTokenService composes a token service for the issuer URL with the given
// expiry duration for minted tokens.
//
// Supported options: WithLogger, WithNotBeforeWindow
func NewTokenService(keys *KeySet, issuer string, expiry time.Duration, opt ...Option) (*TokenService, error) {
	const op = "oidc.NewTokenService"
	if keys == nil {
		return nil, fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	}
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if expiry <= 0 {
		return nil, fmt.Errorf("%s: expiry is not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getTokenServiceOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &TokenService{
		keys:            keys,
		issuer:          issuer,
		expiry:          expiry,
		notBeforeWindow: opts.withNotBeforeWindow,
		logger:          logger,
	}, nil
}

// ExpiresIn returns the configured lifetime of minted tokens.
func (s *TokenService) ExpiresIn() time.Duration { return s.expiry }

// KeySet returns the service's immutable key material.
func (s *TokenService) KeySet() *KeySet { return s.keys }

// Sign attaches the signing-time claims (iss, exp, nbf, a fresh jti and the
// active kid) to a copy of the given claim set and returns the compact signed
// token. The caller's claims value is never mutated.
func (s *TokenService) Sign(claims TokenClaims) (string, error) {
	const op = "TokenService.Sign"
	jti, err := id.New("jti")
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate jti: %w", op, ErrSigning)
	}

	now := time.Now()
	completed := claims
	completed.Issuer = s.issuer
	completed.IssuedAt = jwt.NewNumericDate(now)
	completed.Expiry = jwt.NewNumericDate(now.Add(s.expiry))
	completed.NotBefore = jwt.NewNumericDate(now.Add(s.notBeforeWindow))
	completed.ID = jti
	completed.KeyID = s.keys.KeyID()

	signer, err := jose.NewSigner(
		s.keys.signingKey(),
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		s.logger.Error("unable to create signer", "error", err)
		return "", fmt.Errorf("%s: unable to create signer: %w", op, ErrSigning)
	}

	raw, err := jwt.Signed(signer).Claims(completed).CompactSerialize()
	if err != nil {
		s.logger.Error("unable to sign claims", "error", err)
		return "", fmt.Errorf("%s: %w", op, ErrSigning)
	}
	return raw, nil
}

// Verify checks a compact signed token's signature, algorithm, expiry and
// not-before against the service's key material and returns its claims.
//
// Supported options: WithValidationTime
func (s *TokenService) Verify(token string, opt ...Option) (TokenClaims, error) {
	const op = "TokenService.Verify"
	opts := getVerifyOpts(opt...)

	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("%s: unable to parse token: %w", op, ErrInvalidParameter)
	}
	for _, h := range parsed.Headers {
		if h.Algorithm != string(s.keys.Alg()) {
			return TokenClaims{}, fmt.Errorf("%s: %q: %w", op, h.Algorithm, ErrUnsupportedAlg)
		}
	}

	var claims TokenClaims
	if err := parsed.Claims(s.keys.Public(), &claims); err != nil {
		return TokenClaims{}, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}

	at := opts.withValidationTime
	if at.IsZero() {
		at = time.Now()
	}
	err = claims.Claims.ValidateWithLeeway(jwt.Expected{
		Issuer: s.issuer,
		Time:   at,
	}, jwt.DefaultLeeway)
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return TokenClaims{}, fmt.Errorf("%s: %w", op, ErrExpiredToken)
	case errors.Is(err, jwt.ErrNotValidYet):
		return TokenClaims{}, fmt.Errorf("%s: %w", op, ErrTokenNotYetValid)
	case err != nil:
		return TokenClaims{}, fmt.Errorf("%s: invalid claims: %w", op, err)
	}
	return claims, nil
}

type tokenServiceOptions struct {
	withLogger          hclog.Logger
	withNotBeforeWindow time.Duration
}

func tokenServiceDefaults() tokenServiceOptions {
	return tokenServiceOptions{
		withNotBeforeWindow: DefaultNotBeforeWindow,
	}
}

func getTokenServiceOpts(opt ...Option) tokenServiceOptions {
	opts := tokenServiceDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type verifyOptions struct {
	withValidationTime time.Time
}

func verifyDefaults() verifyOptions {
	return verifyOptions{}
}

func getVerifyOpts(opt ...Option) verifyOptions {
	opts := verifyDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
