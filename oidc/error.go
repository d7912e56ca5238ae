package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// Authorization request validation failures. The messages mirror the
	// error codes surfaced on the /authorize redirect.
	ErrMissingClientId         = errors.New("client_id is required")
	ErrMissingRedirectURI      = errors.New("redirect_uri is required")
	ErrInvalidRedirectURI      = errors.New("invalid redirect_uri param")
	ErrMissingNonce            = errors.New("nonce is required")
	ErrInvalidNonce            = errors.New("invalid nonce token param")
	ErrUnsupportedResponseType = errors.New("unsupported response_type param")
	ErrUnsupportedScope        = errors.New("unsupported scope param")

	// Key material and signing failures. ErrKeyLoad is fatal at startup: the
	// process must not serve traffic without a JWKS.
	ErrKeyLoad          = errors.New("unable to load signing key material")
	ErrSigning          = errors.New("token signing failed")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnsupportedAlg   = errors.New("unsupported signing algorithm")
	ErrExpiredToken     = errors.New("token is expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
)
