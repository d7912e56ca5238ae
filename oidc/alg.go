package oidc

import (
	"gopkg.in/square/go-jose.v2"
)

// Alg represents asymmetric signing algorithms.
type Alg string

const (
	RS256 Alg = "RS256"
	RS384 Alg = "RS384"
	RS512 Alg = "RS512"
	ES256 Alg = "ES256"
	ES384 Alg = "ES384"
	ES512 Alg = "ES512"
	PS256 Alg = "PS256"
	PS384 Alg = "PS384"
	PS512 Alg = "PS512"
)

// DefaultAlg is the signing algorithm used when none is configured. It
// matches the engine's default P-521 signing key.
const DefaultAlg = ES512

var supportedAlgorithms = map[Alg]bool{
	RS256: true,
	RS384: true,
	RS512: true,
	ES256: true,
	ES384: true,
	ES512: true,
	PS256: true,
	PS384: true,
	PS512: true,
}

// SupportedAlg reports whether a is a supported signing algorithm.
func SupportedAlg(a Alg) bool {
	return supportedAlgorithms[a]
}

func (a Alg) joseAlg() jose.SignatureAlgorithm {
	return jose.SignatureAlgorithm(a)
}
