package oidc

import (
	"fmt"

	"gopkg.in/square/go-jose.v2/jwt"
)

// UnmarshalClaims unmarshals the claims of a compact serialized token into
// the value pointed to by claims. It does not verify the token's signature:
// use TokenService.Verify when verification is required.
func UnmarshalClaims(token string, claims interface{}) error {
	const op = "oidc.UnmarshalClaims"
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return fmt.Errorf("%s: unable to parse token: %w", op, err)
	}
	if err := parsed.UnsafeClaimsWithoutVerification(claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal claims: %w", op, err)
	}
	return nil
}
