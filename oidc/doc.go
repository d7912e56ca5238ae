// oidc is the core of the coral-auth implicit-flow authorization engine.
//
// It provides the pieces an authorization endpoint needs to run one login
// transaction end to end: a ClientRegistry which validates inbound
// authorization requests against the allow-listed client/redirect-uri pairs,
// a TransactionStore which holds the validated AuthorizationRequest across
// the authentication detour, a KeySet which owns the active signing key and
// its public JWKS representation, and a TokenService which signs and verifies
// the id/access tokens bound to the transaction.
//
// The HTTP surface that ties these together lives in the connect package and
// the authentication variants live in the authn package.
package oidc
