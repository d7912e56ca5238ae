// authn implements the engine's authentication variants behind one
// capability interface.
//
// The set of variants is closed: local email/password verification against a
// UserStore, and the federated OAuth2/OIDC providers (facebook, twitter,
// google). Enabling a federated variant is a configuration-time decision: a
// variant is constructed only when its client id and secret are both present.
//
// Every variant resolves to a User or a typed failure. Failures never
// disclose whether an email or a password was wrong, and all federated
// transport or protocol failures are normalized to ErrProviderError before
// they reach the flow orchestrator.
package authn
