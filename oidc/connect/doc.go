// connect is the HTTP-facing surface of the authorization engine: the flow
// orchestrator, the session-scoped transaction plumbing and the redirect
// composition for the implicit flow.
//
// One login attempt moves through the states Start, RequestValidated,
// AwaitingAuthentication, Authenticated, TokensIssued and Terminated, with
// Errored reachable from any non-terminal state. The detour to an
// authentication provider spans a real HTTP round trip, so the stored
// AuthorizationRequest is the only state carried between phases and it never
// outlives one attempt: terminal paths always clear it. Session state is an
// explicit SessionContext value passed into every call, never ambient.
package connect
