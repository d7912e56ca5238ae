package connect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/coralproject/coral-auth/oidc"
	"github.com/coralproject/coral-auth/oidc/authn"
	"github.com/coralproject/coral-auth/sdk/id"
)

// State names one phase of an authorization attempt.
type State int

const (
	StateStart State = iota
	StateRequestValidated
	StateAwaitingAuthentication
	StateAuthenticated
	StateTokensIssued
	StateTerminated
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateRequestValidated:
		return "request-validated"
	case StateAwaitingAuthentication:
		return "awaiting-authentication"
	case StateAuthenticated:
		return "authenticated"
	case StateTokensIssued:
		return "tokens-issued"
	case StateTerminated:
		return "terminated"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// DefaultAuthorizeEndpoint is the path failure redirects are rebuilt
// against when no WithAuthorizeEndpoint option is given.
const DefaultAuthorizeEndpoint = "/connect/authorize"

// Result is the outcome of one Flow phase.
type Result struct {
	// State the attempt reached in this phase.
	State State

	// RedirectURL is where the user agent goes next: the provider's
	// authorization URL, the fragment-bearing success redirect, or the
	// rebuilt authorize URL on a retryable failure. Empty when the phase
	// ends with a rendered page instead of a redirect.
	RedirectURL string

	// Request is the attempt's AuthorizationRequest, set by Authorize.
	Request *oidc.AuthorizationRequest

	// Flash is the transient failure message to re-display, set by
	// Authorize when a previous phase of this session failed.
	Flash string
}

// Flow is the orchestrator tying validation, transaction state,
// authentication and token issuance together. One Flow serves all sessions
// concurrently; per-attempt state lives only in the TransactionStore under
// the caller's SessionContext.
type Flow struct {
	registry          *oidc.ClientRegistry
	tokens            *oidc.TokenService
	store             oidc.TransactionStore
	authenticators    map[authn.ProviderKind]authn.Authenticator
	authorizeEndpoint string
	logger            hclog.Logger
}

type flowOptions struct {
	withLogger            hclog.Logger
	withAuthorizeEndpoint string
}

func flowDefaults() flowOptions {
	return flowOptions{
		withLogger:            hclog.NewNullLogger(),
		withAuthorizeEndpoint: DefaultAuthorizeEndpoint,
	}
}

func getFlowOpts(opt ...Option) flowOptions {
	opts := flowDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewFlow composes an orchestrator from a client registry, a token service,
// a transaction store and the enabled authentication variants.
//
// Supported options: WithLogger, WithAuthorizeEndpoint
func NewFlow(registry *oidc.ClientRegistry, tokens *oidc.TokenService, store oidc.TransactionStore, authenticators []authn.Authenticator, opt ...Option) (*Flow, error) {
	const op = "connect.NewFlow"
	if registry == nil {
		return nil, fmt.Errorf("%s: client registry is nil: %w", op, ErrNilParameter)
	}
	if tokens == nil {
		return nil, fmt.Errorf("%s: token service is nil: %w", op, ErrNilParameter)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: transaction store is nil: %w", op, ErrNilParameter)
	}
	if len(authenticators) == 0 {
		return nil, fmt.Errorf("%s: no authentication variants enabled: %w", op, ErrInvalidParameter)
	}
	byKind := make(map[authn.ProviderKind]authn.Authenticator, len(authenticators))
	for _, a := range authenticators {
		if a == nil {
			return nil, fmt.Errorf("%s: authenticator is nil: %w", op, ErrNilParameter)
		}
		kind := a.Kind()
		if !kind.Valid() {
			return nil, fmt.Errorf("%s: unknown variant %q: %w", op, kind, ErrInvalidParameter)
		}
		if _, dup := byKind[kind]; dup {
			return nil, fmt.Errorf("%s: variant %q enabled twice: %w", op, kind, ErrInvalidParameter)
		}
		byKind[kind] = a
	}

	opts := getFlowOpts(opt...)
	return &Flow{
		registry:          registry,
		tokens:            tokens,
		store:             store,
		authenticators:    byKind,
		authorizeEndpoint: opts.withAuthorizeEndpoint,
		logger:            opts.withLogger.Named("flow"),
	}, nil
}

// EnabledProviders returns the enabled variants in a stable display order.
func (f *Flow) EnabledProviders() []authn.ProviderKind {
	order := append([]authn.ProviderKind{authn.ProviderLocal}, authn.FederatedKinds()...)
	var enabled []authn.ProviderKind
	for _, kind := range order {
		if _, ok := f.authenticators[kind]; ok {
			enabled = append(enabled, kind)
		}
	}
	return enabled
}

// Registry returns the flow's client registry.
func (f *Flow) Registry() *oidc.ClientRegistry { return f.registry }

// TokenService returns the flow's token service.
func (f *Flow) TokenService() *oidc.TokenService { return f.tokens }

// Authorize handles the authorize entry point, moving the attempt from
// Start to RequestValidated.
//
// When the incoming parameters carry an error (an identity provider bounced
// the user back), the stored AuthorizationRequest is re-used and the error
// joins the pending flash for re-display. An error bounce with no stored
// transaction fails with ErrSession: there is no trustworthy redirect target
// to recover to. Otherwise the parameters are validated, the resulting
// AuthorizationRequest replaces any in-flight transaction for the session,
// and any pending flash from an earlier failed phase is taken for display.
func (f *Flow) Authorize(ctx context.Context, sess SessionContext, params url.Values) (*Result, error) {
	const op = "connect.(Flow).Authorize"
	if sess.Key == "" {
		return nil, fmt.Errorf("%s: session key is empty: %w", op, ErrInvalidParameter)
	}

	if bounced := params.Get("error"); bounced != "" {
		ar, err := f.store.Load(ctx, sess.Key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ar == nil {
			f.logger.Warn("error bounce-back with no in-flight transaction", "error", bounced)
			return nil, fmt.Errorf("%s: error bounce-back: %w", op, ErrSession)
		}
		flash, err := f.store.TakeFlash(ctx, sess.Key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if flash == "" {
			flash = bounced
		}
		return &Result{State: StateRequestValidated, Request: ar, Flash: flash}, nil
	}

	ar, err := f.registry.Validate(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := f.store.Save(ctx, sess.Key, ar); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	flash, err := f.store.TakeFlash(ctx, sess.Key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Result{State: StateRequestValidated, Request: ar, Flash: flash}, nil
}

// BeginAuth starts the chosen variant's detour, moving the attempt to
// AwaitingAuthentication. The returned RedirectURL is empty for variants
// without a detour (local password).
//
// Federated detours get a freshly minted state value stored against the
// session. The state, not the session key, is what the provider sees and
// echoes back, so the session key never appears in provider-bound URLs.
func (f *Flow) BeginAuth(ctx context.Context, sess SessionContext, kind authn.ProviderKind) (*Result, error) {
	const op = "connect.(Flow).BeginAuth"
	if sess.Key == "" {
		return nil, fmt.Errorf("%s: session key is empty: %w", op, ErrInvalidParameter)
	}
	ar, err := f.store.Load(ctx, sess.Key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ar == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrSession)
	}
	a, ok := f.authenticators[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, kind, authn.ErrUnknownProvider)
	}
	var state string
	if kind.Federated() {
		state, err = id.New("st")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := f.store.SaveDetourState(ctx, sess.Key, state); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	redirect, err := a.BeginAuth(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Result{State: StateAwaitingAuthentication, RedirectURL: redirect, Request: ar}, nil
}

// CompleteAuth resolves the variant's payload into a principal and, on
// success, mints the token pair and composes the fragment redirect. Terminal
// paths clear the transaction; authentication failures keep it so the
// session can retry at the rebuilt authorize URL, with the failure reason
// flashed for re-display.
//
// The returned Result carries StateTokensIssued and the success redirect, or
// StateErrored with the retry redirect plus a non-nil normalized error. A
// missing transaction fails with ErrSession; a signing failure clears the
// transaction and surfaces as-is for the caller to map to a generic server
// error.
func (f *Flow) CompleteAuth(ctx context.Context, sess SessionContext, kind authn.ProviderKind, payload url.Values) (*Result, error) {
	const op = "connect.(Flow).CompleteAuth"
	if sess.Key == "" {
		return nil, fmt.Errorf("%s: session key is empty: %w", op, ErrInvalidParameter)
	}
	ar, err := f.store.Load(ctx, sess.Key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ar == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrSession)
	}
	a, ok := f.authenticators[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, kind, authn.ErrUnknownProvider)
	}

	var state string
	if kind.Federated() {
		state, err = f.store.TakeDetourState(ctx, sess.Key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		// A callback with no begun detour is forged or replayed.
		if state == "" {
			return nil, fmt.Errorf("%s: no detour in flight: %w", op, ErrSession)
		}
	}

	user, err := a.CompleteAuth(ctx, state, payload)
	if err != nil {
		// Lookup misses are indistinguishable from bad credentials past
		// this point.
		if errors.Is(err, authn.ErrUserNotFound) {
			err = fmt.Errorf("%s: %w", op, authn.ErrInvalidCredentials)
		}
		return f.failAuth(ctx, sess, ar, err)
	}

	// The single suspension gate: applies after every variant, before any
	// token is issued.
	if user.Disabled {
		f.logger.Info("authentication refused for disabled account", "user_id", user.ID)
		return f.failAuth(ctx, sess, ar, fmt.Errorf("%s: %w", op, authn.ErrUserDisabled))
	}

	accessRaw, err := f.tokens.Sign(oidc.NewAccessTokenClaims(strings.Fields(ar.Scope)))
	if err != nil {
		return nil, f.failSigning(ctx, sess, op, err)
	}
	accessToken := oidc.AccessToken(accessRaw)
	atHash := oidc.AccessTokenHash(accessToken)

	idRaw, err := f.tokens.Sign(oidc.NewIDTokenClaims(user.ID, ar.ClientID, ar.Nonce, atHash))
	if err != nil {
		return nil, f.failSigning(ctx, sess, op, err)
	}

	redirect, err := ComposeSuccess(ar.RedirectURI, accessToken, oidc.IdToken(idRaw), f.tokens.ExpiresIn(), ar.State, ar.Nonce)
	if err != nil {
		return nil, f.failSigning(ctx, sess, op, err)
	}

	if err := f.store.Clear(ctx, sess.Key); err != nil {
		f.logger.Error("unable to clear completed transaction", "error", err)
	}
	return &Result{State: StateTokensIssued, RedirectURL: redirect, Request: ar}, nil
}

// failAuth flashes the failure, keeps the transaction for a retry and
// returns the rebuilt authorize URL alongside the normalized error.
func (f *Flow) failAuth(ctx context.Context, sess SessionContext, ar *oidc.AuthorizationRequest, cause error) (*Result, error) {
	if err := f.store.SaveFlash(ctx, sess.Key, flashMessage(cause)); err != nil {
		f.logger.Error("unable to flash authentication failure", "error", err)
	}
	retry, err := ComposeFailure(f.authorizeEndpoint, ar)
	if err != nil {
		return nil, err
	}
	return &Result{State: StateErrored, RedirectURL: retry, Request: ar}, cause
}

// failSigning clears the transaction before surfacing the error; a live
// signing failure must not leave a usable detour behind.
func (f *Flow) failSigning(ctx context.Context, sess SessionContext, op string, cause error) error {
	if err := f.store.Clear(ctx, sess.Key); err != nil {
		f.logger.Error("unable to clear transaction after signing failure", "error", err)
	}
	return fmt.Errorf("%s: %w", op, cause)
}

// flashMessage maps a failure to the transient message re-displayed on the
// login surface. Only the known taxonomy's messages are surfaced.
func flashMessage(cause error) string {
	switch {
	case errors.Is(cause, authn.ErrInvalidCredentials):
		return authn.ErrInvalidCredentials.Error()
	case errors.Is(cause, authn.ErrUserDisabled):
		return authn.ErrUserDisabled.Error()
	case errors.Is(cause, authn.ErrProviderError):
		return authn.ErrProviderError.Error()
	}
	return "authentication failed"
}
