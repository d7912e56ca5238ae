package authn

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"
)

// Local authenticates email/password credentials against a UserStore. Every
// credential failure (unknown email, wrong password, empty fields) surfaces
// as ErrInvalidCredentials so callers cannot distinguish which part failed.
type Local struct {
	users  UserStore
	logger hclog.Logger
}

type localOptions struct {
	withLogger hclog.Logger
}

func localDefaults() localOptions {
	return localOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getLocalOpts(opt ...Option) localOptions {
	opts := localDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewLocal creates a password Authenticator backed by the given store.
func NewLocal(users UserStore, opt ...Option) (*Local, error) {
	const op = "authn.NewLocal"
	if users == nil {
		return nil, fmt.Errorf("%s: user store is nil: %w", op, ErrNilParameter)
	}
	opts := getLocalOpts(opt...)
	return &Local{
		users:  users,
		logger: opts.withLogger.Named("local"),
	}, nil
}

// Kind implements Authenticator.
func (l *Local) Kind() ProviderKind { return ProviderLocal }

// BeginAuth implements Authenticator. Password authentication has no detour
// to an external party, so there is never a redirect.
func (l *Local) BeginAuth(context.Context, string) (string, error) {
	return "", nil
}

// CompleteAuth implements Authenticator. The payload carries the submitted
// "email" and "password" form fields.
func (l *Local) CompleteAuth(ctx context.Context, _ string, payload url.Values) (*User, error) {
	const op = "authn.(Local).CompleteAuth"
	email := payload.Get("email")
	password := payload.Get("password")
	if email == "" || password == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := l.users.FindLocal(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user == nil {
		l.logger.Debug("no local identity for submitted email")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	if !VerifyPassword(password, user.PasswordDigest) {
		l.logger.Debug("password mismatch", "user_id", user.ID)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	return user, nil
}
