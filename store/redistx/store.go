// redistx is a Redis-backed TransactionStore for deployments where the
// authentication detour must survive process restarts or span multiple
// instances behind a load balancer.
package redistx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/coralproject/coral-auth/oidc"
)

const (
	txKeyPrefix    = "connect:tx:"
	flashKeyPrefix = "connect:flash:"
	stateKeyPrefix = "connect:state:"
)

// Store implements oidc.TransactionStore on Redis. Every entry carries the
// configured TTL, so abandoned detours expire server-side without a sweeper.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger hclog.Logger
}

type options struct {
	withTTL    time.Duration
	withLogger hclog.Logger
}

// Option configures a Store.
type Option func(*options)

// WithTTL bounds how long a stored transaction stays authoritative.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.withTTL = ttl
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}

// New creates a Store on the given client.
//
// Supported options: WithTTL (default oidc.DefaultTransactionTTL), WithLogger
func New(client redis.UniversalClient, opt ...Option) (*Store, error) {
	const op = "redistx.New"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := options{
		withTTL:    oidc.DefaultTransactionTTL,
		withLogger: hclog.NewNullLogger(),
	}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	if opts.withTTL <= 0 {
		return nil, fmt.Errorf("%s: ttl is not greater than zero: %w", op, oidc.ErrInvalidParameter)
	}
	return &Store{
		client: client,
		ttl:    opts.withTTL,
		logger: opts.withLogger.Named("redistx"),
	}, nil
}

// Save implements oidc.TransactionStore.
func (s *Store) Save(ctx context.Context, sessionKey string, ar *oidc.AuthorizationRequest) error {
	const op = "redistx.(Store).Save"
	if sessionKey == "" {
		return fmt.Errorf("%s: session key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if ar == nil {
		return fmt.Errorf("%s: authorization request is nil: %w", op, oidc.ErrNilParameter)
	}
	raw, err := json.Marshal(ar)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal authorization request: %w", op, err)
	}
	if err := s.client.Set(ctx, txKeyPrefix+sessionKey, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Load implements oidc.TransactionStore, returning nil when the session has
// no unexpired transaction.
func (s *Store) Load(ctx context.Context, sessionKey string) (*oidc.AuthorizationRequest, error) {
	const op = "redistx.(Store).Load"
	if sessionKey == "" {
		return nil, fmt.Errorf("%s: session key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	raw, err := s.client.Get(ctx, txKeyPrefix+sessionKey).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var ar oidc.AuthorizationRequest
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal authorization request: %w", op, err)
	}
	return &ar, nil
}

// Clear implements oidc.TransactionStore, discarding the transaction along
// with any pending flash and detour state.
func (s *Store) Clear(ctx context.Context, sessionKey string) error {
	const op = "redistx.(Store).Clear"
	if sessionKey == "" {
		return fmt.Errorf("%s: session key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if err := s.client.Del(ctx, txKeyPrefix+sessionKey, flashKeyPrefix+sessionKey, stateKeyPrefix+sessionKey).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SaveFlash implements oidc.TransactionStore.
func (s *Store) SaveFlash(ctx context.Context, sessionKey string, msg string) error {
	const op = "redistx.(Store).SaveFlash"
	if sessionKey == "" {
		return fmt.Errorf("%s: session key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if err := s.client.Set(ctx, flashKeyPrefix+sessionKey, msg, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TakeFlash implements oidc.TransactionStore, removing the message as it is
// read.
func (s *Store) TakeFlash(ctx context.Context, sessionKey string) (string, error) {
	const op = "redistx.(Store).TakeFlash"
	if sessionKey == "" {
		return "", fmt.Errorf("%s: session key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	msg, err := s.client.GetDel(ctx, flashKeyPrefix+sessionKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return msg, nil
}

// SaveDetourState implements oidc.TransactionStore.
func (s *Store) SaveDetourState(ctx context.Context, sessionKey string, state string) error {
	const op = "redistx.(Store).SaveDetourState"
	if sessionKey == "" {
		return fmt.Errorf("%s: session key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if state == "" {
		return fmt.Errorf("%s: detour state is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if err := s.client.Set(ctx, stateKeyPrefix+sessionKey, state, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TakeDetourState implements oidc.TransactionStore, removing the state as it
// is read so it verifies at most one callback.
func (s *Store) TakeDetourState(ctx context.Context, sessionKey string) (string, error) {
	const op = "redistx.(Store).TakeDetourState"
	if sessionKey == "" {
		return "", fmt.Errorf("%s: session key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	state, err := s.client.GetDel(ctx, stateKeyPrefix+sessionKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return state, nil
}
