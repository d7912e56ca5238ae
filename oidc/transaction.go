package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// TransactionStore persists a validated AuthorizationRequest across the
// authentication detour, scoped to one login attempt. Each session key maps
// to at most one in-flight AuthorizationRequest. Implementations must be
// concurrently safe, though the protocol itself is sequential per session:
// validate, redirect to a provider, callback.
//
// The store also carries the flash message for the failure path: a transient,
// take-once error message re-displayed on the login surface instead of being
// embedded in a redirect URI.
type TransactionStore interface {
	// Save stores the AuthorizationRequest for the session key, replacing
	// any in-flight transaction for that session.
	Save(ctx context.Context, sessionKey string, ar *AuthorizationRequest) error

	// Load returns the stored AuthorizationRequest or nil when the session
	// has no in-flight (unexpired) transaction.
	Load(ctx context.Context, sessionKey string) (*AuthorizationRequest, error)

	// Clear discards the session's transaction state, including any flash.
	Clear(ctx context.Context, sessionKey string) error

	// SaveFlash stores a transient message for the session.
	SaveFlash(ctx context.Context, sessionKey string, msg string) error

	// TakeFlash returns the session's flash message and removes it.
	TakeFlash(ctx context.Context, sessionKey string) (string, error)

	// SaveDetourState stores the opaque state bound to the session's
	// federated detour, replacing any previous one. The state is distinct
	// from the session key: it is the value sent to the provider and
	// echoed back on the callback.
	SaveDetourState(ctx context.Context, sessionKey string, state string) error

	// TakeDetourState returns the session's detour state and removes it,
	// so a state verifies at most one callback.
	TakeDetourState(ctx context.Context, sessionKey string) (string, error)
}

// DefaultTransactionTTL bounds how long a stored AuthorizationRequest stays
// authoritative. After the TTL the detour is treated as expired.
const DefaultTransactionTTL = 10 * time.Minute

type memoryTx struct {
	ar      *AuthorizationRequest
	flash   string
	detour  string
	expires time.Time
}

// MemoryTransactionStore is an in-process TransactionStore. It is suitable
// for single-instance deployments and tests; use the redistx store when the
// transaction must survive process restarts or be shared across instances.
type MemoryTransactionStore struct {
	mu      sync.Mutex
	entries map[string]*memoryTx
	ttl     time.Duration
	logger  hclog.Logger
}

// NewMemoryTransactionStore creates an in-memory store.
//
// Supported options: WithTTL (default DefaultTransactionTTL), WithLogger
func NewMemoryTransactionStore(opt ...Option) *MemoryTransactionStore {
	opts := getMemoryStoreOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &MemoryTransactionStore{
		entries: make(map[string]*memoryTx),
		ttl:     opts.withTTL,
		logger:  logger,
	}
}

// Save implements TransactionStore.
func (s *MemoryTransactionStore) Save(_ context.Context, sessionKey string, ar *AuthorizationRequest) error {
	const op = "MemoryTransactionStore.Save"
	if sessionKey == "" {
		return fmt.Errorf("%s: session key is empty: %w", op, ErrInvalidParameter)
	}
	if ar == nil {
		return fmt.Errorf("%s: authorization request is nil: %w", op, ErrNilParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.liveEntry(sessionKey)
	if entry == nil {
		entry = &memoryTx{}
		s.entries[sessionKey] = entry
	}
	entry.ar = ar
	entry.expires = time.Now().Add(s.ttl)
	return nil
}

// Load implements TransactionStore.
func (s *MemoryTransactionStore) Load(_ context.Context, sessionKey string) (*AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.liveEntry(sessionKey)
	if entry == nil {
		return nil, nil
	}
	return entry.ar, nil
}

// Clear implements TransactionStore.
func (s *MemoryTransactionStore) Clear(_ context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionKey)
	return nil
}

// SaveFlash implements TransactionStore.
func (s *MemoryTransactionStore) SaveFlash(_ context.Context, sessionKey string, msg string) error {
	const op = "MemoryTransactionStore.SaveFlash"
	if sessionKey == "" {
		return fmt.Errorf("%s: session key is empty: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.liveEntry(sessionKey)
	if entry == nil {
		entry = &memoryTx{expires: time.Now().Add(s.ttl)}
		s.entries[sessionKey] = entry
	}
	entry.flash = msg
	return nil
}

// TakeFlash implements TransactionStore.
func (s *MemoryTransactionStore) TakeFlash(_ context.Context, sessionKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.liveEntry(sessionKey)
	if entry == nil {
		return "", nil
	}
	msg := entry.flash
	entry.flash = ""
	return msg, nil
}

// SaveDetourState implements TransactionStore.
func (s *MemoryTransactionStore) SaveDetourState(_ context.Context, sessionKey string, state string) error {
	const op = "MemoryTransactionStore.SaveDetourState"
	if sessionKey == "" {
		return fmt.Errorf("%s: session key is empty: %w", op, ErrInvalidParameter)
	}
	if state == "" {
		return fmt.Errorf("%s: detour state is empty: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.liveEntry(sessionKey)
	if entry == nil {
		entry = &memoryTx{expires: time.Now().Add(s.ttl)}
		s.entries[sessionKey] = entry
	}
	entry.detour = state
	return nil
}

// TakeDetourState implements TransactionStore.
func (s *MemoryTransactionStore) TakeDetourState(_ context.Context, sessionKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.liveEntry(sessionKey)
	if entry == nil {
		return "", nil
	}
	state := entry.detour
	entry.detour = ""
	return state, nil
}

// liveEntry returns the unexpired entry for the key, discarding an expired
// one as a side effect. Callers must hold s.mu.
func (s *MemoryTransactionStore) liveEntry(sessionKey string) *memoryTx {
	entry, ok := s.entries[sessionKey]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expires) {
		delete(s.entries, sessionKey)
		return nil
	}
	return entry
}

type memoryStoreOptions struct {
	withTTL    time.Duration
	withLogger hclog.Logger
}

func memoryStoreDefaults() memoryStoreOptions {
	return memoryStoreOptions{
		withTTL: DefaultTransactionTTL,
	}
}

func getMemoryStoreOpts(opt ...Option) memoryStoreOptions {
	opts := memoryStoreDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
