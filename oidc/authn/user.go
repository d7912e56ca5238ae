package authn

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/coralproject/coral-auth/sdk/id"
)

// Profile links a User to one identity at a provider. Local identities use
// the email address as the external id, mirroring how external providers use
// their own stable subject ids.
type Profile struct {
	Provider    ProviderKind `json:"provider"`
	ExternalID  string       `json:"id"`
	DisplayName string       `json:"display_name,omitempty"`
}

// User is the authenticated principal: an opaque stable id, a disabled flag
// and a role set. The engine consumes it only to produce claims and never
// persists it itself.
type User struct {
	ID             string
	DisplayName    string
	Disabled       bool
	Roles          []string
	PasswordDigest string
	Profiles       []Profile
}

// UserStore is the persistence collaborator the engine consumes. FindLocal
// returns nil (no error) when no local identity matches the email, so
// callers can fold "no such user" and "wrong password" into one failure.
type UserStore interface {
	FindLocal(ctx context.Context, email string) (*User, error)
	FindOrCreateExternal(ctx context.Context, profile Profile) (*User, error)
}

// HashPassword derives a password digest suitable for User.PasswordDigest.
func HashPassword(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("unable to hash password: %w", err)
	}
	return string(digest), nil
}

// VerifyPassword reports whether the password matches the digest.
func VerifyPassword(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// InMemoryUserStore is a UserStore for tests and single-process development
// servers. Production deployments supply their own store.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]*User)}
}

// CreateLocal registers a user with a local email/password identity.
func (s *InMemoryUserStore) CreateLocal(ctx context.Context, email, displayName, password string) (*User, error) {
	const op = "InMemoryUserStore.CreateLocal"
	if email == "" {
		return nil, fmt.Errorf("%s: email is empty: %w", op, ErrInvalidParameter)
	}
	existing, err := s.FindLocal(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%s: local identity already registered: %w", op, ErrInvalidParameter)
	}

	digest, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	userID, err := id.New("u")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user := &User{
		ID:             userID,
		DisplayName:    displayName,
		PasswordDigest: digest,
		Profiles: []Profile{
			{Provider: ProviderLocal, ExternalID: email},
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return copyUser(user), nil
}

// FindLocal implements UserStore.
func (s *InMemoryUserStore) FindLocal(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user := s.findByProfile(ProviderLocal, email); user != nil {
		return copyUser(user), nil
	}
	return nil, nil
}

// FindOrCreateExternal implements UserStore: it maps an external provider
// identity to a local User, creating one on first sight.
func (s *InMemoryUserStore) FindOrCreateExternal(_ context.Context, profile Profile) (*User, error) {
	const op = "InMemoryUserStore.FindOrCreateExternal"
	if !profile.Provider.Federated() {
		return nil, fmt.Errorf("%s: profile provider %q is not federated: %w", op, profile.Provider, ErrInvalidParameter)
	}
	if profile.ExternalID == "" {
		return nil, fmt.Errorf("%s: profile external id is empty: %w", op, ErrInvalidParameter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if user := s.findByProfile(profile.Provider, profile.ExternalID); user != nil {
		return copyUser(user), nil
	}

	userID, err := id.New("u")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user := &User{
		ID:          userID,
		DisplayName: profile.DisplayName,
		Profiles:    []Profile{profile},
	}
	s.users[user.ID] = user
	return copyUser(user), nil
}

// SetDisabled flags or unflags an account as suspended.
func (s *InMemoryUserStore) SetDisabled(_ context.Context, userID string, disabled bool) error {
	const op = "InMemoryUserStore.SetDisabled"
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	user.Disabled = disabled
	return nil
}

// findByProfile returns the stored user carrying the given identity. Callers
// must hold s.mu.
func (s *InMemoryUserStore) findByProfile(provider ProviderKind, externalID string) *User {
	for _, user := range s.users {
		for _, p := range user.Profiles {
			if p.Provider == provider && p.ExternalID == externalID {
				return user
			}
		}
	}
	return nil
}

func copyUser(u *User) *User {
	dup := *u
	dup.Roles = append([]string(nil), u.Roles...)
	dup.Profiles = append([]Profile(nil), u.Profiles...)
	return &dup
}
