package authn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryUserStore_CreateLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewInMemoryUserStore()

		created, err := store.CreateLocal(ctx, "alice@example.com", "Alice", "fido123")
		require.NoError(err)
		require.NotNil(created)
		assert.NotEmpty(created.ID)
		assert.Equal("Alice", created.DisplayName)
		assert.False(created.Disabled)
		require.Len(created.Profiles, 1)
		assert.Equal(ProviderLocal, created.Profiles[0].Provider)
		assert.Equal("alice@example.com", created.Profiles[0].ExternalID)
		assert.NotEqual("fido123", created.PasswordDigest)

		found, err := store.FindLocal(ctx, "alice@example.com")
		require.NoError(err)
		require.NotNil(found)
		assert.Equal(created.ID, found.ID)
		assert.True(VerifyPassword("fido123", found.PasswordDigest))
	})
	t.Run("duplicate-email", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewInMemoryUserStore()
		_, err := store.CreateLocal(ctx, "alice@example.com", "Alice", "fido123")
		require.NoError(err)

		_, err = store.CreateLocal(ctx, "alice@example.com", "Imposter", "other")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("empty-email", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewInMemoryUserStore()
		_, err := store.CreateLocal(ctx, "", "Nobody", "fido123")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestInMemoryUserStore_FindLocal(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	store := NewInMemoryUserStore()

	// Absent identities return nil without an error.
	found, err := store.FindLocal(ctx, "nobody@example.com")
	require.NoError(err)
	assert.Nil(found)
}

func TestInMemoryUserStore_FindOrCreateExternal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewInMemoryUserStore()
		profile := Profile{Provider: ProviderGoogle, ExternalID: "109876", DisplayName: "Alice"}

		first, err := store.FindOrCreateExternal(ctx, profile)
		require.NoError(err)
		require.NotNil(first)
		assert.Equal("Alice", first.DisplayName)

		second, err := store.FindOrCreateExternal(ctx, profile)
		require.NoError(err)
		assert.Equal(first.ID, second.ID)
	})
	t.Run("distinct-providers-distinct-users", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewInMemoryUserStore()

		google, err := store.FindOrCreateExternal(ctx, Profile{Provider: ProviderGoogle, ExternalID: "42"})
		require.NoError(err)
		facebook, err := store.FindOrCreateExternal(ctx, Profile{Provider: ProviderFacebook, ExternalID: "42"})
		require.NoError(err)
		assert.NotEqual(google.ID, facebook.ID)
	})
	t.Run("rejects-local-profile", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewInMemoryUserStore()
		_, err := store.FindOrCreateExternal(ctx, Profile{Provider: ProviderLocal, ExternalID: "alice@example.com"})
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("rejects-empty-external-id", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewInMemoryUserStore()
		_, err := store.FindOrCreateExternal(ctx, Profile{Provider: ProviderTwitter})
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestInMemoryUserStore_SetDisabled(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	store := NewInMemoryUserStore()

	created, err := store.CreateLocal(ctx, "alice@example.com", "Alice", "fido123")
	require.NoError(err)

	require.NoError(store.SetDisabled(ctx, created.ID, true))
	found, err := store.FindLocal(ctx, "alice@example.com")
	require.NoError(err)
	assert.True(found.Disabled)

	err = store.SetDisabled(ctx, "u_missing", true)
	require.Error(err)
	assert.ErrorIs(err, ErrUserNotFound)
}

func TestHashPassword(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	digest, err := HashPassword("fido123")
	require.NoError(err)
	assert.NotEqual("fido123", digest)
	assert.True(VerifyPassword("fido123", digest))
	assert.False(VerifyPassword("fido124", digest))
	assert.False(VerifyPassword("fido123", "not-a-digest"))
}
