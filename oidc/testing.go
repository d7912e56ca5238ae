package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestGenerateKeys will generate a test ECDSA P-521 pub/priv pem-encoded key
// pair, suitable for a KeySet using the default ES512 algorithm.
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	require := require.New(t)
	privateKey, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	require.NoError(err)

	{
		derBytes, err := x509.MarshalECPrivateKey(privateKey)
		require.NoError(err)

		pemBlock := &pem.Block{
			Type:  "EC PRIVATE KEY",
			Bytes: derBytes,
		}
		priv = string(pem.EncodeToMemory(pemBlock))
	}
	{
		derBytes, err := x509.MarshalPKIXPublicKey(privateKey.Public())
		require.NoError(err)

		pemBlock := &pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: derBytes,
		}
		pub = string(pem.EncodeToMemory(pemBlock))
	}

	return pub, priv
}

// TestKeySet returns a KeySet backed by a freshly generated ES512 key pair.
func TestKeySet(t *testing.T) *KeySet {
	t.Helper()
	require := require.New(t)
	privateKey, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	require.NoError(err)
	ks, err := NewKeySet(privateKey, privateKey.Public(), ES512)
	require.NoError(err)
	return ks
}

// testP384Key generates an ECDSA P-384 private key for alg mismatch tests.
func testP384Key(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	return key
}

// TestRegistry returns a ClientRegistry parsed from the given alternating
// client/redirect-uri entries.
func TestRegistry(t *testing.T, entries ...string) *ClientRegistry {
	t.Helper()
	require := require.New(t)
	allowList := ""
	for i, e := range entries {
		if i > 0 {
			allowList += " "
		}
		allowList += e
	}
	r, err := NewClientRegistry(allowList)
	require.NoError(err)
	return r
}
