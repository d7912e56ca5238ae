package oidc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"gopkg.in/square/go-jose.v2"
)

// KeySet holds the engine's one active asymmetric signing key plus its public
// JWKS representation. It is loaded once at process start and treated as
// immutable and read-only after that, so it's safe to share across concurrent
// flows without locking.
type KeySet struct {
	alg     Alg
	keyID   string
	private crypto.PrivateKey
	public  crypto.PublicKey
	jwks    jose.JSONWebKeySet
}

// LoadKeySet loads a pem-encoded private key and its corresponding public key
// and derives the public JWKS representation (use: "sig", key id present).
// The public key pem is optional: when empty the public key is derived from
// the private key. A failure here is fatal to the caller: the process must
// not serve traffic with no JWKS.
func LoadKeySet(privPEM, pubPEM []byte, alg Alg) (*KeySet, error) {
	const op = "oidc.LoadKeySet"
	if len(privPEM) == 0 {
		return nil, fmt.Errorf("%s: private key pem is empty: %w", op, ErrKeyLoad)
	}
	private, err := parsePrivateKeyPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse private key: %v: %w", op, err, ErrKeyLoad)
	}

	var public crypto.PublicKey
	if len(pubPEM) != 0 {
		public, err = parsePublicKeyPEM(pubPEM)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to parse public key: %v: %w", op, err, ErrKeyLoad)
		}
	}

	ks, err := NewKeySet(private, public, alg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ks, nil
}

// NewKeySet composes a KeySet from an already parsed key pair. The public key
// is optional and will be derived from the private key when nil.
func NewKeySet(private crypto.PrivateKey, public crypto.PublicKey, alg Alg) (*KeySet, error) {
	const op = "oidc.NewKeySet"
	if private == nil {
		return nil, fmt.Errorf("%s: private key is nil: %w", op, ErrNilParameter)
	}
	if !SupportedAlg(alg) {
		return nil, fmt.Errorf("%s: %q: %w", op, alg, ErrUnsupportedAlg)
	}
	if public == nil {
		signer, ok := private.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%s: private key cannot derive its public key: %w", op, ErrKeyLoad)
		}
		public = signer.Public()
	}

	jwk := jose.JSONWebKey{
		Key:       public,
		Algorithm: string(alg),
		Use:       "sig",
	}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to derive public jwk: %v: %w", op, err, ErrKeyLoad)
	}
	jwk.KeyID = base64.RawURLEncoding.EncodeToString(tp)

	return &KeySet{
		alg:     alg,
		keyID:   jwk.KeyID,
		private: private,
		public:  public,
		jwks:    jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}},
	}, nil
}

// Alg returns the configured signing algorithm.
func (k *KeySet) Alg() Alg { return k.alg }

// KeyID returns the active key's id (its RFC 7638 thumbprint).
func (k *KeySet) KeyID() string { return k.keyID }

// JWKS returns the publicly servable JSON Web Key Set with exactly one key.
func (k *KeySet) JWKS() jose.JSONWebKeySet { return k.jwks }

// Public returns the verification key.
func (k *KeySet) Public() crypto.PublicKey { return k.public }

func (k *KeySet) signingKey() jose.SigningKey {
	return jose.SigningKey{
		Algorithm: k.alg.joseAlg(),
		Key: jose.JSONWebKey{
			Key:   k.private,
			KeyID: k.keyID,
		},
	}
}

// parsePrivateKeyPEM parses ECDSA and RSA private keys from their pem-encoded
// SEC 1, PKCS #1 or PKCS #8 forms.
func parsePrivateKeyPEM(data []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("data does not contain a pem block")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	rawKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("data does not contain a valid ECDSA or RSA private key")
	}
	switch rawKey.(type) {
	case *ecdsa.PrivateKey, *rsa.PrivateKey:
		return rawKey, nil
	}
	return nil, fmt.Errorf("unsupported private key type %T", rawKey)
}

// parsePublicKeyPEM parses RSA and ECDSA public keys from their pem-encoded
// x509 certificate or PKIX public key forms.
func parsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("data does not contain a pem block")
	}
	var rawKey interface{}
	var err error
	if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("data does not contain a valid public key or certificate")
		}
		rawKey = cert.PublicKey
	}

	switch key := rawKey.(type) {
	case *rsa.PublicKey:
		return key, nil
	case *ecdsa.PublicKey:
		return key, nil
	}
	return nil, fmt.Errorf("unsupported public key type %T", rawKey)
}
