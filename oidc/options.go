package oidc

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger.
//
// Valid for: TokenService, MemoryTransactionStore
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenServiceOptions:
			v.withLogger = l
		case *memoryStoreOptions:
			v.withLogger = l
		}
	}
}

// WithNotBeforeWindow provides an optional not-before grace window applied at
// signing time: a freshly minted token is not valid until the window has
// elapsed, which mitigates clock-skew replay immediately after issuance.
//
// Valid for: TokenService (default one minute)
func WithNotBeforeWindow(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*tokenServiceOptions); ok {
			v.withNotBeforeWindow = d
		}
	}
}

// WithValidationTime provides an optional time to verify a token against,
// instead of the wall clock.
//
// Valid for: TokenService.Verify
func WithValidationTime(t time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*verifyOptions); ok {
			v.withValidationTime = t
		}
	}
}

// WithTTL provides an optional entry lifetime for a transaction store. Once a
// stored AuthorizationRequest is older than the TTL the transaction is
// treated as expired and no longer authoritative.
//
// Valid for: MemoryTransactionStore
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*memoryStoreOptions); ok {
			v.withTTL = d
		}
	}
}
