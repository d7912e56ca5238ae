package authn

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
		if o == nil {
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger.
//
// Valid for: NewLocal, NewFederated
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *localOptions:
			v.withLogger = l
		case *federatedOptions:
			v.withLogger = l
		}
	}
}

// WithTimeout bounds every outbound call a federated variant makes to its
// provider. A provider outage surfaces as ErrProviderError instead of
// hanging the flow.
//
// Valid for: NewFederated (default DefaultProviderTimeout)
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*federatedOptions); ok {
			v.withTimeout = d
		}
	}
}

// WithProviderCA provides an optional CA certificate PEM to trust when
// talking to a federated provider.
//
// Valid for: NewFederated
func WithProviderCA(pem string) Option {
	return func(o interface{}) {
		if v, ok := o.(*federatedOptions); ok {
			v.withProviderCA = pem
		}
	}
}
