package connect

import (
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
// Valid for: NewFlow
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*flowOptions); ok {
			v.withLogger = l
		}
	}
}

// WithAuthorizeEndpoint overrides the authorize URL failure redirects are
// rebuilt against.
//
// Valid for: NewFlow (default DefaultAuthorizeEndpoint)
func WithAuthorizeEndpoint(endpoint string) Option {
	return func(o interface{}) {
		if v, ok := o.(*flowOptions); ok {
			v.withAuthorizeEndpoint = endpoint
		}
	}
}
