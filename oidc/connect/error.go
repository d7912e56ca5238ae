package connect

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrSession is returned when a callback or bounce-back arrives for a
	// session with no in-flight authorization transaction. A missing
	// transaction means a forged, replayed or expired detour and is never
	// silently recovered: there is no trustworthy redirect target to guess.
	ErrSession = errors.New("no authorization transaction for session")
)
