package connect

import (
	"fmt"
	"net/http"

	"github.com/coralproject/coral-auth/sdk/id"
)

// SessionCookieName is the cookie carrying the browser session key.
const SessionCookieName = "coral_auth_session"

// SessionContext identifies one browser session. It is an explicit value
// owned by the caller and passed into every Flow call; the engine never
// reaches into ambient request state for it.
type SessionContext struct {
	Key string
}

// NewSessionContext creates a session with a fresh opaque key.
func NewSessionContext() (SessionContext, error) {
	const op = "connect.NewSessionContext"
	key, err := id.New("s")
	if err != nil {
		return SessionContext{}, fmt.Errorf("%s: %w", op, err)
	}
	return SessionContext{Key: key}, nil
}

// SessionFromRequest extracts the session from the request's cookie.
func SessionFromRequest(r *http.Request) (SessionContext, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return SessionContext{}, false
	}
	return SessionContext{Key: c.Value}, true
}

// WriteSessionCookie sets the session cookie on the response.
func WriteSessionCookie(w http.ResponseWriter, sess SessionContext, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.Key,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// EnsureSession returns the request's session, creating one and setting its
// cookie when the request carries none.
func EnsureSession(w http.ResponseWriter, r *http.Request, secure bool) (SessionContext, error) {
	if sess, ok := SessionFromRequest(r); ok {
		return sess, nil
	}
	sess, err := NewSessionContext()
	if err != nil {
		return SessionContext{}, err
	}
	WriteSessionCookie(w, sess, secure)
	return sess, nil
}
