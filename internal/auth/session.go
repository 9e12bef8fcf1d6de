package auth

import (
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	oauthStateName   = "calsync_oauth_state"
	oauthStateMaxAge = 600 // 10 minutes
	nonceKey         = "nonce"
)

var (
	ErrInvalidSession = errors.New("invalid session data")
)

// SessionManager keeps the OAuth nonce in a short-lived signed cookie so the
// callback can confirm it returns to the browser that started the flow.
type SessionManager struct {
	store  *sessions.CookieStore
	secure bool
}

// NewSessionManager creates a new session manager.
func NewSessionManager(secret string, secure bool) *SessionManager {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionManager{
		store:  store,
		secure: secure,
	}
}

// SetOAuthState binds nonce to the browser that starts authorization.
// A flow started again replaces any earlier nonce.
func (sm *SessionManager) SetOAuthState(w http.ResponseWriter, r *http.Request, nonce string) error {
	// New ignores decode errors from a stale or forged cookie and starts empty.
	session, _ := sm.store.New(r, oauthStateName)
	session.Values[nonceKey] = nonce
	session.Options.MaxAge = oauthStateMaxAge

	return session.Save(r, w)
}

// GetOAuthState retrieves and clears the OAuth nonce.
func (sm *SessionManager) GetOAuthState(w http.ResponseWriter, r *http.Request) (string, error) {
	session, err := sm.store.Get(r, oauthStateName)
	if err != nil {
		return "", err
	}

	nonce, ok := session.Values[nonceKey].(string)
	if !ok || nonce == "" {
		return "", ErrInvalidSession
	}

	// Single use.
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return "", err
	}

	return nonce, nil
}
