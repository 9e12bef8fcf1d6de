package calendar

import "errors"

// Error kinds shared by the authorization flow and the sync engine.
// Callers classify failures with errors.Is against these values.
var (
	ErrUnauthorized                = errors.New("unauthorized")
	ErrInvalidState                = errors.New("invalid authorization state")
	ErrAuthorizationExchangeFailed = errors.New("authorization code exchange failed")
	ErrReauthorizationRequired     = errors.New("reauthorization required")
	ErrCursorExpired               = errors.New("sync cursor expired")
	ErrUpstreamUnavailable         = errors.New("calendar provider unavailable")
	ErrPersistenceFailure          = errors.New("failed to persist sync result")
	ErrNotConnected                = errors.New("calendar not connected")
)

// Code returns the stable machine-readable code for an error kind.
// Unknown errors map to "internal_error".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAuthorizationExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, ErrReauthorizationRequired):
		return "reauthorization_required"
	case errors.Is(err, ErrCursorExpired):
		return "cursor_expired"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	default:
		return "internal_error"
	}
}
