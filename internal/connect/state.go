// Package connect implements the Google authorization flow and keeps the
// stored access token valid.
package connect

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/quadhls/calsync/internal/calendar"
)

const (
	segmentSep = "|"
	keySep     = ":"

	keyUserID   = "user_id"
	keyNonce    = "state"
	keyReturnTo = "ret"
)

// State is the payload carried through the provider's state parameter.
type State struct {
	UserID   string
	Nonce    string
	ReturnTo string
}

// NewState creates a state for userID with a fresh random nonce.
func NewState(userID, returnTo string) (State, error) {
	if userID == "" {
		return State{}, calendar.ErrUnauthorized
	}
	if strings.ContainsAny(userID, segmentSep+keySep) {
		return State{}, fmt.Errorf("%w: user id contains a reserved character", calendar.ErrInvalidState)
	}
	if !IsSafeReturnPath(returnTo) {
		returnTo = ""
	}
	return State{UserID: userID, Nonce: uuid.NewString(), ReturnTo: returnTo}, nil
}

// EncodeState packs s as user_id:<id>|state:<nonce>, with an optional
// |ret:<base64 path> segment.
func EncodeState(s State) string {
	var b strings.Builder
	b.WriteString(keyUserID + keySep + s.UserID)
	b.WriteString(segmentSep + keyNonce + keySep + s.Nonce)
	if s.ReturnTo != "" {
		b.WriteString(segmentSep + keyReturnTo + keySep)
		b.WriteString(base64.RawURLEncoding.EncodeToString([]byte(s.ReturnTo)))
	}
	return b.String()
}

// ParseState reverses EncodeState. A state without a user id or nonce, or with
// unknown or repeated segments, is rejected with ErrInvalidState.
func ParseState(raw string) (State, error) {
	var s State
	if raw == "" {
		return s, fmt.Errorf("%w: empty state", calendar.ErrInvalidState)
	}

	seen := make(map[string]bool)
	for _, segment := range strings.Split(raw, segmentSep) {
		key, value, ok := strings.Cut(segment, keySep)
		if !ok || value == "" {
			return State{}, fmt.Errorf("%w: malformed segment", calendar.ErrInvalidState)
		}
		if seen[key] {
			return State{}, fmt.Errorf("%w: repeated segment %q", calendar.ErrInvalidState, key)
		}
		seen[key] = true

		switch key {
		case keyUserID:
			s.UserID = value
		case keyNonce:
			s.Nonce = value
		case keyReturnTo:
			decoded, err := base64.RawURLEncoding.DecodeString(value)
			if err != nil {
				return State{}, fmt.Errorf("%w: bad return path: %w", calendar.ErrInvalidState, err)
			}
			s.ReturnTo = string(decoded)
		default:
			return State{}, fmt.Errorf("%w: unknown segment %q", calendar.ErrInvalidState, key)
		}
	}

	if s.UserID == "" || s.Nonce == "" {
		return State{}, fmt.Errorf("%w: missing user id or nonce", calendar.ErrInvalidState)
	}
	if !IsSafeReturnPath(s.ReturnTo) {
		s.ReturnTo = ""
	}
	return s, nil
}

// IsSafeReturnPath reports whether p is a same-origin path that is safe to
// redirect to after authorization.
func IsSafeReturnPath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") {
		return false
	}
	// Protocol-relative URLs (//evil.com)
	if strings.HasPrefix(p, "//") {
		return false
	}
	if strings.Contains(strings.ToLower(p), "%2f%2f") {
		return false
	}
	if strings.Contains(p, "\\") {
		return false
	}
	return true
}
