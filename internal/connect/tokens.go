package connect

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quadhls/calsync/internal/calendar"
	"github.com/quadhls/calsync/internal/google"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how close to expiry a token may get before it is refreshed.
const DefaultRefreshMargin = 5 * time.Minute

// CredentialStore reads and updates stored credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*calendar.Credential, error)
	UpdateAccessToken(ctx context.Context, userID, accessToken string, expiry time.Time) error
}

// Refresher trades a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*google.Token, error)
}

// TokenManager hands out valid access tokens, refreshing them when needed.
// Tokens are never cached in memory; the store is read on every call.
type TokenManager struct {
	store     CredentialStore
	refresher Refresher
	margin    time.Duration
	now       func() time.Time

	// refreshes collapses concurrent refreshes for one user into one call.
	refreshes singleflight.Group
}

// NewTokenManager creates a token manager. A non-positive margin uses DefaultRefreshMargin.
func NewTokenManager(store CredentialStore, refresher Refresher, margin time.Duration) *TokenManager {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &TokenManager{
		store:     store,
		refresher: refresher,
		margin:    margin,
		now:       time.Now,
	}
}

// AccessToken returns a token for userID that stays valid for at least the
// refresh margin. A revoked refresh token yields ErrReauthorizationRequired
// and is not retried.
func (m *TokenManager) AccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	if !cred.ExpiresWithin(m.margin, m.now()) {
		return cred.AccessToken, nil
	}

	v, err, _ := m.refreshes.Do(userID, func() (any, error) {
		return m.refresh(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) refresh(ctx context.Context, userID string) (string, error) {
	// Re-read inside the flight: a refresh that finished just before this one
	// started has already stored a usable token.
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	if !cred.ExpiresWithin(m.margin, m.now()) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token on record", calendar.ErrReauthorizationRequired)
	}

	tok, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		log.Printf("Token refresh failed for user %s: %v", userID, err)
		return "", err
	}

	if err := m.store.UpdateAccessToken(ctx, userID, tok.AccessToken, tok.Expiry); err != nil {
		return "", fmt.Errorf("%w: failed to store refreshed token: %w", calendar.ErrPersistenceFailure, err)
	}

	return tok.AccessToken, nil
}
