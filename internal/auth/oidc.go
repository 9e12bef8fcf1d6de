package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

var (
	ErrOIDCInit    = errors.New("OIDC initialization failed")
	ErrTokenVerify = errors.New("token verification failed")
	ErrMissingSub  = errors.New("subject claim is required")
)

// Identity is the verified caller behind a request.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// Claims are the fields read from an access token.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

// TokenVerifier verifies a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// Verifier checks bearer JWTs issued by the identity provider.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a verifier for tokens from issuer with the given audience.
// When jwksURL is empty the key set is located through OIDC discovery.
// ctx must outlive the verifier; it is used for background key fetches.
func NewVerifier(ctx context.Context, issuer, jwksURL, audience string) (*Verifier, error) {
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrOIDCInit)
	}

	config := &oidc.Config{
		ClientID:             audience,
		SkipClientIDCheck:    audience == "",
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
	}

	if jwksURL != "" {
		keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
		return &Verifier{verifier: oidc.NewVerifier(issuer, keySet, config)}, nil
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create provider: %w", ErrOIDCInit, err)
	}
	return &Verifier{verifier: provider.Verifier(config)}, nil
}

// Verify checks the token signature, issuer, audience and expiry and returns
// the identity it carries.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenVerify)
	}

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenVerify, err)
	}

	var claims Claims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %w", ErrTokenVerify, err)
	}

	if claims.Subject == "" {
		return nil, ErrMissingSub
	}

	return &Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
