package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quadhls/calsync/internal/calendar"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

const defaultTimeout = 15 * time.Second

// Token is the credential pair returned by the token endpoint.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
	TokenType    string
}

// OAuthClient talks to the Google OAuth consent and token endpoints.
type OAuthClient struct {
	config     oauth2.Config
	httpClient *http.Client
}

// OAuthOption configures an OAuthClient.
type OAuthOption func(*OAuthClient)

// WithEndpoint overrides the provider's auth and token URLs.
func WithEndpoint(authURL, tokenURL string) OAuthOption {
	return func(c *OAuthClient) {
		c.config.Endpoint = oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
}

// WithOAuthHTTPClient sets the HTTP client used for token endpoint calls.
func WithOAuthHTTPClient(hc *http.Client) OAuthOption {
	return func(c *OAuthClient) {
		c.httpClient = hc
	}
}

// NewOAuthClient creates a client requesting read-only calendar access.
func NewOAuthClient(clientID, clientSecret, redirectURL string, opts ...OAuthOption) *OAuthClient {
	c := &OAuthClient{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     googleoauth.Endpoint,
			Scopes:       []string{gcal.CalendarReadonlyScope},
		},
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// AuthCodeURL returns the consent URL. Offline access and a forced consent
// prompt guarantee that the exchange yields a refresh token.
func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades a single-use authorization code for a credential pair.
// It is never retried: a second attempt with the same code cannot succeed.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := c.config.Exchange(c.withClient(ctx), code)
	if err != nil {
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %w", calendar.ErrAuthorizationExchangeFailed, err)
		}
		return nil, fmt.Errorf("%w: token endpoint: %w", calendar.ErrUpstreamUnavailable, err)
	}
	return fromOAuth2(tok), nil
}

// Refresh obtains a new access token. The refresh token itself is kept
// unless the provider rotates it.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := c.config.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %w", calendar.ErrReauthorizationRequired, err)
		}
		return nil, fmt.Errorf("%w: token refresh: %w", calendar.ErrUpstreamUnavailable, err)
	}

	out := fromOAuth2(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func (c *OAuthClient) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// isRejected reports whether the token endpoint refused the grant itself,
// as opposed to failing for transport or server reasons.
func isRejected(err error) bool {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return false
	}
	if rErr.ErrorCode == "invalid_grant" || rErr.ErrorCode == "invalid_request" || rErr.ErrorCode == "unauthorized_client" {
		return true
	}
	if rErr.Response == nil {
		return false
	}
	code := rErr.Response.StatusCode
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func fromOAuth2(tok *oauth2.Token) *Token {
	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry.UTC(),
		TokenType:    tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	if out.TokenType == "" {
		out.TokenType = "Bearer"
	}
	return out
}
