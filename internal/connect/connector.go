package connect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/quadhls/calsync/internal/calendar"
	"github.com/quadhls/calsync/internal/google"
)

const defaultReturnPath = "/calendar"

// Redirect error codes understood by the frontend.
const (
	CodeNoCode        = "no_code"
	CodeInvalidState  = "invalid_state"
	CodeExchange      = "token_exchange_failed"
	CodeMissingTokens = "missing_tokens"
	CodeDatabase      = "database_error"
)

var ErrMissingTokens = errors.New("token response missing access or refresh token")

// OAuthProvider builds consent URLs and redeems authorization codes.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*google.Token, error)
}

// CredentialWriter persists the outcome of a successful authorization.
type CredentialWriter interface {
	SaveCredential(ctx context.Context, cred *calendar.Credential) error
	MarkConnected(ctx context.Context, userID string, at time.Time) error
}

// Connector runs the two halves of the authorization flow.
type Connector struct {
	oauth       OAuthProvider
	store       CredentialWriter
	frontendURL string
	now         func() time.Time
}

// NewConnector creates a connector that redirects back to frontendURL.
func NewConnector(oauth OAuthProvider, store CredentialWriter, frontendURL string) *Connector {
	return &Connector{
		oauth:       oauth,
		store:       store,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
		now:         time.Now,
	}
}

// StartResult is returned to the caller that begins authorization.
type StartResult struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
	Nonce   string `json:"-"`
}

// Start builds the consent URL for userID. Nothing is persisted.
func (c *Connector) Start(userID, returnTo string) (*StartResult, error) {
	state, err := NewState(userID, returnTo)
	if err != nil {
		return nil, err
	}

	encoded := EncodeState(state)
	return &StartResult{
		AuthURL: c.oauth.AuthCodeURL(encoded),
		State:   encoded,
		Nonce:   state.Nonce,
	}, nil
}

// CallbackParams are the inputs of the provider redirect.
type CallbackParams struct {
	Code  string
	State string
	Error string
	// Nonce is the value remembered by the browser session, if any.
	Nonce string
}

// Complete finishes authorization and returns the frontend URL to redirect to.
// A redirect URL is returned even on failure; the error is for logging.
func (c *Connector) Complete(ctx context.Context, p CallbackParams) (string, error) {
	if p.Error != "" {
		return c.redirect("", "error", p.Error), fmt.Errorf("provider returned error: %s", p.Error)
	}

	if p.Code == "" {
		return c.redirect("", "error", CodeNoCode), fmt.Errorf("%w: missing code", calendar.ErrAuthorizationExchangeFailed)
	}

	state, err := ParseState(p.State)
	if err != nil {
		return c.redirect("", "error", CodeInvalidState), err
	}
	if p.Nonce != "" && p.Nonce != state.Nonce {
		return c.redirect("", "error", CodeInvalidState), fmt.Errorf("%w: nonce mismatch", calendar.ErrInvalidState)
	}

	// Codes are single-use, so the exchange is attempted exactly once.
	tok, err := c.oauth.Exchange(ctx, p.Code)
	if err != nil {
		return c.redirect(state.ReturnTo, "error", CodeExchange), err
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return c.redirect(state.ReturnTo, "error", CodeMissingTokens),
			fmt.Errorf("%w: %w", calendar.ErrAuthorizationExchangeFailed, ErrMissingTokens)
	}

	now := c.now().UTC()
	cred := &calendar.Credential{
		UserID:       state.UserID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        tok.Scope,
		TokenType:    tok.TokenType,
		UpdatedAt:    now,
	}
	if err := c.store.SaveCredential(ctx, cred); err != nil {
		return c.redirect(state.ReturnTo, "error", CodeDatabase), fmt.Errorf("%w: %w", calendar.ErrPersistenceFailure, err)
	}

	if err := c.store.MarkConnected(ctx, state.UserID, now); err != nil {
		log.Printf("Failed to mark profile connected for user %s: %v", state.UserID, err)
	}

	log.Printf("Google Calendar connected for user %s", state.UserID)
	return c.redirect(state.ReturnTo, "connected", "true"), nil
}

func (c *Connector) redirect(returnTo, key, value string) string {
	if returnTo == "" {
		returnTo = defaultReturnPath
	}

	target := c.frontendURL + returnTo
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + url.Values{key: {value}}.Encode()
}
