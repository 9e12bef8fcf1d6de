package google

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/quadhls/calsync/internal/calendar"
)

func newTestOAuthClient(t *testing.T, handler http.HandlerFunc) *OAuthClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOAuthClient("client-id", "client-secret", "https://app.example.com/api/google/authorize-callback",
		WithEndpoint(srv.URL+"/auth", srv.URL+"/token"))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestAuthCodeURL(t *testing.T) {
	client := NewOAuthClient("client-id", "secret", "https://app.example.com/cb")

	raw := client.AuthCodeURL("user_id:u1|state:n1")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid consent URL: %v", err)
	}

	q := u.Query()
	checks := map[string]string{
		"client_id":     "client-id",
		"redirect_uri":  "https://app.example.com/cb",
		"response_type": "code",
		"scope":         "https://www.googleapis.com/auth/calendar.readonly",
		"access_type":   "offline",
		"prompt":        "consent",
		"state":         "user_id:u1|state:n1",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestExchange(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				t.Fatalf("failed to parse form: %v", err)
			}
			if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "code-1" {
				t.Errorf("unexpected form: %v", r.PostForm)
			}
			if r.PostForm.Get("client_secret") != "client-secret" {
				t.Error("expected client credentials in the form body")
			}
			writeJSON(w, http.StatusOK, `{"access_token":"at","refresh_token":"rt","expires_in":3600,"token_type":"Bearer","scope":"calendar.readonly"}`)
		})

		tok, err := client.Exchange(context.Background(), "code-1")
		if err != nil {
			t.Fatalf("Exchange failed: %v", err)
		}
		if tok.AccessToken != "at" || tok.RefreshToken != "rt" || tok.Scope != "calendar.readonly" {
			t.Errorf("unexpected token: %+v", tok)
		}
		if until := time.Until(tok.Expiry); until < 59*time.Minute || until > 61*time.Minute {
			t.Errorf("unexpected expiry %v", tok.Expiry)
		}
	})

	t.Run("reused code", func(t *testing.T) {
		var calls int
		client := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Bad Request"}`)
		})

		_, err := client.Exchange(context.Background(), "used")
		if !errors.Is(err, calendar.ErrAuthorizationExchangeFailed) {
			t.Errorf("expected exchange failure, got %v", err)
		}
		if calls != 1 {
			t.Errorf("exchange must not be retried, got %d calls", calls)
		}
	})

	t.Run("provider outage", func(t *testing.T) {
		client := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, `{}`)
		})

		_, err := client.Exchange(context.Background(), "code-1")
		if !errors.Is(err, calendar.ErrUpstreamUnavailable) {
			t.Errorf("expected upstream unavailable, got %v", err)
		}
	})
}

func TestRefresh(t *testing.T) {
	t.Run("keeps refresh token when not rotated", func(t *testing.T) {
		client := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rt" {
				t.Errorf("unexpected form: %v", r.PostForm)
			}
			writeJSON(w, http.StatusOK, `{"access_token":"fresh","expires_in":3599,"token_type":"Bearer"}`)
		})

		tok, err := client.Refresh(context.Background(), "rt")
		if err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if tok.AccessToken != "fresh" || tok.RefreshToken != "rt" {
			t.Errorf("unexpected token: %+v", tok)
		}
	})

	t.Run("revoked refresh token", func(t *testing.T) {
		client := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
		})

		_, err := client.Refresh(context.Background(), "dead")
		if !errors.Is(err, calendar.ErrReauthorizationRequired) {
			t.Errorf("expected reauthorization required, got %v", err)
		}
		if errors.Is(err, calendar.ErrUpstreamUnavailable) {
			t.Error("revoked token must not look like an outage")
		}
	})

	t.Run("server error", func(t *testing.T) {
		client := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, `{}`)
		})

		_, err := client.Refresh(context.Background(), "rt")
		if !errors.Is(err, calendar.ErrUpstreamUnavailable) {
			t.Errorf("expected upstream unavailable, got %v", err)
		}
	})
}
