package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
)

const (
	testIssuer   = "https://project.supabase.co/auth/v1"
	testAudience = "authenticated"
	testKeyID    = "test-key"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testIDP struct {
	key    *rsa.PrivateKey
	server *httptest.Server
}

func newTestIDP(t *testing.T) *testIDP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	jwks := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     testKeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)

	return &testIDP{key: key, server: server}
}

func (idp *testIDP) sign(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", testKeyID),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	raw, err := jws.CompactSerialize()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	return raw
}

func validClaims() map[string]any {
	now := time.Now()
	return map[string]any{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   "user-123",
		"email": "student@wisc.edu",
		"role":  "authenticated",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func TestVerifier(t *testing.T) {
	idp := newTestIDP(t)
	ctx := context.Background()

	v, err := NewVerifier(ctx, testIssuer, idp.server.URL, testAudience)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	t.Run("valid token", func(t *testing.T) {
		identity, err := v.Verify(ctx, idp.sign(t, idp.key, validClaims()))
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if identity.UserID != "user-123" || identity.Email != "student@wisc.edu" {
			t.Errorf("unexpected identity: %+v", identity)
		}
	})

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	tests := []struct {
		name   string
		key    *rsa.PrivateKey
		mutate func(map[string]any)
		want   error
	}{
		{"expired", idp.key, func(c map[string]any) { c["exp"] = time.Now().Add(-time.Hour).Unix() }, ErrTokenVerify},
		{"wrong audience", idp.key, func(c map[string]any) { c["aud"] = "anon" }, ErrTokenVerify},
		{"wrong issuer", idp.key, func(c map[string]any) { c["iss"] = "https://evil.example.com" }, ErrTokenVerify},
		{"foreign signature", other, func(c map[string]any) {}, ErrTokenVerify},
		{"missing subject", idp.key, func(c map[string]any) { delete(c, "sub") }, ErrMissingSub},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)
			_, err := v.Verify(ctx, idp.sign(t, tt.key, claims))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("garbage", func(t *testing.T) {
		if _, err := v.Verify(ctx, "not.a.jwt"); !errors.Is(err, ErrTokenVerify) {
			t.Errorf("expected ErrTokenVerify, got %v", err)
		}
		if _, err := v.Verify(ctx, ""); !errors.Is(err, ErrTokenVerify) {
			t.Errorf("expected ErrTokenVerify, got %v", err)
		}
	})
}

func TestNewVerifierRequiresIssuer(t *testing.T) {
	if _, err := NewVerifier(context.Background(), "", "https://example.com/jwks", testAudience); !errors.Is(err, ErrOIDCInit) {
		t.Errorf("expected ErrOIDCInit, got %v", err)
	}
}

type stubVerifier struct {
	identity *Identity
	err      error
	got      string
}

func (s *stubVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	s.got = raw
	return s.identity, s.err
}

func TestRequireIdentity(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		verifier   *stubVerifier
		wantStatus int
		wantToken  string
	}{
		{"valid", "Bearer tok-1", &stubVerifier{identity: &Identity{UserID: "u1"}}, http.StatusOK, "tok-1"},
		{"lowercase scheme", "bearer tok-2", &stubVerifier{identity: &Identity{UserID: "u1"}}, http.StatusOK, "tok-2"},
		{"missing header", "", &stubVerifier{}, http.StatusUnauthorized, ""},
		{"basic scheme", "Basic dXNlcjpwdw==", &stubVerifier{}, http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", &stubVerifier{}, http.StatusUnauthorized, ""},
		{"rejected", "Bearer bad", &stubVerifier{err: ErrTokenVerify}, http.StatusUnauthorized, "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			var seen *Identity
			router.GET("/api/test", RequireIdentity(tt.verifier), func(c *gin.Context) {
				seen = GetIdentity(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.verifier.got != tt.wantToken {
				t.Errorf("verifier saw %q, want %q", tt.verifier.got, tt.wantToken)
			}
			if tt.wantStatus == http.StatusOK && (seen == nil || seen.UserID != "u1") {
				t.Errorf("identity not set: %+v", seen)
			}
		})
	}
}

func TestGetIdentityMissing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if GetIdentity(c) != nil {
		t.Error("expected nil identity")
	}
	c.Set(ContextKeyIdentity, "not an identity")
	if GetIdentity(c) != nil {
		t.Error("expected nil for wrong type")
	}
}

func TestOAuthStateCookie(t *testing.T) {
	sm := NewSessionManager("0123456789abcdef0123456789abcdef", false)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/google/authorize-start", nil)
	if err := sm.SetOAuthState(w, r, "nonce-1"); err != nil {
		t.Fatalf("SetOAuthState failed: %v", err)
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a state cookie")
	}
	if !cookies[0].HttpOnly {
		t.Error("state cookie must be HttpOnly")
	}

	callback := httptest.NewRequest(http.MethodGet, "/api/google/authorize-callback", nil)
	for _, c := range cookies {
		callback.AddCookie(c)
	}

	w2 := httptest.NewRecorder()
	nonce, err := sm.GetOAuthState(w2, callback)
	if err != nil {
		t.Fatalf("GetOAuthState failed: %v", err)
	}
	if nonce != "nonce-1" {
		t.Errorf("nonce = %q", nonce)
	}

	cleared := false
	for _, c := range w2.Result().Cookies() {
		if c.Name == oauthStateName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("state cookie should be cleared after use")
	}

	t.Run("absent cookie", func(t *testing.T) {
		_, err := sm.GetOAuthState(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		if !errors.Is(err, ErrInvalidSession) {
			t.Errorf("expected ErrInvalidSession, got %v", err)
		}
	})

	t.Run("forged cookie", func(t *testing.T) {
		other := NewSessionManager("ffffffffffffffffffffffffffffffff", false)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		if _, err := other.GetOAuthState(httptest.NewRecorder(), req); err == nil {
			t.Error("expected error for cookie signed with another secret")
		}
	})
}
