package validator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateURL(t *testing.T) {
	v := New()

	tests := []struct {
		name         string
		url          string
		requireHTTPS bool
		wantErr      error
	}{
		{"https ok", "https://canvas.wisc.edu/feeds/calendars/user_abc.ics", true, nil},
		{"http ok when not required", "http://example.com", false, nil},
		{"empty", "", false, ErrInvalidURL},
		{"missing host", "https://", false, ErrInvalidURL},
		{"http when https required", "http://canvas.wisc.edu/x.ics", true, ErrHTTPSRequired},
		{"ftp scheme", "ftp://example.com/file", false, ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateURL(tt.url, tt.requireHTTPS)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateFeedURL(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"exact host", "https://canvas.wisc.edu/feeds/calendars/user_abc.ics", nil},
		{"subdomain", "https://uw.canvas.wisc.edu/feeds/calendars/user_abc.ics", nil},
		{"case insensitive", "https://Canvas.Wisc.EDU/feeds/x.ics", nil},
		{"other host", "https://evil.example.com/feeds/x.ics", ErrForeignHost},
		{"suffix trick", "https://notcanvas.wisc.edu.evil.com/x.ics", ErrForeignHost},
		{"lookalike", "https://evilcanvas.wisc.edu/x.ics", ErrForeignHost},
		{"plain http", "http://canvas.wisc.edu/x.ics", ErrHTTPSRequired},
		{"credentials", "https://user:pw@canvas.wisc.edu/x.ics", ErrInvalidURL},
		{"empty", "", ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateFeedURL(tt.url, "canvas.wisc.edu")
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("no configured host", func(t *testing.T) {
		if err := v.ValidateFeedURL("https://canvas.wisc.edu/x.ics", ""); !errors.Is(err, ErrForeignHost) {
			t.Errorf("expected ErrForeignHost, got %v", err)
		}
	})
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"2607:f8b0:4004:800::200e", false},
	}

	for _, tt := range tests {
		if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.private {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}

func TestClientBlocksLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	get := func(v *Validator) error {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		if err != nil {
			t.Fatalf("failed to build request: %v", err)
		}
		resp, err := v.Client().Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	t.Run("blocked by default", func(t *testing.T) {
		if err := get(New()); !errors.Is(err, ErrPrivateIP) {
			t.Errorf("expected private IP refusal, got %v", err)
		}
	})

	t.Run("allowed when opted in", func(t *testing.T) {
		if err := get(New(WithAllowPrivateIPs())); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
