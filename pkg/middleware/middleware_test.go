package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iammrherb/labdabbler/pkg/config"
)

func authConfig(enabled bool) *config.AuthenticationConfig {
	return &config.AuthenticationConfig{
		Enabled: enabled,
		JWTConfig: config.JWTConfig{
			SecretKey:      "test-secret-key",
			Issuer:         "labdabbler",
			ExpiryDuration: time.Hour,
		},
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(authConfig(false))
	handler := auth.Middleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/labs", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected pass-through, got %d", rec.Code)
	}
}

func TestAuthRejectsMissingAndMalformedHeaders(t *testing.T) {
	auth := NewAuthenticator(authConfig(true))
	handler := auth.Middleware(okHandler())

	cases := map[string]string{
		"missing":    "",
		"not bearer": "Basic dXNlcjpwYXNz",
		"garbage":    "Bearer not.a.token",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/labs", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuthAcceptsIssuedToken(t *testing.T) {
	auth := NewAuthenticator(authConfig(true))

	token, err := auth.IssueToken("operator", []string{"admin"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	var gotSubject string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/labs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotSubject != "operator" {
		t.Errorf("expected subject operator, got %q", gotSubject)
	}
}

func TestAuthRejectsTokenSignedWithOtherKey(t *testing.T) {
	other := NewAuthenticator(&config.AuthenticationConfig{
		Enabled: true,
		JWTConfig: config.JWTConfig{
			SecretKey:      "different-secret",
			Issuer:         "labdabbler",
			ExpiryDuration: time.Hour,
		},
	})
	token, err := other.IssueToken("intruder", nil)
	if err != nil {
		t.Fatal(err)
	}

	auth := NewAuthenticator(authConfig(true))
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/labs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRateLimiterBlocksBursts(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{
		Enabled:      true,
		ClientLimit:  2,
		ClientWindow: time.Minute,
	})
	handler := rl.Middleware(okHandler())

	var limited int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/labs", nil)
		req.RemoteAddr = "10.0.0.1:54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 3 {
		t.Errorf("expected 3 of 5 requests limited, got %d", limited)
	}

	// A different client gets its own budget.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/labs", nil)
	req.RemoteAddr = "10.0.0.2:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("independent client should not be limited, got %d", rec.Code)
	}
}

func TestRateLimiterDisabledPassesThrough(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: false})
	handler := rl.Middleware(okHandler())

	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected pass-through, got %d", rec.Code)
		}
	}
}
