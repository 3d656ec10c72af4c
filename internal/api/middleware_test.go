package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/personaliz/personaliz-server/internal/logging"
)

type fakeStore struct {
	token string
	err   error
}

func (f fakeStore) GetConfig(_ context.Context, key string) (string, error) {
	if key != AuthTokenKey {
		return "", nil
	}
	return f.token, f.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		store  fakeStore
		header string
		want   int
	}{
		{"missing header", fakeStore{token: "secret"}, "", http.StatusUnauthorized},
		{"wrong scheme", fakeStore{token: "secret"}, "Basic secret", http.StatusUnauthorized},
		{"wrong token", fakeStore{token: "secret"}, "Bearer nope", http.StatusUnauthorized},
		{"valid token", fakeStore{token: "secret"}, "Bearer secret", http.StatusOK},
		{"no stored token", fakeStore{}, "Bearer secret", http.StatusInternalServerError},
		{"store error", fakeStore{err: errors.New("db closed")}, "Bearer secret", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := AuthMiddleware(tt.store, logging.Discard())(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(logging.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 8 || rr.Header().Get("X-Request-ID") != seen {
		t.Errorf("generated id = %q, header = %q", seen, rr.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "upstream-1" {
		t.Errorf("propagated id = %q", seen)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(2)(okHandler())
	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/api/videos", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes[i] = rr.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	other := httptest.NewRequest(http.MethodPost, "/api/videos", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, other)
	if rr.Code != http.StatusOK {
		t.Errorf("other client status = %d", rr.Code)
	}
}
