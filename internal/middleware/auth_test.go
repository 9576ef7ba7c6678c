package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate hash: %v", err)
	}
	return string(hash)
}

func TestAPIKeyDisabledPassesThrough(t *testing.T) {
	handler := APIKey("", false)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyMissing(t *testing.T) {
	handler := APIKey(testHash(t, "secret"), true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAPIKeyInvalid(t *testing.T) {
	handler := APIKey(testHash(t, "secret"), true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", http.NoBody)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAPIKeyValid(t *testing.T) {
	handler := APIKey(testHash(t, "secret"), true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", http.NoBody)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyHealthExempt(t *testing.T) {
	handler := APIKey(testHash(t, "secret"), true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyWebSocketQueryParam(t *testing.T) {
	handler := APIKey(testHash(t, "secret"), true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/ws?api_key=secret", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
