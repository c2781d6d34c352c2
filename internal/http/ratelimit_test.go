package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(60, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d rejected inside the burst", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond the burst was allowed")
	}
	// Other clients have their own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("independent client was rejected")
	}
}

func TestRateLimiter_DisabledAlwaysAllows(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	for i := 0; i < 50; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/tasks", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", w.Code)
	}
	if got := decode[AppError](t, w); got.ErrorCode != "RATE_429" {
		t.Errorf("error_code = %q, want RATE_429", got.ErrorCode)
	}
}
