package shield

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(DefaultHeaders())(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for k, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	// WHAT: the third POST /analyze within the window is refused, other routes pass.
	// WHY: one analysis fans out to dozens of fetches and two model calls.
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(map[string]Rule{"POST /analyze": {Max: 2, Window: time.Minute}})
	rl.now = func() time.Time { return now }
	h := rl.Middleware(ok)

	do := func(method, path, ip string) int {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i, want := range []int{200, 200, 429} {
		if got := do(http.MethodPost, "/analyze", "1.1.1.1"); got != want {
			t.Fatalf("request %d: code %d, want %d", i, got, want)
		}
	}
	if got := do(http.MethodPost, "/analyze", "2.2.2.2"); got != 200 {
		t.Errorf("other client: code %d", got)
	}
	if got := do(http.MethodGet, "/healthz", "1.1.1.1"); got != 200 {
		t.Errorf("unlimited route: code %d", got)
	}
	now = now.Add(61 * time.Second)
	if got := do(http.MethodPost, "/analyze", "1.1.1.1"); got != 200 {
		t.Errorf("after window: code %d", got)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4411"
	if got := ExtractIP(req); got != "192.0.2.7" {
		t.Errorf("remote addr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.9" {
		t.Errorf("xff: got %q", got)
	}
}
