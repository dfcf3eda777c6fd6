package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientIPForRateLimit(t *testing.T) {
	cases := []struct {
		forwarded string
		remote    string
		want      string
	}{
		{forwarded: "203.0.113.1", remote: "198.51.100.10:1234", want: "203.0.113.1"},
		{forwarded: "garbage, 203.0.113.7 ", remote: "198.51.100.10:1234", want: "203.0.113.7"},
		{forwarded: "garbage", remote: "198.51.100.10:1234", want: "198.51.100.10"},
		{remote: "[2001:db8::2]:443", want: "2001:db8::2"},
		{forwarded: "2001:db8::1", remote: "[2001:db8::2]:443", want: "2001:db8::1"},
		{remote: "203.0.113.1", want: "203.0.113.1"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
		req.RemoteAddr = tc.remote
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if got := clientIPForRateLimit(req); got != tc.want {
			t.Fatalf("clientIPForRateLimit(%q, %q) = %q, want %q", tc.forwarded, tc.remote, got, tc.want)
		}
	}
}

func TestRateLimitPerClient(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	hit := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := hit("198.51.100.10:1234"); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d status = %d, want %d", i, rec.Code, http.StatusAccepted)
		}
	}
	rec := hit("198.51.100.10:5678")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("Retry-After = %q, want %q", got, "30")
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "rate_limited" {
		t.Fatalf("code = %q, want rate_limited", body["code"])
	}

	if rec := hit("198.51.100.11:1234"); rec.Code != http.StatusAccepted {
		t.Fatalf("other client status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	calls := 0
	h := RateLimit(0, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	for i := 0; i < 5; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}
}
