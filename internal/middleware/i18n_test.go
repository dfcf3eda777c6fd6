package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newLocaleRequest(target string, headers map[string]string) *http.Request {
	if target == "" {
		target = "/api/analyze"
	}
	req := httptest.NewRequest(http.MethodPost, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestDetectLocale(t *testing.T) {
	cases := []struct {
		name     string
		target   string
		headers  map[string]string
		country  string
		fallback string
		want     string
	}{
		{name: "query beats header", target: "/api/analyze?locale=de", headers: map[string]string{"X-Locale": "fr"}, want: "de"},
		{name: "unsupported query falls through", target: "/api/analyze?locale=sw", headers: map[string]string{"X-Locale": "it"}, want: "it"},
		{name: "x-locale beats country", headers: map[string]string{"X-Locale": "ID"}, country: "JP", want: "id"},
		{name: "accept-language region variant", headers: map[string]string{"Accept-Language": "pt-BR,pt;q=0.9,en;q=0.5"}, want: "pt"},
		{name: "accept-language honours quality", headers: map[string]string{"Accept-Language": "en;q=0.3,nl;q=0.9"}, want: "nl"},
		{name: "accept-language beats country", headers: map[string]string{"Accept-Language": "ko-KR"}, country: "FR", want: "ko"},
		{name: "country japan", country: "JP", want: "ja"},
		{name: "country indonesia", country: "ID", want: "id"},
		{name: "country with unsupported language", country: "KE", fallback: "es", want: "es"},
		{name: "configured fallback", fallback: "zh", want: "zh"},
		{name: "invalid fallback", fallback: "not a tag!", want: "en"},
		{name: "nothing known", want: "en"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := newLocaleRequest(tc.target, tc.headers)
			if got := detectLocale(req, tc.fallback, tc.country); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeLocale(t *testing.T) {
	cases := map[string]string{
		"de-AT":     "de",
		"EN-gb":     "en",
		"ja-JP-x-a": "ja",
		"zh-Hans":   "zh",
		" fr ":      "fr",
		"":          "",
		"%%":        "",
		"sw":        "",
		"ru":        "",
	}
	for in, want := range cases {
		if got := NormalizeLocale(in); got != want {
			t.Fatalf("NormalizeLocale(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCountryLocale(t *testing.T) {
	cases := map[string]string{
		"DE": "de",
		"ID": "id",
		"KE": "",
		"RU": "",
		"X":  "",
	}
	for in, want := range cases {
		if got := countryLocale(in); got != want {
			t.Fatalf("countryLocale(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveCountry(t *testing.T) {
	errLookup := errors.New("lookup failed")
	cases := []struct {
		name    string
		headers map[string]string
		lookup  CountryLookup
		want    string
	}{
		{
			name:    "cdn header wins",
			headers: map[string]string{"CF-IPCountry": "nl", "X-Locale": "de-AT"},
			want:    "NL",
		},
		{
			name:    "explicit header order",
			headers: map[string]string{"X-Appengine-Country": "br", "X-IP-Country": "pt"},
			want:    "PT",
		},
		{
			name:    "region from x-locale",
			headers: map[string]string{"X-Locale": "es-MX"},
			want:    "MX",
		},
		{
			name:    "region from accept-language",
			headers: map[string]string{"Accept-Language": "fr;q=0.8,en-CA;q=0.9"},
			want:    "CA",
		},
		{
			name:    "script is not a region",
			headers: map[string]string{"Accept-Language": "zh-Hans"},
			want:    "",
		},
		{
			name: "geoip lookup",
			lookup: func(ip string) (string, error) {
				if ip != "198.51.100.20" {
					return "", errLookup
				}
				return "kr", nil
			},
			want: "KR",
		},
		{
			name:   "lookup error",
			lookup: func(string) (string, error) { return "", errLookup },
			want:   "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := newLocaleRequest("", tc.headers)
			req.RemoteAddr = "198.51.100.20:4711"
			if got := ResolveCountry(req, tc.lookup); got != tc.want {
				t.Fatalf("ResolveCountry() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := newLocaleRequest("", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"})
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("ClientIP() = %q, want %q", got, "203.0.113.9")
	}
	req = newLocaleRequest("", nil)
	req.RemoteAddr = "192.0.2.1:80"
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Fatalf("ClientIP() = %q, want %q", got, "192.0.2.1")
	}
}

func TestI18NStoresLocaleAndCountry(t *testing.T) {
	var locale, country string
	h := I18N("en", func(string) (string, error) { return "de", nil })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))
	req := newLocaleRequest("", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)
	if locale != "de" || country != "DE" {
		t.Fatalf("locale, country = %q, %q; want de, DE", locale, country)
	}
}

func TestContextDefaults(t *testing.T) {
	ctx := context.Background()
	if got := LocaleFromContext(ctx); got != "en" {
		t.Fatalf("LocaleFromContext() = %q, want %q", got, "en")
	}
	if got := CountryFromContext(ctx); got != "" {
		t.Fatalf("CountryFromContext() = %q, want empty", got)
	}
	ctx = context.WithValue(ctx, LocaleKey, "ko")
	if got := LocaleFromContext(ctx); got != "ko" {
		t.Fatalf("LocaleFromContext() = %q, want %q", got, "ko")
	}
}
