package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"nexvmeta/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeDataURL(t *testing.T) {
	raw := pngBytes(t, 2, 2)
	enc := base64.StdEncoding.EncodeToString(raw)
	tests := []struct {
		name     string
		in       string
		wantMIME string
	}{
		{name: "png prefix", in: "data:image/png;base64," + enc, wantMIME: "image/png"},
		{name: "webp prefix", in: "data:image/webp;base64," + enc, wantMIME: "image/webp"},
		{name: "bare base64", in: enc, wantMIME: "image/png"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, mimeType, err := DecodeDataURL(tc.in)
			if err != nil {
				t.Fatalf("DecodeDataURL error: %v", err)
			}
			if !bytes.Equal(data, raw) {
				t.Fatalf("decoded bytes differ")
			}
			if mimeType != tc.wantMIME {
				t.Fatalf("mime = %q, want %q", mimeType, tc.wantMIME)
			}
		})
	}
}

func TestDecodeDataURLRejects(t *testing.T) {
	for _, in := range []string{"", "data:text/plain;base64,aGVsbG8=", "!!!not base64", base64.StdEncoding.EncodeToString([]byte("hello world"))} {
		if _, _, err := DecodeDataURL(in); !errors.Is(err, domain.ErrInvalidImage) {
			t.Fatalf("DecodeDataURL(%q) error = %v, want ErrInvalidImage", in, err)
		}
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in     string
		w, h   int
		hasErr bool
	}{
		{in: "4K", w: 4096, h: 4096},
		{in: "2k", w: 2048, h: 2048},
		{in: "1920x1080", w: 1920, h: 1080},
		{in: "9000x10", hasErr: true},
		{in: "big", hasErr: true},
	}
	for _, tc := range tests {
		w, h, err := ParseResolution(tc.in)
		if (err != nil) != tc.hasErr || w != tc.w || h != tc.h {
			t.Fatalf("ParseResolution(%q) = %d, %d, %v", tc.in, w, h, err)
		}
	}
}

func TestUpscaleKeepsAspectRatio(t *testing.T) {
	out, err := Upscale(pngBytes(t, 40, 20), "200x200")
	if err != nil {
		t.Fatalf("Upscale error: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if cfg.Width != 200 || cfg.Height != 100 {
		t.Fatalf("size = %dx%d, want 200x100", cfg.Width, cfg.Height)
	}
}

func TestUpscaleNeverShrinks(t *testing.T) {
	out, err := Upscale(pngBytes(t, 64, 32), "32x32")
	if err != nil {
		t.Fatalf("Upscale error: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 32 {
		t.Fatalf("size = %dx%d, want 64x32", cfg.Width, cfg.Height)
	}
}

func TestUpscaleRejectsGarbage(t *testing.T) {
	if _, err := Upscale([]byte("not an image"), "2K"); !errors.Is(err, domain.ErrInvalidImage) {
		t.Fatalf("Upscale error = %v, want ErrInvalidImage", err)
	}
}

func TestRemoveBGClient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "bg-key" {
			t.Fatalf("unexpected api key: %s", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("size") != "auto" {
			t.Fatalf("size = %q, want auto", r.FormValue("size"))
		}
		f, hdr, err := r.FormFile("image_file")
		if err != nil {
			t.Fatalf("image_file missing: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "jpeg" || hdr.Filename != "fox.jpg" {
			t.Fatalf("unexpected file %q %q", hdr.Filename, data)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("cutout"))
	}))
	defer ts.Close()

	client := NewRemoveBGClient(RemoveBGOptions{APIKey: "bg-key", URL: ts.URL})
	out, ct, err := client.Remove(context.Background(), []byte("jpeg"), "fox.jpg")
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if string(out) != "cutout" || ct != "image/png" {
		t.Fatalf("unexpected output %q %q", out, ct)
	}
}

func TestRemoveBGClientErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"errors":[{"title":"Insufficient credits"}]}`))
	}))
	defer ts.Close()

	if _, _, err := NewRemoveBGClient(RemoveBGOptions{URL: ts.URL}).Remove(context.Background(), []byte("x"), ""); err == nil {
		t.Fatalf("expected error when api key missing")
	}
	_, _, err := NewRemoveBGClient(RemoveBGOptions{APIKey: "k", URL: ts.URL}).Remove(context.Background(), []byte("x"), "")
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusPaymentRequired || upstream.Message != "Insufficient credits" {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}
