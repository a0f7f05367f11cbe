package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// allowAll disables the SSRF validator so tests can hit httptest loopback servers.
func allowAll(string) error { return nil }

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("User-Agent = %q, want browser-like", ua)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("pngbytes"))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll})
	res, err := f.Get(context.Background(), srv.URL+"/logo.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(res.Body) != "pngbytes" {
		t.Errorf("body = %q", res.Body)
	}
	if res.ContentType != "image/png" {
		t.Errorf("content type = %q", res.ContentType)
	}
	if len(res.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(res.Hash))
	}
}

func TestGet_SizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := New(Config{MaxBytes: 1024, URLValidator: allowAll})
	if _, err := f.Get(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestGet_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll})
	res, err := f.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if res == nil || res.StatusCode != 404 {
		t.Errorf("want StatusCode 404 in result, got %+v", res)
	}
}

func TestGet_BlocksPrivate(t *testing.T) {
	f := New(Config{})
	if _, err := f.Get(context.Background(), "http://127.0.0.1/internal"); err == nil {
		t.Fatal("expected SSRF block for loopback URL")
	}
}
