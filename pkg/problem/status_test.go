package problem

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusDefaults(t *testing.T) {
	cases := map[int][2]string{
		400: {"Bad Request", "http-bad-request"},
		404: {"Not Found", "http-not-found"},
		405: {"Method Not Allowed", "http-method-not-allowed"},
		418: {"I'm a teapot", "http-i-m-a-teapot"},
		500: {"Internal Server Error", "http-internal-server-error"},
	}

	for code, want := range cases {
		title, typ, err := StatusDefaults(code)
		if err != nil {
			t.Fatalf("status %d: unexpected error %v", code, err)
		}
		if title != want[0] || typ != want[1] {
			t.Fatalf("status %d: got (%q, %q), want (%q, %q)", code, title, typ, want[0], want[1])
		}
	}
}

func TestStatusDefaultsUnknownCode(t *testing.T) {
	_, _, err := StatusDefaults(599)
	if !errors.Is(err, ErrUnknownStatusCode) {
		t.Fatalf("expected ErrUnknownStatusCode, got %v", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Unhandled exception occurred.": "unhandled-exception-occurred",
		"  Not   Found ":                "not-found",
		"Café Crème":                    "cafe-creme",
		"Request-URI Too Long":          "request-uri-too-long",
		"Ошибка сервера":                "ошибка-сервера",
		"!!!":                           "",
		"":                              "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugFallsBackToStatus(t *testing.T) {
	if got := New("!!!", http.StatusNotFound, "").Slug(); got != "http-not-found" {
		t.Fatalf("expected status slug, got %q", got)
	}
	if got := (&Problem{Title: "?", Status: 799}).Slug(); got != "http-error" {
		t.Fatalf("expected generic slug, got %q", got)
	}
	if got := (Kind{Title: "Ошибка", Status: http.StatusBadRequest}).Slug(); got != "ошибка" {
		t.Fatalf("expected unicode slug, got %q", got)
	}
}
