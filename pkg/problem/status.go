package problem

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownStatusCode is returned by StatusDefaults for codes without a standard reason phrase.
var ErrUnknownStatusCode = errors.New("unknown status code")

// StatusDefaults returns the standard reason phrase for code and the type slug
// derived from it, e.g. 404 yields ("Not Found", "http-not-found").
func StatusDefaults(code int) (title, typ string, err error) {
	title = http.StatusText(code)
	if title == "" {
		return "", "", fmt.Errorf("%w: %d", ErrUnknownStatusCode, code)
	}
	return title, "http-" + Slugify(title), nil
}

// ValidStatus reports whether code can be written as a response status.
func ValidStatus(code int) bool {
	return code >= 100 && code <= 599
}

func titleSlug(title string, status int) string {
	if slug := Slugify(title); slug != "" {
		return slug
	}
	if _, typ, err := StatusDefaults(status); err == nil {
		return typ
	}
	return "http-error"
}
