package handler

import (
	"net/http"
	"strings"

	"github.com/rs/cors"

	"github.com/theroutercompany/problemdetails/pkg/problem"
)

const (
	headerAllowOrigin      = "Access-Control-Allow-Origin"
	headerAllowCredentials = "Access-Control-Allow-Credentials"
	headerExposeHeaders    = "Access-Control-Expose-Headers"
)

// CORSConfig mirrors the application's CORS middleware settings.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
}

// CORSHook re-applies CORS response headers to problem responses. Error
// responses written from the error boundary skip the CORS middleware, and
// without the headers browsers report a CORS failure instead of the problem.
type CORSHook struct {
	allowAll         bool
	allowCredentials bool
	exposed          string
	matcher          *cors.Cors
}

// NewCORSHook builds the hook from cfg. Origin patterns such as
// "https://*.example.com" are matched by rs/cors.
func NewCORSHook(cfg CORSConfig) *CORSHook {
	hook := &CORSHook{
		allowCredentials: cfg.AllowCredentials,
		exposed:          strings.Join(cfg.ExposedHeaders, ", "),
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			hook.allowAll = true
		}
		origins = append(origins, o)
	}

	// rs/cors treats an empty list as "allow all"; an empty list here allows nothing.
	if !hook.allowAll && len(origins) > 0 {
		hook.matcher = cors.New(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   cfg.AllowedMethods,
			AllowedHeaders:   cfg.AllowedHeaders,
			ExposedHeaders:   cfg.ExposedHeaders,
			AllowCredentials: cfg.AllowCredentials,
		})
	}

	return hook
}

// After sets Access-Control-Allow-Origin according to the request's Origin
// and Cookie headers:
//
//	no Origin                       -> nothing
//	wildcard, no Cookie             -> *
//	wildcard, Cookie                -> the request origin
//	allow-list, origin listed       -> the request origin, Vary: Origin
//	allow-list, origin not listed   -> nothing
func (c *CORSHook) After(content *problem.Document, r *http.Request, resp *Response) (*problem.Document, *Response) {
	if r == nil || resp == nil {
		return content, resp
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return content, resp
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}

	switch {
	case c.allowAll && r.Header.Get("Cookie") == "":
		resp.Header.Set(headerAllowOrigin, "*")
	case c.allowAll:
		resp.Header.Set(headerAllowOrigin, origin)
	case c.matcher != nil && c.matcher.OriginAllowed(r):
		resp.Header.Set(headerAllowOrigin, origin)
		addVary(resp.Header, "Origin")
	default:
		return content, resp
	}

	// Browsers reject credentials alongside a literal "*".
	if c.allowCredentials && resp.Header.Get(headerAllowOrigin) != "*" {
		resp.Header.Set(headerAllowCredentials, "true")
	}
	if c.exposed != "" {
		resp.Header.Set(headerExposeHeaders, c.exposed)
	}
	return content, resp
}

func addVary(h http.Header, value string) {
	for _, existing := range h.Values("Vary") {
		for _, part := range strings.Split(existing, ",") {
			if strings.EqualFold(strings.TrimSpace(part), value) {
				return
			}
		}
	}
	h.Add("Vary", value)
}
