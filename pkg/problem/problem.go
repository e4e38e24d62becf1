// Package problem models RFC 9457 problem details: the Problem value handlers
// raise, the Kind presets that bind a status and title ahead of time, and the
// ordered JSON rendering shared by the exception handler and OpenAPI examples.
package problem

import (
	"net/http"
	"strconv"
	"strings"
)

// ContentType is the media type of a rendered problem.
const ContentType = "application/problem+json"

// BlankType is the RFC 9457 default type used in strict mode.
const BlankType = "about:blank"

const typePlaceholder = "{type}"

// Field is a single extension member.
type Field struct {
	Key   string
	Value any
}

// Problem is an RFC 9457 problem document. It implements error so handlers
// can return or panic with it and have its fields rendered verbatim.
type Problem struct {
	// Type is the explicit problem type. When empty the type is derived from
	// Title, or rendered as about:blank in strict mode.
	Type    string
	Title   string
	Status  int
	Detail  string
	Extras  []Field
	Headers http.Header
}

// Option customises a Problem during construction.
type Option func(*Problem)

// WithType sets an explicit type.
func WithType(typ string) Option {
	return func(p *Problem) {
		p.Type = typ
	}
}

// WithExtra appends an extension member. Reserved member names are ignored and
// re-using a key replaces its value in place.
func WithExtra(key string, value any) Option {
	return func(p *Problem) {
		if IsReserved(key) {
			return
		}
		for i := range p.Extras {
			if p.Extras[i].Key == key {
				p.Extras[i].Value = value
				return
			}
		}
		p.Extras = append(p.Extras, Field{Key: key, Value: value})
	}
}

// WithHeader adds a response header.
func WithHeader(key, value string) Option {
	return func(p *Problem) {
		if p.Headers == nil {
			p.Headers = make(http.Header)
		}
		p.Headers.Add(key, value)
	}
}

// WithHeaders merges a set of response headers.
func WithHeaders(h http.Header) Option {
	return func(p *Problem) {
		if len(h) == 0 {
			return
		}
		if p.Headers == nil {
			p.Headers = make(http.Header, len(h))
		}
		for k, values := range h {
			for _, v := range values {
				p.Headers.Add(k, v)
			}
		}
	}
}

// New builds a Problem. A zero status defaults to 500.
func New(title string, status int, detail string, opts ...Option) *Problem {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	p := &Problem{Title: title, Status: status, Detail: detail}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Problem) Error() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}

// Extra returns the value of an extension member.
func (p *Problem) Extra(key string) (any, bool) {
	for _, f := range p.Extras {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Slug returns the explicit type, falling back to the slugified title. A title
// with nothing to slugify falls back to the status slug ("http-not-found").
func (p *Problem) Slug() string {
	if p.Type != "" {
		return p.Type
	}
	return titleSlug(p.Title, p.Status)
}

// Marshal renders the problem as an ordered document: type, title, status,
// extension members, then detail when present.
//
// In strict mode a problem without an explicit type renders as about:blank.
// Otherwise a non-empty uriTemplate has its {type} placeholder replaced by
// the slug.
func (p *Problem) Marshal(uriTemplate string, strict bool) *Document {
	doc := NewDocument()
	doc.Set("type", p.renderType(uriTemplate, strict))
	doc.Set("title", p.Title)
	doc.Set("status", p.Status)
	for _, f := range p.Extras {
		if IsReserved(f.Key) {
			continue
		}
		doc.Set(f.Key, f.Value)
	}
	if p.Detail != "" {
		doc.Set("detail", p.Detail)
	}
	return doc
}

func (p *Problem) renderType(uriTemplate string, strict bool) string {
	if strict && p.Type == "" {
		return BlankType
	}
	slug := p.Slug()
	if uriTemplate == "" {
		return slug
	}
	return strings.ReplaceAll(uriTemplate, typePlaceholder, slug)
}

// IsReserved reports whether key is one of the RFC 9457 members rendered from
// the Problem's own fields.
func IsReserved(key string) bool {
	switch key {
	case "type", "title", "status", "detail":
		return true
	}
	return false
}

// Write emits p as a problem+json response without going through an
// exception handler.
func Write(w http.ResponseWriter, p *Problem, uriTemplate string, strict bool) error {
	body, err := p.Marshal(uriTemplate, strict).Bytes()
	if err != nil {
		return err
	}
	for k, values := range p.Headers {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(p.Status)
	_, err = w.Write(body)
	return err
}
