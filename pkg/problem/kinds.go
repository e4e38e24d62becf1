package problem

import "net/http"

// Kind is a problem preset: status and title are fixed when the kind is
// declared, detail and extension members are supplied when it is raised.
type Kind struct {
	// Type is optional. An empty Type is derived from Title and counts as
	// unset for strict rendering.
	Type   string
	Title  string
	Status int
}

// New raises the kind with the given detail.
func (k Kind) New(detail string, opts ...Option) *Problem {
	p := New(k.Title, k.Status, detail)
	p.Type = k.Type
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithTitle returns a copy of the kind with a different title, keeping its status.
func (k Kind) WithTitle(title string) Kind {
	k.Title = title
	return k
}

// Slug returns the type slug the kind renders with outside strict mode.
func (k Kind) Slug() string {
	if k.Type != "" {
		return k.Type
	}
	return titleSlug(k.Title, k.Status)
}

var (
	BadRequest         = Kind{Title: "Bad Request", Status: http.StatusBadRequest}
	Unauthorized       = Kind{Title: "Unauthorized", Status: http.StatusUnauthorized}
	Forbidden          = Kind{Title: "Forbidden", Status: http.StatusForbidden}
	NotFound           = Kind{Title: "Not Found", Status: http.StatusNotFound}
	MethodNotAllowed   = Kind{Title: "Method Not Allowed", Status: http.StatusMethodNotAllowed}
	Conflict           = Kind{Title: "Conflict", Status: http.StatusConflict}
	Unprocessable      = Kind{Title: "Unprocessable Entity", Status: http.StatusUnprocessableEntity}
	TooManyRequests    = Kind{Title: "Too Many Requests", Status: http.StatusTooManyRequests}
	Server             = Kind{Title: "Server Error", Status: http.StatusInternalServerError}
	ServiceUnavailable = Kind{Title: "Service Unavailable", Status: http.StatusServiceUnavailable}
)
