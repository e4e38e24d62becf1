package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/theroutercompany/problemdetails/pkg/auth"
	"github.com/theroutercompany/problemdetails/pkg/handler"
	"github.com/theroutercompany/problemdetails/pkg/openapi"
	"github.com/theroutercompany/problemdetails/pkg/problem"
)

var (
	KnownProblem       = problem.BadRequest.WithTitle("Something we know about happened.")
	KnownServerProblem = problem.Server.WithTitle("Something you can't do anything about happened.")
	UserNotFound       = problem.NotFound.WithTitle("User not found")

	errUserNotFound = errors.New("user not found")
)

type user struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

var users = []user{{ID: 1, Username: "tom"}, {ID: 2, Username: "lucy"}}

func documentedProblems() []openapi.Named {
	return []openapi.Named{
		{Name: "UserNotFound", Kind: UserNotFound},
		{Name: "AuthorizationRequired", Kind: auth.AuthorizationRequired},
		{Name: "PermissionRequired", Kind: auth.PermissionRequired},
	}
}

// demoResolvers maps errors raised by the demo routes onto problems.
func demoResolvers() []handler.Option {
	return []handler.Option{
		handler.Handle(func(_ *handler.ExceptionHandler, _ *http.Request, err *strconv.NumError) *problem.Problem {
			return problem.BadRequest.New(fmt.Sprintf("Invalid identifier %q.", err.Num), problem.WithExtra("identifier", err.Num))
		}),
		handler.HandleFunc(
			func(err error) bool { return errors.Is(err, errUserNotFound) },
			func(*handler.ExceptionHandler, *http.Request, error) *problem.Problem {
				return UserNotFound.New("Can not find user.")
			},
		),
	}
}

func (s *Server) mountRoutes(mux *http.ServeMux) {
	wrap := s.exceptions.Wrap

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /users", wrap(listUsers))
	mux.Handle("GET /users/{id}", wrap(getUser))
	mux.Handle("GET /user-error", wrap(func(http.ResponseWriter, *http.Request) error {
		return KnownProblem.New("A known user error use case occurred.")
	}))
	mux.Handle("GET /server-error", wrap(func(http.ResponseWriter, *http.Request) error {
		return KnownServerProblem.New("A known server error use case occurred.")
	}))
	mux.Handle("GET /unexpected-error", wrap(func(http.ResponseWriter, *http.Request) error {
		return errors.New("integer division by zero")
	}))
	mux.HandleFunc("GET /panic", func(http.ResponseWriter, *http.Request) {
		panic("unexpected state")
	})
	mux.Handle("POST /not-allowed", wrap(func(w http.ResponseWriter, _ *http.Request) error {
		return writeJSON(w, http.StatusOK, map[string]any{})
	}))
	mux.Handle("GET /authorized", auth.Require(s.authenticator, s.exceptions.ServeError)(wrap(authorized)))
	mux.Handle("GET /openapi.json", wrap(s.handleOpenAPI))
	if s.cfg.Metrics.Enabled && s.registry != nil {
		mux.Handle("GET /metrics", s.registry.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.cfg.Version,
		"uptime":    time.Since(s.bootTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) error {
	if s.openapiProvider == nil {
		return problem.ServiceUnavailable.WithTitle("OpenAPI Unavailable").New("OpenAPI provider not configured")
	}
	data, err := s.openapiProvider.Document(r.Context())
	if err != nil {
		return problem.ServiceUnavailable.WithTitle("OpenAPI Unavailable").New(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(data)
	if err != nil {
		s.logger.Warnw("failed to write openapi response", "error", err)
	}
	return nil
}

func listUsers(w http.ResponseWriter, _ *http.Request) error {
	return writeJSON(w, http.StatusOK, users)
}

func getUser(w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.ID == id {
			return writeJSON(w, http.StatusOK, u)
		}
	}
	return fmt.Errorf("lookup user %d: %w", id, errUserNotFound)
}

func authorized(w http.ResponseWriter, r *http.Request) error {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return auth.AuthorizationRequired.New("Missing Authorization header.")
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"authorized": true,
		"subject":    principal.Subject,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return nil
}
