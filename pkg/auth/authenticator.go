// Package auth validates JWT bearer tokens. Failures are returned as problems
// so the exception handler renders them like any other error.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/theroutercompany/problemdetails/pkg/config"
	"github.com/theroutercompany/problemdetails/pkg/middleware"
	"github.com/theroutercompany/problemdetails/pkg/problem"
)

const realm = "problemd"

var (
	// AuthorizationRequired is raised when no usable bearer token is present.
	AuthorizationRequired = problem.Unauthorized.WithTitle("Authorization token required.")
	// PermissionRequired is raised when a valid token lacks the required scope.
	PermissionRequired = problem.Forbidden.WithTitle("Permission required.")
)

// Principal represents the authenticated caller.
type Principal struct {
	Subject string
	Scopes  []string
	Token   string
}

// HasAnyScope reports whether p owns at least one of required. An empty
// required list is always satisfied.
func (p *Principal) HasAnyScope(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, scope := range required {
		if slices.Contains(p.Scopes, scope) {
			return true
		}
	}
	return false
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret    []byte
	audiences []string
	issuer    string
}

// New constructs an authenticator from configuration.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret not configured")
	}

	return &Authenticator{
		secret:    []byte(cfg.Secret),
		audiences: cfg.Audiences,
		issuer:    cfg.Issuer,
	}, nil
}

// Authenticate validates the request's bearer token. Errors are
// *problem.Problem values of kind AuthorizationRequired.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, unauthorized("Missing Authorization header.", "")
	}

	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, unauthorized("Malformed Authorization header.", "invalid_request")
	}

	principal, err := a.parseToken(token)
	if err != nil {
		return nil, unauthorized("Invalid or expired token.", "invalid_token")
	}

	principal.Token = token
	return principal, nil
}

func (a *Authenticator) parseToken(tokenString string) (*Principal, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if len(a.audiences) > 0 {
		options = append(options, jwt.WithAudience(a.audiences...))
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}

	claims := &scopedClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}

	return &Principal{
		Subject: claims.Subject,
		Scopes:  claims.Scopes(),
	}, nil
}

func unauthorized(detail, code string) *problem.Problem {
	challenge := `Bearer realm="` + realm + `"`
	if code != "" {
		challenge += `, error="` + code + `"`
	}
	return AuthorizationRequired.New(detail, problem.WithHeader("WWW-Authenticate", challenge))
}

type scopedClaims struct {
	Scope string   `json:"scope"`
	Scp   []string `json:"scp"`
	jwt.RegisteredClaims
}

func (c *scopedClaims) Scopes() []string {
	if len(c.Scp) > 0 {
		return c.Scp
	}
	return strings.Fields(c.Scope)
}

type principalKey struct{}

// PrincipalFromContext returns the caller stored by Require.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Require authenticates every request and demands at least one of scopes.
// Failures are passed to write; a nil authenticator rejects everything.
func Require(a *Authenticator, write middleware.ErrorWriter, scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				write(w, r, problem.ServiceUnavailable.New("Authentication is not configured."))
				return
			}
			principal, err := a.Authenticate(r)
			if err != nil {
				write(w, r, err)
				return
			}
			if !principal.HasAnyScope(scopes) {
				write(w, r, PermissionRequired.New("No active permissions."))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
		})
	}
}
