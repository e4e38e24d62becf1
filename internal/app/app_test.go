package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/theroutercompany/problemdetails/pkg/config"
	"github.com/theroutercompany/problemdetails/pkg/metrics"
	"github.com/theroutercompany/problemdetails/pkg/problem"
)

const testSecret = "supersecret"

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Auth.Secret = testSecret
	cfg.RateLimit.Max = 0
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{
		WithLogger(zap.NewNop().Sugar()),
		WithRegistry(metrics.NewRegistry(metrics.WithoutDefaultCollectors())),
	}, opts...)
	return New(cfg, opts...)
}

type result struct {
	code    int
	header  http.Header
	body    string
	problem map[string]any
}

func do(t *testing.T, s *Server, req *http.Request) result {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	res := result{code: rr.Code, header: rr.Header(), body: rr.Body.String()}
	if rr.Header().Get("Content-Type") == problem.ContentType {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res.problem))
	}
	return res
}

func get(t *testing.T, s *Server, path string) result {
	t.Helper()
	return do(t, s, httptest.NewRequest(http.MethodGet, path, nil))
}

func TestKnownProblems(t *testing.T) {
	s := newTestServer(t, testConfig())

	res := get(t, s, "/user-error")
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, map[string]any{
		"type":   "something-we-know-about-happened",
		"title":  "Something we know about happened.",
		"status": float64(400),
		"detail": "A known user error use case occurred.",
	}, res.problem)

	res = get(t, s, "/server-error")
	assert.Equal(t, http.StatusInternalServerError, res.code)
	assert.Equal(t, "something-you-can-t-do-anything-about-happened", res.problem["type"])
}

func TestUnexpectedErrorUsesDefaultProblem(t *testing.T) {
	s := newTestServer(t, testConfig())

	res := get(t, s, "/unexpected-error")

	assert.Equal(t, http.StatusInternalServerError, res.code)
	assert.Equal(t, map[string]any{
		"type":   "unhandled-exception",
		"title":  "Unhandled exception occurred.",
		"status": float64(500),
		"detail": "integer division by zero",
	}, res.problem)
	assert.NotEmpty(t, res.header.Get("X-Request-Id"))
	assert.Equal(t, "nosniff", res.header.Get("X-Content-Type-Options"))
}

func TestPanicRendersProblem(t *testing.T) {
	s := newTestServer(t, testConfig())

	res := get(t, s, "/panic")

	assert.Equal(t, http.StatusInternalServerError, res.code)
	assert.Equal(t, "panic: unexpected state", res.problem["detail"])
}

func TestRoutingErrors(t *testing.T) {
	s := newTestServer(t, testConfig())

	res := get(t, s, "/not-found")
	assert.Equal(t, http.StatusNotFound, res.code)
	assert.Equal(t, map[string]any{
		"type":   "http-not-found",
		"title":  "Not Found",
		"status": float64(404),
		"detail": "Not Found",
	}, res.problem)

	res = get(t, s, "/not-allowed")
	assert.Equal(t, http.StatusMethodNotAllowed, res.code)
	assert.Equal(t, "POST", res.header.Get("Allow"))
	assert.Equal(t, "http-method-not-allowed", res.problem["type"])

	res = do(t, s, httptest.NewRequest(http.MethodPost, "/not-allowed", nil))
	assert.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "{}", res.body)
}

func TestConfiguredWrappers(t *testing.T) {
	cfg := testConfig()
	cfg.Problem.Wrappers = map[string]config.WrapperConfig{
		"404":     {Title: "Endpoint not available.", Status: 404},
		"405":     {Title: "Method not available.", Status: 405},
		"default": {Title: "Server failed.", Status: 500},
	}
	s := newTestServer(t, cfg)

	assert.Equal(t, "endpoint-not-available", get(t, s, "/not-found").problem["type"])
	assert.Equal(t, "Method not available.", get(t, s, "/not-allowed").problem["title"])

	res := get(t, s, "/unexpected-error")
	assert.Equal(t, "server-failed", res.problem["type"])
	assert.Equal(t, "integer division by zero", res.problem["detail"])
}

func TestStrictModeAndDocumentationTemplate(t *testing.T) {
	cfg := testConfig()
	cfg.Problem.DocumentationURITemplate = "https://docs.example.com/errors/{type}"
	s := newTestServer(t, cfg)
	assert.Equal(t, "https://docs.example.com/errors/something-we-know-about-happened", get(t, s, "/user-error").problem["type"])

	cfg.Problem.Strict = true
	s = newTestServer(t, cfg)
	assert.Equal(t, problem.BlankType, get(t, s, "/user-error").problem["type"])
	assert.Equal(t, "https://docs.example.com/errors/http-not-found", get(t, s, "/not-found").problem["type"])
}

func TestUsers(t *testing.T) {
	s := newTestServer(t, testConfig())

	res := get(t, s, "/users/1")
	assert.Equal(t, http.StatusOK, res.code)
	assert.JSONEq(t, `{"id":1,"username":"tom"}`, res.body)

	res = get(t, s, "/users/7")
	assert.Equal(t, http.StatusNotFound, res.code)
	assert.Equal(t, map[string]any{
		"type":   "user-not-found",
		"title":  "User not found",
		"status": float64(404),
		"detail": "Can not find user.",
	}, res.problem)

	res = get(t, s, "/users/abc")
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, `Invalid identifier "abc".`, res.problem["detail"])
}

func TestAuthorized(t *testing.T) {
	s := newTestServer(t, testConfig())

	res := get(t, s, "/authorized")
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "Authorization token required.", res.problem["title"])
	assert.Equal(t, `Bearer realm="problemd"`, res.header.Get("WWW-Authenticate"))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/authorized", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res = do(t, s, req)
	assert.Equal(t, http.StatusOK, res.code)
	assert.JSONEq(t, `{"authorized":true,"subject":"user-1"}`, res.body)
}

func TestAuthorizedWithoutSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Secret = ""
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/authorized").code)
}

func TestCORSOnProblemResponses(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.CORS.AllowCredentials = true
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/user-error", nil)
	req.Header.Set("Origin", "https://app.example.com")
	res := do(t, s, req)

	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "https://app.example.com", res.header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", res.header.Get("Access-Control-Allow-Credentials"))
}

func TestStripExtrasFromConfig(t *testing.T) {
	s := newTestServer(t, testConfig())
	res := get(t, s, "/users/abc")
	assert.Equal(t, "abc", res.problem["identifier"])

	cfg := testConfig()
	cfg.StripExtras.Enabled = true
	s = newTestServer(t, cfg)
	res = get(t, s, "/users/abc")
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.NotContains(t, res.problem, "identifier")
	assert.Equal(t, `Invalid identifier "abc".`, res.problem["detail"])

	cfg.StripExtras.ExcludeStatusCodes = []int{http.StatusBadRequest}
	s = newTestServer(t, cfg)
	assert.Equal(t, "abc", get(t, s, "/users/abc").problem["identifier"])
}

func TestRateLimitFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Max = 1
	cfg.RateLimit.Window = config.DurationFrom(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	s := newTestServer(t, cfg, WithClock(func() time.Time { return now }))

	require.Equal(t, http.StatusOK, get(t, s, "/users").code)
	res := get(t, s, "/users")

	assert.Equal(t, http.StatusTooManyRequests, res.code)
	assert.Equal(t, "60", res.header.Get("Retry-After"))
	assert.Equal(t, "too-many-requests", res.problem["type"])

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusOK, get(t, s, "/users").code)
}

func TestMetricsEndpointCountsProblems(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Namespace = "problemd"
	s := New(cfg, WithLogger(zap.NewNop().Sugar()))

	get(t, s, "/user-error")
	res := get(t, s, "/metrics")

	assert.Equal(t, http.StatusOK, res.code)
	assert.Contains(t, res.body, `problemd_problem_responses_total{status="400",type="something-we-know-about-happened"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").code)
}

func TestOpenAPIDocument(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAPI.GenericDefaults = true
	s := newTestServer(t, cfg)

	res := get(t, s, "/openapi.json")
	require.Equal(t, http.StatusOK, res.code)

	var doc struct {
		Paths map[string]map[string]struct {
			Responses map[string]any `json:"responses"`
		} `json:"paths"`
		Components struct {
			Schemas map[string]map[string]any `json:"schemas"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.body), &doc))

	assert.Contains(t, doc.Paths["/users"]["get"].Responses, "4XX")
	assert.Contains(t, doc.Paths["/users"]["get"].Responses, "5XX")
	for _, name := range []string{"Problem", "UserNotFound", "AuthorizationRequired", "PermissionRequired"} {
		require.Contains(t, doc.Components.Schemas, name)
		assert.Equal(t, name, doc.Components.Schemas[name]["title"])
	}
}

type failingProvider struct{}

func (failingProvider) Document(context.Context) ([]byte, error) {
	return nil, errors.New("merge failed")
}

func TestOpenAPIUnavailable(t *testing.T) {
	s := newTestServer(t, testConfig(), WithOpenAPIProvider(failingProvider{}))

	res := get(t, s, "/openapi.json")

	assert.Equal(t, http.StatusServiceUnavailable, res.code)
	assert.Equal(t, "OpenAPI Unavailable", res.problem["title"])
	assert.Equal(t, "merge failed", res.problem["detail"])
}

func TestHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Version = "abc123"
	s := newTestServer(t, cfg)

	res := get(t, s, "/health")

	assert.Equal(t, http.StatusOK, res.code)
	assert.Contains(t, res.body, `"version":"abc123"`)
}

func TestStartAndShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.Port = freePort(t)
	s := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	url := "http://127.0.0.1:" + strconv.Itoa(cfg.HTTP.Port) + "/user-error"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusBadRequest && strings.Contains(string(body), "Something we know")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
