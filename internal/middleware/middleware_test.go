package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/auth"
	"github.com/gin-gonic/gin"
)

var testAuthConfig = auth.Config{
	SigningMethod: "HS256",
	Secret:        "middleware-test-secret",
}

func init() {
	gin.SetMode(gin.TestMode)
}

func issueToken(t *testing.T, subject, role string) string {
	t.Helper()
	issuer, err := auth.NewIssuer(testAuthConfig)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	token, _, err := issuer.Issue(subject, map[string]string{"role": role})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func newValidator(t *testing.T) *auth.Validator {
	t.Helper()
	v, err := auth.NewValidatorFromConfig(testAuthConfig)
	if err != nil {
		t.Fatalf("NewValidatorFromConfig() error = %v", err)
	}
	return v
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey)+"|"+c.Request.Header.Get(RequestIDHeader))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	id := w.Header().Get(RequestIDHeader)
	if id == "" {
		t.Fatal("no request id assigned")
	}
	if w.Body.String() != id+"|"+id {
		t.Errorf("body = %q, want id in context and request header", w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want caller's id", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); len(got) > maxRequestIDLength {
		t.Errorf("oversized request id was kept: %d bytes", len(got))
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["code"] != "internal_error" {
		t.Errorf("code = %v", body["code"])
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK {
		t.Errorf("server did not keep serving: %d", w.Code)
	}
}

func TestLoggerIncludesGatewayFields(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := gin.New()
	r.Use(RequestID(), Logger(logger))
	r.GET("/x", func(c *gin.Context) {
		c.Set(routeKey, "users")
		c.Set(stageKey, "Completed")
		c.Set(subjectKey, "alice")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	out := buf.String()
	for _, want := range []string{"route=users", "stage=Completed", "subject=alice", "status=204", "path=/x"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

func TestRequireAuth(t *testing.T) {
	r := gin.New()
	r.GET("/me", RequireAuth(newValidator(t)), func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			t.Error("identity missing from context")
		}
		c.String(http.StatusOK, identity.Subject)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, "alice", "user"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Errorf("valid token = %d %q", w.Code, w.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin", RequireAuth(newValidator(t)), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		role string
		want int
	}{
		{role: "admin", want: http.StatusOK},
		{role: "user", want: http.StatusForbidden},
		{role: "", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+issueToken(t, "bob", tt.role))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("role %q: status = %d, want %d", tt.role, w.Code, tt.want)
		}
	}

	bare := gin.New()
	bare.GET("/admin", RequireRole("admin"), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	bare.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without RequireAuth status = %d, want 401", w.Code)
	}
}
