package middleware

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specPath = "../../artifacts/openapi.yaml"

func loadSpec(t *testing.T) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(specPath)
	require.NoError(t, err, "Failed to load OpenAPI spec")
	require.NoError(t, doc.Validate(loader.Context), "OpenAPI spec validation failed")
	return doc
}

func TestOpenAPISpecIsValid(t *testing.T) {
	doc := loadSpec(t)

	assert.Equal(t, "Scroll Press API", doc.Info.Title)
	assert.Equal(t, "1.0.0", doc.Info.Version)
	assert.NotEmpty(t, doc.Servers)
}

func TestAllRoutesAreDocumentedInOpenAPI(t *testing.T) {
	doc := loadSpec(t)

	implementedRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/health/ready"},
		{"GET", "/api/v1/csrf"},
		{"POST", "/api/v1/auth/register"},
		{"POST", "/api/v1/auth/login"},
		{"POST", "/api/v1/auth/logout"},
		{"GET", "/api/v1/auth/me"},
		{"GET", "/api/v1/auth/verify-email"},
		{"POST", "/api/v1/auth/verify-email/resend"},
		{"POST", "/api/v1/auth/password-reset/request"},
		{"POST", "/api/v1/auth/password-reset/confirm"},
		{"DELETE", "/api/v1/account"},
		{"POST", "/api/v1/documents"},
	}

	for _, route := range implementedRoutes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			pathItem := doc.Paths.Find(route.path)
			require.NotNil(t, pathItem, "path %s not documented", route.path)
			assert.NotNil(t, pathItem.GetOperation(route.method), "%s %s not documented", route.method, route.path)
		})
	}
}

func TestProtectedRoutesHaveAuth(t *testing.T) {
	doc := loadSpec(t)

	protected := map[string]string{
		"/api/v1/auth/logout":              "POST",
		"/api/v1/auth/me":                  "GET",
		"/api/v1/auth/verify-email/resend": "POST",
		"/api/v1/account":                  "DELETE",
		"/api/v1/documents":                "POST",
	}

	for path, method := range protected {
		op := doc.Paths.Find(path).GetOperation(method)
		require.NotNil(t, op)
		require.NotNil(t, op.Security, "%s %s should require cookieAuth", method, path)
		assert.Contains(t, (*op.Security)[0], "cookieAuth")
	}
}

func TestRejectionSchemaListsEveryReason(t *testing.T) {
	doc := loadSpec(t)

	schema := doc.Components.Schemas["Rejection"].Value.Properties["error"].Value
	var reasons []string
	for _, v := range schema.Enum {
		reasons = append(reasons, v.(string))
	}
	assert.Contains(t, reasons, "too_many_external_links")
	assert.Contains(t, reasons, "disallowed_external_resource")
	assert.Contains(t, reasons, "too_large")
}

func TestShouldSkipPath(t *testing.T) {
	skip := DefaultOpenAPIValidatorConfig(true, specPath).SkipPaths

	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/ready", true},
		{"/metrics", true},
		{"/documents/abc", true},
		{"/healthz", false},
		{"/api/v1/auth/login", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldSkipPath(tt.path, skip))
		})
	}
}

func TestOpenAPIMiddlewareDisabled(t *testing.T) {
	mw := OpenAPIValidator(DefaultOpenAPIValidatorConfig(false, specPath))

	w := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/not/in/spec", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenAPIMiddlewareWithInvalidSpec(t *testing.T) {
	mw := OpenAPIValidator(DefaultOpenAPIValidatorConfig(true, "does-not-exist.yaml"))

	w := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenAPIMiddleware_ValidatesRequests(t *testing.T) {
	handler := OpenAPIValidator(DefaultOpenAPIValidatorConfig(true, specPath))(okHandler())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"valid login", http.MethodPost, "/api/v1/auth/login", `{"email":"a@example.com","password":"secret-pass"}`, http.StatusOK, ""},
		{"login missing password", http.MethodPost, "/api/v1/auth/login", `{"email":"a@example.com"}`, http.StatusBadRequest, "password"},
		{"register short password", http.MethodPost, "/api/v1/auth/register", `{"email":"a@example.com","display_name":"A","password":"short"}`, http.StatusBadRequest, "password"},
		{"undocumented route", http.MethodGet, "/api/v1/unknown", "", http.StatusBadRequest, "Unknown API operation"},
		{"verify without token", http.MethodGet, "/api/v1/auth/verify-email", "", http.StatusBadRequest, "token"},
		{"skipped document route", http.MethodGet, "/documents/abc", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantError != "" {
				assert.Contains(t, w.Body.String(), tt.wantError)
				assert.NotContains(t, w.Body.String(), "Schema:", "schema dump leaked into the response")
			}
		})
	}
}

func TestOpenAPIMiddleware_NilConfig(t *testing.T) {
	w := httptest.NewRecorder()
	OpenAPIValidator(nil)(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenAPIMiddleware_MultipartBodyPassesThrough(t *testing.T) {
	var seen int
	handler := OpenAPIValidator(DefaultOpenAPIValidatorConfig(true, specPath))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			f, _, err := r.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			var buf bytes.Buffer
			n, _ := buf.ReadFrom(f)
			seen = int(n)
		}))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "doc.html")
	require.NoError(t, err)
	_, _ = part.Write([]byte("<!DOCTYPE html><html><head></head><body>hi</body></html>"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Greater(t, seen, 0)
}
