package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"scroll-press/internal/observability"
)

// OpenAPIValidatorConfig configures request validation against the API
// description in artifacts/openapi.yaml.
type OpenAPIValidatorConfig struct {
	Enabled  bool
	SpecPath string
	// SkipPaths are matched exactly, or as prefixes when they end in "/".
	SkipPaths []string
}

// DefaultOpenAPIValidatorConfig skips raw document serving and the
// operational endpoints, which the API description does not cover.
func DefaultOpenAPIValidatorConfig(enabled bool, specPath string) *OpenAPIValidatorConfig {
	return &OpenAPIValidatorConfig{
		Enabled:  enabled,
		SpecPath: specPath,
		SkipPaths: []string{
			"/health",
			"/metrics",
			"/documents/",
		},
	}
}

// OpenAPIValidator rejects API requests whose path, parameters or JSON body
// do not match the API description. Multipart upload bodies are left to the
// HTML validator. A description that cannot be loaded disables validation
// instead of taking the API down.
func OpenAPIValidator(cfg *OpenAPIValidatorConfig) func(next http.Handler) http.Handler {
	passThrough := func(next http.Handler) http.Handler { return next }

	if cfg == nil || !cfg.Enabled {
		slog.Info("OpenAPI validation disabled")
		return passThrough
	}

	router, err := loadOpenAPIRouter(cfg.SpecPath)
	if err != nil {
		slog.Error("OpenAPI validation disabled", slog.String("path", cfg.SpecPath), slog.String("error", err.Error()))
		return passThrough
	}
	slog.Info("OpenAPI validation enabled", slog.String("spec_path", cfg.SpecPath))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkipPath(r.URL.Path, cfg.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			log := observability.FromContext(r.Context())

			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				log.Warn("request does not match any API operation",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unknown API operation: %s %s", r.Method, r.URL.Path))
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
					ExcludeRequestBody: isMultipart(r),
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				log.Warn("request failed API validation",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()))
				writeJSONError(w, http.StatusBadRequest, "Invalid request: "+validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func loadOpenAPIRouter(path string) (routers.Router, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load API description: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid API description: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build API router: %w", err)
	}
	return router, nil
}

// validationMessage names the offending field without echoing the schema.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return err.Error()
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(reqErr.Err, &schemaErr) {
		field := strings.Join(schemaErr.JSONPointer(), ".")
		switch {
		case reqErr.Parameter != nil:
			field = reqErr.Parameter.Name
		case field == "":
			field = "body"
		}
		return field + ": " + schemaErr.Reason
	}

	reason := reqErr.Reason
	if reason == "" && reqErr.Err != nil {
		reason = reqErr.Err.Error()
	}
	if reqErr.Parameter != nil {
		return fmt.Sprintf("parameter %q: %s", reqErr.Parameter.Name, reason)
	}
	if reason == "" {
		return reqErr.Error()
	}
	return reason
}

func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skip := range skipPaths {
		switch {
		case path == skip:
			return true
		case strings.HasSuffix(skip, "/") && strings.HasPrefix(path, skip):
			return true
		case strings.HasPrefix(path, skip+"/"):
			return true
		}
	}
	return false
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/")
}
