// Package server assembles the guards, services and handlers into the HTTP
// application. Storage backends are chosen by the caller.
package server

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scroll-press/internal/clock"
	"scroll-press/internal/config"
	"scroll-press/internal/domain"
	"scroll-press/internal/handler"
	"scroll-press/internal/middleware"
	"scroll-press/internal/ratelimit"
	"scroll-press/internal/security"
	"scroll-press/internal/service"
	"scroll-press/internal/validator"
)

// Stores bundles the storage backends selected at startup.
type Stores struct {
	Users     domain.UserRepository
	Documents domain.DocumentRepository
	Sessions  domain.SessionRepository
	Tokens    domain.TokenRepository
	CSRF      domain.CSRFRepository
	RateLimit ratelimit.Store
}

// App is the assembled application.
type App struct {
	Router   http.Handler
	Sessions *service.SessionService
	Tokens   *service.TokenService
	CSRF     *service.CSRFService
	Accounts *service.AccountService

	window *ratelimit.Limiter
	burst  *middleware.RateLimiter
}

// New wires the services over stores and builds the router. checks are
// reported by /health/ready.
func New(cfg *config.Config, stores Stores, mailer domain.Mailer, clk clock.Clock, checks ...handler.ReadinessCheck) *App {
	ids := security.NewTokenManager(nil)

	sessions := service.NewSessionService(stores.Sessions, ids, clk, cfg.SessionTTL)
	tokens := service.NewTokenService(stores.Tokens, ids, clk, service.TokenTTLs{
		EmailVerification: cfg.EmailVerificationTTL,
		PasswordReset:     cfg.PasswordResetTTL,
	})
	csrf := service.NewCSRFService(stores.CSRF, ids, clk, cfg.CSRFTokenTTL, service.DefaultCSRFMaxPerScope)
	accounts := service.NewAccountService(stores.Users, stores.Documents, sessions, tokens, csrf, mailer, clk,
		service.AccountConfig{BaseURL: cfg.BaseURL, BcryptCost: cfg.BcryptCost})

	window := ratelimit.New(stores.RateLimit, clk, ratelimit.Config{
		Limit:  cfg.RateLimitRequests,
		WarnAt: cfg.RateLimitWarnAt,
		Window: cfg.RateLimitWindow,
	})
	burst := middleware.NewRateLimiter(window, clk, cfg.RateLimitBurstRPS, cfg.RateLimitBurst)

	app := &App{
		Sessions: sessions,
		Tokens:   tokens,
		CSRF:     csrf,
		Accounts: accounts,
		window:   window,
		burst:    burst,
	}

	cookies := handler.CookieConfig{
		Secure:     cfg.SecureCookies(),
		SessionTTL: cfg.SessionTTL,
		AnonTTL:    cfg.CSRFTokenTTL,
	}

	app.Router = newRouter(cfg, routes{
		auth:      handler.NewAuthHandler(accounts, cookies),
		csrf:      handler.NewCSRFHandler(csrf, ids, cookies),
		documents: handler.NewDocumentHandler(NewValidator(cfg), stores.Documents, clk),
		sessions:  sessions,
		verifier:  csrf,
		limiter:   burst,
		checks:    checks,
	})
	return app
}

// Sweepers returns the stores the background cleanup should visit.
func (a *App) Sweepers() map[string]service.Sweeper {
	return map[string]service.Sweeper{
		"sessions": a.Sessions,
		"tokens":   a.Tokens,
		"csrf":     a.CSRF,
	}
}

// Close stops the rate limiter goroutines.
func (a *App) Close() {
	a.burst.Stop()
	a.window.Stop()
}

// NewValidator builds the upload validator from configuration. The service's
// own host counts as same-origin.
func NewValidator(cfg *config.Config) *validator.Validator {
	vcfg := validator.DefaultConfig()
	vcfg.MaxUploadBytes = cfg.MaxUploadBytes
	vcfg.MaxExternalLinks = cfg.MaxExternalLinks
	vcfg.MaxExternalResources = cfg.MaxExternalResources
	vcfg.AllowedResourceHosts = cfg.AllowedResourceHosts
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Hostname() != "" {
		vcfg.SameOriginHosts = []string{u.Hostname()}
	}
	return validator.New(vcfg)
}

type routes struct {
	auth      *handler.AuthHandler
	csrf      *handler.CSRFHandler
	documents *handler.DocumentHandler
	sessions  middleware.SessionResolver
	verifier  middleware.CSRFVerifier
	limiter   *middleware.RateLimiter
	checks    []handler.ReadinessCheck
}

func newRouter(cfg *config.Config, rt routes) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.RequestContext)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders(cfg.SecureCookies()))
	r.Use(middleware.CORS(cfg.Origins()))
	r.Use(middleware.Metrics())
	r.Use(middleware.LoadSession(rt.sessions))

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(rt.checks...))
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	r.With(rt.limiter.Middleware(), middleware.SandboxDocument).
		Get("/documents/{id}", rt.documents.Serve)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.limiter.Middleware())
		r.Use(chimiddleware.RequestSize(rt.documents.MaxRequestBytes()))
		r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig(cfg.OpenAPIValidation, cfg.OpenAPISpecPath)))
		r.Use(middleware.CSRF(rt.verifier))

		r.Get("/csrf", rt.csrf.Issue)

		r.Post("/auth/register", rt.auth.Register)
		r.Post("/auth/login", rt.auth.Login)
		r.Get("/auth/verify-email", rt.auth.VerifyEmail)
		r.Post("/auth/password-reset/request", rt.auth.RequestPasswordReset)
		r.Post("/auth/password-reset/confirm", rt.auth.ConfirmPasswordReset)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(rt.sessions))

			r.Get("/auth/me", rt.auth.Me)
			r.Post("/auth/logout", rt.auth.Logout)
			r.Post("/auth/verify-email/resend", rt.auth.ResendVerification)
			r.Delete("/account", rt.auth.DeleteAccount)
			r.Post("/documents", rt.documents.Upload)
		})
	})

	return r
}
