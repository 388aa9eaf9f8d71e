package handler

import (
	"net/http"

	"scroll-press/internal/middleware"
	"scroll-press/internal/security"
	"scroll-press/internal/service"
)

// CSRFHandler hands out synchronizer tokens.
type CSRFHandler struct {
	csrf    *service.CSRFService
	ids     *security.TokenManager
	cookies CookieConfig
}

func NewCSRFHandler(csrf *service.CSRFService, ids *security.TokenManager, cookies CookieConfig) *CSRFHandler {
	return &CSRFHandler{csrf: csrf, ids: ids, cookies: cookies}
}

// Issue returns a token bound to the caller's session, or to an anonymous
// scope cookie that is created on first use.
func (h *CSRFHandler) Issue(w http.ResponseWriter, r *http.Request) {
	scope := middleware.CSRFScope(r)
	if scope == "" {
		anonID, err := h.ids.GenerateURLSafe()
		if err != nil {
			internalError(w, r, "anonymous scope generation failed", err)
			return
		}
		setCookie(w, h.cookies, middleware.AnonCookieName, anonID, h.cookies.AnonTTL)
		scope = anonID
	}

	token, err := h.csrf.Issue(r.Context(), scope)
	if err != nil {
		internalError(w, r, "csrf token issue failed", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}
