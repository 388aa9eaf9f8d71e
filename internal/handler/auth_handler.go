package handler

import (
	"errors"
	"net/http"

	"scroll-press/internal/domain"
	"scroll-press/internal/middleware"
	"scroll-press/internal/service"
)

// AuthHandler handles account endpoints.
type AuthHandler struct {
	accounts *service.AccountService
	cookies  CookieConfig
}

func NewAuthHandler(accounts *service.AccountService, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		cookies:  cookies,
	}
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success bool         `json:"success"`
	User    *domain.User `json:"user"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetConfirm struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "Invalid email, display name or password")
		return
	case errors.Is(err, domain.ErrEmailExists):
		respondError(w, http.StatusConflict, "Email already registered")
		return
	case err != nil:
		internalError(w, r, "registration failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// Login starts a session. Any session cookie the client already holds is
// invalidated so a planted session ID cannot be promoted.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var previous string
	if c, err := r.Cookie(middleware.SessionCookieName); err == nil {
		previous = c.Value
	}

	session, user, err := h.accounts.Login(r.Context(), req.Email, req.Password, previous)
	if errors.Is(err, domain.ErrInvalidCredentials) {
		respondError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		internalError(w, r, "login failed", err)
		return
	}

	setCookie(w, h.cookies, middleware.SessionCookieName, session.ID, h.cookies.SessionTTL)
	respondJSON(w, http.StatusOK, LoginResponse{Success: true, User: user})
}

// Logout ends the current session and its CSRF tokens.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	if err := h.accounts.Logout(r.Context(), session.ID); err != nil {
		internalError(w, r, "logout failed", err)
		return
	}

	clearCookie(w, h.cookies, middleware.SessionCookieName)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	user, err := h.accounts.CurrentUser(r.Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if err != nil {
		internalError(w, r, "load current user failed", err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// VerifyEmail redeems the token from a verification link.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusBadRequest, "Missing token")
		return
	}

	user, err := h.accounts.VerifyEmail(r.Context(), token)
	if errors.Is(err, domain.ErrInvalidToken) || errors.Is(err, domain.ErrUserNotFound) {
		respondError(w, http.StatusBadRequest, "Invalid or expired token")
		return
	}
	if err != nil {
		internalError(w, r, "email verification failed", err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// ResendVerification mails a fresh verification link to the current user.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	if err := h.accounts.ResendVerification(r.Context(), userID); err != nil {
		internalError(w, r, "resend verification failed", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

// RequestPasswordReset always answers 202 so accounts cannot be probed.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		internalError(w, r, "password reset request failed", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

// ConfirmPasswordReset sets a new password and ends every session of the
// account, including the caller's.
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirm
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.accounts.ResetPassword(r.Context(), req.Token, req.Password)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "Password must be 8 to 72 bytes")
		return
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrUserNotFound):
		respondError(w, http.StatusBadRequest, "Invalid or expired token")
		return
	case err != nil:
		internalError(w, r, "password reset failed", err)
		return
	}

	clearCookie(w, h.cookies, middleware.SessionCookieName)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// DeleteAccount removes the current user with their documents and sessions.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), userID); err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		internalError(w, r, "account deletion failed", err)
		return
	}

	clearCookie(w, h.cookies, middleware.SessionCookieName)
	w.WriteHeader(http.StatusNoContent)
}
