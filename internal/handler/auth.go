package handler

import (
	"net/http"

	"sweetshop-rest-api/internal/middleware"
	"sweetshop-rest-api/internal/service"
	"sweetshop-rest-api/pkg/apierror"
	"sweetshop-rest-api/pkg/response"
)

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// LoginRequest represents the request body for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	user, err := h.auth.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, user)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.Email == "" || req.Password == "" {
		response.Error(w, apierror.BadRequest("email and password are required"))
		return
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, session)
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		response.Error(w, apierror.InternalError("failed to revoke token"))
		return
	}
	response.OK(w, map[string]string{"status": "logged out"})
}
