package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/internal/events"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/internal/validate"
)

// AuthHandler provides registration, login and profile endpoints.
type AuthHandler struct {
	userService *services.UserService
	opts        Options
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, opts Options) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		opts:        opts.withDefaults(),
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, userService *services.UserService, opts Options, authMiddleware func(http.Handler) http.Handler) {
	handler := NewAuthHandler(userService, opts)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.With(authMiddleware).Get("/profile", handler.Profile)
}

// Register creates a new user account and returns a bearer token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req validate.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	result, err := h.userService.Register(r.Context(), req)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	h.opts.Logger.Info("user registered", "user_id", result.User.ID)
	publish(r, h.opts, events.ForUser(events.UserRegistered, result.User))
	writeJSON(w, http.StatusCreated, result)
}

// Login verifies credentials and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req validate.LoginInput
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	result, err := h.userService.Login(r.Context(), req)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Profile returns the authenticated user.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, r, h.opts, apperrors.Unauthenticated(apperrors.ReasonMissingCredentials, "no token provided"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}
