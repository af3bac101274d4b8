package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/taskpulse/taskpulse/backend/internal/middleware"
	"github.com/taskpulse/taskpulse/backend/internal/model/user"
	authService "github.com/taskpulse/taskpulse/backend/internal/service/auth"
	"github.com/taskpulse/taskpulse/backend/internal/validation"
	"github.com/taskpulse/taskpulse/backend/pkg/utils"
)

// Handler serves account registration, login and profile lookups.
type Handler struct {
	authSvc *authService.Service
	logger  *zap.Logger
}

// New creates the auth handler.
func New(authSvc *authService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{authSvc: authSvc, logger: logger.Named("auth")}
}

// RegisterRoutes mounts the auth routes. protect guards the profile route.
func (h *Handler) RegisterRoutes(r chi.Router, protect func(http.Handler) http.Handler) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.With(protect).Get("/profile", h.handleProfile)
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.authSvc.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			utils.RespondError(w, http.StatusBadRequest, "User already exists")
			return
		}
		h.logger.Error("register failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	h.logger.Info("user registered", zap.String("user", session.ID))
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, authService.ErrInvalidCredentials) {
			utils.RespondError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "Server error")
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	current, _ := middleware.UserFrom(r.Context())

	u, err := h.authSvc.Profile(r.Context(), current.ID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("profile lookup failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "Server error")
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}
