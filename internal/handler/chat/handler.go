package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/taskpulse/taskpulse/backend/internal/middleware"
	chatService "github.com/taskpulse/taskpulse/backend/internal/service/chat"
	"github.com/taskpulse/taskpulse/backend/pkg/utils"
)

// Presence answers whether an identity has a live socket.
type Presence interface {
	IsOnline(identity string) bool
}

// Handler serves message history and presence lookups.
type Handler struct {
	chatSvc  *chatService.Service
	presence Presence
	logger   *zap.Logger
}

// New creates the chat handler.
func New(chatSvc *chatService.Service, presence Presence, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{chatSvc: chatSvc, presence: presence, logger: logger.Named("chat")}
}

// RegisterRoutes mounts the chat routes. They expect RequireAuth to have run.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages/{peerID}", h.handleHistory)
	r.Get("/presence/{userID}", h.handlePresence)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	current, _ := middleware.UserFrom(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	messages, err := h.chatSvc.History(r.Context(), current.ID, chi.URLParam(r, "peerID"), limit)
	if err != nil {
		switch {
		case errors.Is(err, chatService.ErrPeerRequired):
			utils.RespondError(w, http.StatusBadRequest, "peerId is required")
		case errors.Is(err, chatService.ErrPeerNotFound):
			utils.RespondError(w, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("history lookup failed", zap.Error(err))
			utils.RespondError(w, http.StatusInternalServerError, "Server error")
		}
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"online": h.presence.IsOnline(userID),
	})
}
