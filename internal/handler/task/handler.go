package task

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/taskpulse/taskpulse/backend/internal/middleware"
	"github.com/taskpulse/taskpulse/backend/internal/model/task"
	taskService "github.com/taskpulse/taskpulse/backend/internal/service/task"
	"github.com/taskpulse/taskpulse/backend/internal/validation"
	"github.com/taskpulse/taskpulse/backend/pkg/utils"
)

// Handler serves the task CRUD and statistics routes. Every route expects
// RequireAuth to have run.
type Handler struct {
	taskSvc *taskService.Service
	logger  *zap.Logger
}

// New creates the task handler.
func New(taskSvc *taskService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{taskSvc: taskSvc, logger: logger.Named("tasks")}
}

// RegisterRoutes mounts the task routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/stats", h.handleStats)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
}

type createRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=2000"`
	Status      string     `json:"status" validate:"omitempty,oneof=pending in-progress completed"`
	Category    string     `json:"category" validate:"omitempty,oneof=work personal shopping health education finance other"`
	Tags        []string   `json:"tags" validate:"max=20,dive,max=50"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"dueDate"`
}

type updateRequest struct {
	Title       *string    `json:"title" validate:"omitempty,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	Status      *string    `json:"status" validate:"omitempty,oneof=pending in-progress completed"`
	Category    *string    `json:"category" validate:"omitempty,oneof=work personal shopping health education finance other"`
	Tags        []string   `json:"tags" validate:"omitempty,max=20,dive,max=50"`
	Priority    *string    `json:"priority" validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"dueDate"`
}

func (req updateRequest) update() task.Update {
	u := task.Update{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
	}
	if req.Status != nil {
		s := task.Status(*req.Status)
		u.Status = &s
	}
	if req.Category != nil {
		c := task.Category(*req.Category)
		u.Category = &c
	}
	if req.Priority != nil {
		p := task.Priority(*req.Priority)
		u.Priority = &p
	}
	return u
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	current, _ := middleware.UserFrom(r.Context())

	var req createRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.taskSvc.Create(r.Context(), current.ID, task.Task{
		Title:       req.Title,
		Description: req.Description,
		Status:      task.Status(req.Status),
		Category:    task.Category(req.Category),
		Tags:        req.Tags,
		Priority:    task.Priority(req.Priority),
		DueDate:     req.DueDate,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	current, _ := middleware.UserFrom(r.Context())
	q := r.URL.Query()

	tasks, err := h.taskSvc.List(r.Context(), task.Filter{
		User:     current.ID,
		Status:   task.Status(q.Get("status")),
		Category: task.Category(q.Get("category")),
		Search:   q.Get("search"),
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, tasks)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	current, _ := middleware.UserFrom(r.Context())

	stats, err := h.taskSvc.Stats(r.Context(), current.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	current, _ := middleware.UserFrom(r.Context())

	t, err := h.taskSvc.Get(r.Context(), current.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, t)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	current, _ := middleware.UserFrom(r.Context())

	var req updateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.taskSvc.Update(r.Context(), current.ID, chi.URLParam(r, "id"), req.update())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	current, _ := middleware.UserFrom(r.Context())

	if err := h.taskSvc.Delete(r.Context(), current.ID, chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "Task removed")
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, taskService.ErrDueDateInPast):
		utils.RespondError(w, http.StatusBadRequest, "Due date cannot be set in the past")
	case errors.Is(err, taskService.ErrTitleRequired):
		utils.RespondError(w, http.StatusBadRequest, "Task title is required")
	default:
		h.logger.Error("task request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "Server error")
	}
}
