package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskpulse/taskpulse/backend/internal/handler/auth"
	"github.com/taskpulse/taskpulse/backend/internal/handler/chat"
	"github.com/taskpulse/taskpulse/backend/internal/handler/socket"
	"github.com/taskpulse/taskpulse/backend/internal/handler/task"
	middlewarePkg "github.com/taskpulse/taskpulse/backend/internal/middleware"
	"github.com/taskpulse/taskpulse/backend/internal/realtime"
	authService "github.com/taskpulse/taskpulse/backend/internal/service/auth"
	chatService "github.com/taskpulse/taskpulse/backend/internal/service/chat"
	taskService "github.com/taskpulse/taskpulse/backend/internal/service/task"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Auth   *authService.Service
	Tasks  *taskService.Service
	Chat   *chatService.Service
	Hub    *realtime.Hub
	Logger *zap.Logger

	ClientURLs    []string
	AuthRateLimit int // requests per minute per IP, 0 disables
	SendBuffer    int
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.ClientURLs))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Task Manager API is running"))
	})
	r.Handle("/metrics", promhttp.Handler())

	socket.New(deps.Hub, logger, socket.Options{
		SendBuffer:     deps.SendBuffer,
		AllowedOrigins: deps.ClientURLs,
	}).RegisterRoutes(r)

	requireAuth := middlewarePkg.RequireAuth(deps.Auth, logger)
	authHandler := auth.New(deps.Auth, logger)
	taskHandler := task.New(deps.Tasks, logger)
	chatHandler := chat.New(deps.Chat, deps.Hub, logger)

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			if deps.AuthRateLimit > 0 {
				ar.Use(httprate.LimitByIP(deps.AuthRateLimit, time.Minute))
			}
			authHandler.RegisterRoutes(ar, requireAuth)
		})

		api.Group(func(pr chi.Router) {
			pr.Use(requireAuth)
			pr.Route("/tasks", taskHandler.RegisterRoutes)
			chatHandler.RegisterRoutes(pr)
		})
	})

	return r
}
