package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/taskpulse/taskpulse/backend/internal/config"
	"github.com/taskpulse/taskpulse/backend/internal/handler"
	"github.com/taskpulse/taskpulse/backend/internal/logger"
	"github.com/taskpulse/taskpulse/backend/internal/model/chat"
	"github.com/taskpulse/taskpulse/backend/internal/model/task"
	"github.com/taskpulse/taskpulse/backend/internal/model/user"
	"github.com/taskpulse/taskpulse/backend/internal/realtime"
	authService "github.com/taskpulse/taskpulse/backend/internal/service/auth"
	chatService "github.com/taskpulse/taskpulse/backend/internal/service/chat"
	taskService "github.com/taskpulse/taskpulse/backend/internal/service/task"
	"github.com/taskpulse/taskpulse/backend/internal/storage/mongo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()
	zap.ReplaceGlobals(lg)

	if envErr != nil {
		lg.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(envErr))
	}
	if cfg.Auth.DefaultSecret() {
		lg.Warn("JWT_SECRET is not set, using the development default")
	}

	st, err := openStores(ctx, cfg.Mongo, lg)
	if err != nil {
		lg.Fatal("failed to open stores", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.close(closeCtx); err != nil {
			lg.Warn("failed to close stores", zap.Error(err))
		}
	}()

	tokens, err := authService.NewTokens(authService.TokenOptions{
		Secret: []byte(cfg.Auth.JWTSecret),
		Alg:    cfg.Auth.JWTAlg,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		lg.Fatal("failed to initialize token issuer", zap.Error(err))
	}

	authSvc := authService.NewService(st.users, tokens, cfg.Auth.BcryptCost)
	hub := realtime.NewHub(st.users, st.messages, lg, realtime.WithTokenVerifier(tokens, cfg.Realtime.RequireToken))

	router := handler.NewRouter(handler.Deps{
		Auth:          authSvc,
		Tasks:         taskService.NewService(st.tasks),
		Chat:          chatService.NewService(st.messages, st.users),
		Hub:           hub,
		Logger:        lg,
		ClientURLs:    cfg.Server.ClientURLs,
		AuthRateLimit: cfg.Server.AuthRateLimit,
		SendBuffer:    cfg.Realtime.SendBuffer,
	})

	startServer(ctx, cfg.Server, router, hub, lg)
}

type stores struct {
	users    user.Store
	tasks    task.Store
	messages chat.Store
	close    func(context.Context) error
}

// openStores connects to the document store, or falls back to process memory
// when no URI is configured.
func openStores(ctx context.Context, cfg config.MongoConfig, lg *zap.Logger) (stores, error) {
	if !cfg.Enabled() {
		lg.Warn("MONGO_URI is not set, data is kept in memory and lost on restart")
		return stores{
			users:    user.NewMemoryStore(),
			tasks:    task.NewMemoryStore(),
			messages: chat.NewMemoryStore(),
			close:    func(context.Context) error { return nil },
		}, nil
	}

	client, err := mongo.Connect(ctx, mongo.Config{
		URI:         cfg.URI,
		Database:    cfg.Database,
		MaxPoolSize: cfg.MaxPoolSize,
		MaxRetry:    cfg.ConnectRetries,
	}, lg)
	if err != nil {
		return stores{}, err
	}
	if err := client.EnsureIndexes(ctx); err != nil {
		_ = client.Close(context.Background())
		return stores{}, fmt.Errorf("ensure indexes: %w", err)
	}

	return stores{
		users:    client.Users(),
		tasks:    client.Tasks(),
		messages: client.Messages(),
		close:    client.Close,
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, hub *realtime.Hub, lg *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Shutdown does not track hijacked websocket connections.
	srv.RegisterOnShutdown(hub.Close)

	lg.Info("task manager backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		lg.Fatal("server error", zap.Error(err))
	}
	lg.Info("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
