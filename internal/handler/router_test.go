package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/taskpulse/taskpulse/backend/internal/model/chat"
	"github.com/taskpulse/taskpulse/backend/internal/model/task"
	"github.com/taskpulse/taskpulse/backend/internal/model/user"
	"github.com/taskpulse/taskpulse/backend/internal/realtime"
	authService "github.com/taskpulse/taskpulse/backend/internal/service/auth"
	chatService "github.com/taskpulse/taskpulse/backend/internal/service/chat"
	taskService "github.com/taskpulse/taskpulse/backend/internal/service/task"
)

func setupRouter(t *testing.T, rateLimit int) http.Handler {
	t.Helper()
	users := user.NewMemoryStore()
	messages := chat.NewMemoryStore()
	tokens, err := authService.NewTokens(authService.TokenOptions{Secret: []byte("router-test"), TTL: time.Hour})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	authSvc := authService.NewService(users, tokens, bcrypt.MinCost)

	return NewRouter(Deps{
		Auth:          authSvc,
		Tasks:         taskService.NewService(task.NewMemoryStore()),
		Chat:          chatService.NewService(messages, users),
		Hub:           realtime.NewHub(users, messages, nil, realtime.WithTokenVerifier(tokens, false)),
		AuthRateLimit: rateLimit,
	})
}

func TestRootAndMetrics(t *testing.T) {
	r := setupRouter(t, 0)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "Task Manager API is running" {
		t.Fatalf("unexpected root response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "realtime_connections_active") {
		t.Fatalf("expected realtime metrics to be exported")
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	r := setupRouter(t, 0)

	for _, path := range []string{"/api/tasks", "/api/tasks/stats", "/api/messages/x", "/api/presence/x", "/api/auth/profile"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestRegisterThenUseToken(t *testing.T) {
	r := setupRouter(t, 0)

	body, _ := json.Marshal(map[string]string{"name": "Alice", "email": "alice@example.com", "password": "secret1"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var session authService.Session
	json.NewDecoder(rec.Body).Decode(&session)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"first"}`))
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/presence/"+session.ID, nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"online":false`) {
		t.Fatalf("unexpected presence response %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuthRateLimit(t *testing.T) {
	r := setupRouter(t, 2)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding the limit, got %d", last)
	}
}
