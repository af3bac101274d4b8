package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/taskpulse/taskpulse/backend/internal/model/user"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// Session is what register and login hand back to the client.
type Session struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// Service implements account registration, login and token resolution.
type Service struct {
	users  user.Store
	tokens *Tokens
	cost   int
}

// NewService wires the user store and token issuer. A zero cost uses bcrypt's default.
func NewService(users user.Store, tokens *Tokens, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{users: users, tokens: tokens, cost: cost}
}

// Tokens exposes the issuer so the socket layer can verify claims.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// Register creates an account and signs a token for it.
func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, user.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return Session{}, err
	}
	return s.session(u)
}

// Login checks credentials. Unknown email and wrong password are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(u)
}

// Profile returns the user behind id.
func (s *Service) Profile(ctx context.Context, id string) (user.User, error) {
	return s.users.FindByID(ctx, id)
}

// Authenticate resolves a bearer token to an existing user.
func (s *Service) Authenticate(ctx context.Context, token string) (user.User, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		return user.User{}, err
	}
	return s.users.FindByID(ctx, id)
}

func (s *Service) session(u user.User) (Session, error) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{ID: u.ID, Name: u.Name, Email: u.Email, Token: token}, nil
}
