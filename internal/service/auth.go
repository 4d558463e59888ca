package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/repository"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minPasswordLength = 8

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is returned on successful login.
type Session struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// AuthService handles registration, login and logout.
type AuthService struct {
	users  repository.UserRepository
	tokens *TokenService
	cost   int
	log    *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(users repository.UserRepository, tokens *TokenService, logger *zap.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, cost: bcrypt.DefaultCost, log: logger.Named("auth")}
}

// Register creates a USER account.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	return s.createUser(ctx, in, model.RoleUser)
}

// EnsureAdmin creates an ADMIN account unless the email is already registered.
func (s *AuthService) EnsureAdmin(ctx context.Context, in RegisterInput) (*model.User, error) {
	u, err := s.createUser(ctx, in, model.RoleAdmin)
	if errors.Is(err, ErrEmailTaken) {
		return s.users.GetUserByEmail(ctx, normalizeEmail(in.Email))
	}
	return u, err
}

func (s *AuthService) createUser(ctx context.Context, in RegisterInput, role model.Role) (*model.User, error) {
	fields := map[string]string{}
	if len(strings.TrimSpace(in.Name)) < 2 {
		fields["name"] = "must be at least 2 characters"
	}
	email := normalizeEmail(in.Email)
	if !emailPattern.MatchString(email) {
		fields["email"] = "must be a valid email address"
	}
	if len(in.Password) < minPasswordLength {
		fields["password"] = "must be at least 8 characters"
	}
	if err := newValidationError(fields); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, asStorageError("create user", err)
	}

	s.log.Info("user registered", zap.Int64("user_id", u.ID), zap.String("role", string(role)))
	return u, nil
}

// Login checks credentials and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, asStorageError("get user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateToken(ctx, model.TokenData{UserID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}

// Logout revokes a session token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.tokens.RevokeToken(ctx, token)
}

// Authenticate resolves a session token to its claims.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.TokenData, error) {
	return s.tokens.ValidateToken(ctx, token)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
