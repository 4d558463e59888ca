package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"sweetshop-rest-api/internal/cache"
	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/repository"
)

func newAuth(t *testing.T) *AuthService {
	t.Helper()
	kv := cache.NewMemoryCache()
	t.Cleanup(func() { kv.Close() })

	s := NewAuthService(repository.NewMemoryStore(), NewTokenService(kv, time.Hour, zap.NewNop()), zap.NewNop())
	s.cost = bcrypt.MinCost
	return s
}

func TestAuth_RegisterLoginLogout(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()

	u, err := auth.Register(ctx, RegisterInput{Name: "Alice", Email: "Alice@Example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.NotEqual(t, "password123", u.PasswordHash)

	session, err := auth.Login(ctx, "ALICE@example.com", "password123")
	require.NoError(t, err)
	assert.Contains(t, session.Token, TokenPrefix)

	claims, err := auth.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.False(t, claims.IsAdmin())

	require.NoError(t, auth.Logout(ctx, session.Token))
	_, err = auth.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuth_RegisterValidation(t *testing.T) {
	auth := newAuth(t)

	_, err := auth.Register(context.Background(), RegisterInput{Name: "A", Email: "not-an-email", Password: "short"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")
}

func TestAuth_DuplicateEmail(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()
	in := RegisterInput{Name: "Bob", Email: "bob@example.com", Password: "password123"}

	_, err := auth.Register(ctx, in)
	require.NoError(t, err)

	in.Email = "BOB@example.com"
	_, err = auth.Register(ctx, in)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestAuth_BadCredentials(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()
	_, err := auth.Register(ctx, RegisterInput{Name: "Carol", Email: "carol@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = auth.Login(ctx, "carol@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = auth.Authenticate(ctx, TokenPrefix+"unknown")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuth_EnsureAdminIsIdempotent(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()
	in := RegisterInput{Name: "Admin", Email: "admin@example.com", Password: "admin-password"}

	first, err := auth.EnsureAdmin(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, first.Role)

	second, err := auth.EnsureAdmin(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	session, err := auth.Login(ctx, in.Email, in.Password)
	require.NoError(t, err)
	claims, err := auth.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
}

func TestTokenService_Expiry(t *testing.T) {
	kv := cache.NewMemoryCache()
	defer kv.Close()
	tokens := NewTokenService(kv, 20*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	token, err := tokens.GenerateToken(ctx, model.TokenData{UserID: 1, Role: model.RoleUser})
	require.NoError(t, err)

	_, err = tokens.ValidateToken(ctx, token)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = tokens.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
