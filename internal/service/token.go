package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sweetshop-rest-api/internal/cache"
	"sweetshop-rest-api/internal/model"
)

const (
	// TokenPrefix is the prefix for all session tokens
	TokenPrefix = "sst_"

	// DefaultTokenTTL is the token lifetime when none is configured.
	DefaultTokenTTL = 24 * time.Hour

	// tokenKeyPrefix is the cache key prefix for tokens
	tokenKeyPrefix = "token:"
)

// TokenService issues opaque session tokens and keeps their data in the cache.
type TokenService struct {
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewTokenService creates a new token service.
func NewTokenService(c cache.Cache, ttl time.Duration, logger *zap.Logger) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{cache: c, ttl: ttl, log: logger.Named("token")}
}

// GenerateToken creates a new session token and stores it in the cache.
func (s *TokenService) GenerateToken(ctx context.Context, data model.TokenData) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	token := TokenPrefix + hex.EncodeToString(tokenBytes)

	data.CreatedAt = time.Now()
	data.ExpiresAt = data.CreatedAt.Add(s.ttl)

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize token data: %w", err)
	}

	if err := s.cache.Set(ctx, tokenKeyPrefix+token, jsonData, s.ttl); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	s.log.Debug("generated token", zap.Int64("user_id", data.UserID), zap.Time("expires", data.ExpiresAt))
	return token, nil
}

// ValidateToken checks if a token is valid and returns its data.
func (s *TokenService) ValidateToken(ctx context.Context, token string) (*model.TokenData, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return nil, ErrInvalidToken
	}

	key := tokenKeyPrefix + token
	jsonData, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var data model.TokenData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("failed to parse token data: %w", err)
	}

	if time.Now().After(data.ExpiresAt) {
		_ = s.cache.Delete(ctx, key)
		return nil, ErrInvalidToken
	}

	return &data, nil
}

// RevokeToken deletes a token from the cache.
func (s *TokenService) RevokeToken(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, tokenKeyPrefix+token)
}

// TTL returns the lifetime of newly issued tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }
