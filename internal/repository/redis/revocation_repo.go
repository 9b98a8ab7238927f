package redis

import (
	"context"
	"fmt"
	"time"

	"skillswap-backend/internal/database"
	"skillswap-backend/pkg/jwt"
)

func blacklistKey(tokenID string) string {
	return "blacklist:" + tokenID
}

// RevocationRepository keeps revoked access token ids until they would have
// expired anyway
type RevocationRepository struct {
	client *database.RedisClient
}

// NewRevocationRepository creates a new RevocationRepository
func NewRevocationRepository(client *database.RedisClient) *RevocationRepository {
	return &RevocationRepository{client: client}
}

// Revoke blacklists the token id for ttl
func (r *RevocationRepository) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if err := r.client.SafeSet(ctx, blacklistKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether the token's id is blacklisted. Tokens without
// an id cannot be revoked.
func (r *RevocationRepository) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	id, err := jwt.TokenID(tokenString)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, nil
	}

	n, err := r.client.SafeExists(ctx, blacklistKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return n > 0, nil
}
