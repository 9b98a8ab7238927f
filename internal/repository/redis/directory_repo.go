package redis

import (
	"context"
	"fmt"

	"skillswap-backend/internal/database"
	"skillswap-backend/internal/domain"
)

func contactKey(userID string) string {
	return "directory:user:" + userID
}

// DirectoryRepository maps user ids to contact details in Redis
type DirectoryRepository struct {
	client *database.RedisClient
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(client *database.RedisClient) *DirectoryRepository {
	return &DirectoryRepository{client: client}
}

// SetContact stores the contact without expiry
func (r *DirectoryRepository) SetContact(ctx context.Context, c *domain.Contact) error {
	err := r.client.SafeHSet(ctx, contactKey(c.UserID),
		"display_name", c.DisplayName,
		"email", c.Email,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set contact: %w", err)
	}
	return nil
}

// GetContact returns the contact or nil when unknown
func (r *DirectoryRepository) GetContact(ctx context.Context, userID string) (*domain.Contact, error) {
	fields, err := r.client.SafeHGetAll(ctx, contactKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &domain.Contact{
		UserID:      userID,
		DisplayName: fields["display_name"],
		Email:       fields["email"],
	}, nil
}
