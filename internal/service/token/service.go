package token

import (
	"context"

	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/media"
	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
)

// Signer mints room tokens
type Signer interface {
	Configured() bool
	Mint(roomName, identity, displayName string) (string, error)
}

// Service issues room tokens to authenticated users
type Service struct {
	signer Signer
	hubURL string
}

// NewService creates a new token service. hubURL is returned with every token
// so clients know where to connect.
func NewService(signer Signer, hubURL string) *Service {
	return &Service{
		signer: signer,
		hubURL: hubURL,
	}
}

// MintInput contains the token request and the authenticated caller
type MintInput struct {
	UserID      string
	RoomName    string
	DisplayName string
	Identity    string
}

// Mint issues a token for input.Identity in input.RoomName. Users may only mint
// for themselves and only for rooms they are one side of.
func (s *Service) Mint(ctx context.Context, input *MintInput) (*media.TokenResponse, error) {
	if !s.signer.Configured() {
		metrics.RoomTokensTotal.WithLabelValues("unconfigured").Inc()
		logger.FromContext(ctx).Error("Room token requested but media credentials are missing")
		return nil, apperrors.ConfigurationError("Media server credentials are not configured")
	}

	if input.Identity != input.UserID {
		metrics.RoomTokensTotal.WithLabelValues("rejected").Inc()
		return nil, apperrors.ForbiddenError("Cannot request a token for another participant")
	}

	a, b, ok := domain.SplitPairID(input.RoomName)
	if !ok {
		metrics.RoomTokensTotal.WithLabelValues("rejected").Inc()
		return nil, apperrors.ValidationError("Invalid room name")
	}
	if a != input.UserID && b != input.UserID {
		metrics.RoomTokensTotal.WithLabelValues("rejected").Inc()
		return nil, apperrors.ForbiddenError("Not a participant of this room")
	}

	name := input.DisplayName
	if name == "" {
		name = input.Identity
	}

	token, err := s.signer.Mint(input.RoomName, input.Identity, name)
	if err != nil {
		metrics.RoomTokensTotal.WithLabelValues("rejected").Inc()
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to mint room token", err)
	}

	metrics.RoomTokensTotal.WithLabelValues("issued").Inc()
	logger.FromContext(ctx).Debug("Room token issued",
		zap.String("room", input.RoomName),
		zap.String("identity", input.Identity))

	return &media.TokenResponse{Token: token, URL: s.hubURL}, nil
}
