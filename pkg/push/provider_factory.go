package push

import (
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeMock     ProviderType = "mock"
	ProviderTypeFirebase ProviderType = "firebase"
)

// NewProvider returns the provider for providerType. client is required for
// firebase and ignored otherwise.
func NewProvider(providerType ProviderType, client *messaging.Client) (Provider, error) {
	logger.Info("Initializing push notification provider",
		zap.String("provider_type", string(providerType)))

	switch providerType {
	case ProviderTypeFirebase:
		if client == nil {
			return nil, fmt.Errorf("firebase push provider requires a messaging client")
		}
		return NewFirebaseProvider(client), nil
	case ProviderTypeMock, "":
		return MockProvider{}, nil
	default:
		logger.Warn("Unknown push provider type, falling back to mock",
			zap.String("provider_type", string(providerType)))
		return MockProvider{}, nil
	}
}
