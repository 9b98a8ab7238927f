package token

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/jwt"
)

// MockSigner is a mock implementation of Signer
type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) Configured() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockSigner) Mint(roomName, identity, displayName string) (string, error) {
	args := m.Called(roomName, identity, displayName)
	return args.String(0), args.Error(1)
}

func TestMint(t *testing.T) {
	signer := new(MockSigner)
	service := NewService(signer, "ws://hub/v1/rooms/ws")

	// Setup expectations
	signer.On("Configured").Return(true)
	signer.On("Mint", "alice_bob", "alice", "Alice").Return("signed", nil)

	// Execute
	out, err := service.Mint(context.Background(), &MintInput{
		UserID:      "alice",
		RoomName:    "alice_bob",
		DisplayName: "Alice",
		Identity:    "alice",
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "signed", out.Token)
	assert.Equal(t, "ws://hub/v1/rooms/ws", out.URL)
	signer.AssertExpectations(t)
}

func TestMint_DisplayNameDefaultsToIdentity(t *testing.T) {
	signer := new(MockSigner)
	service := NewService(signer, "")

	signer.On("Configured").Return(true)
	signer.On("Mint", "alice_bob", "bob", "bob").Return("signed", nil)

	_, err := service.Mint(context.Background(), &MintInput{UserID: "bob", RoomName: "alice_bob", Identity: "bob"})

	require.NoError(t, err)
	signer.AssertExpectations(t)
}

func TestMint_NotConfigured(t *testing.T) {
	signer := new(MockSigner)
	service := NewService(signer, "")

	signer.On("Configured").Return(false)

	_, err := service.Mint(context.Background(), &MintInput{UserID: "alice", RoomName: "alice_bob", Identity: "alice"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfiguration))
	signer.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything, mock.Anything)
}

func TestMint_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input MintInput
		code  apperrors.ErrorCode
	}{
		{"other identity", MintInput{UserID: "alice", RoomName: "alice_bob", Identity: "bob"}, apperrors.ErrCodeForbidden},
		{"foreign room", MintInput{UserID: "carol", RoomName: "alice_bob", Identity: "carol"}, apperrors.ErrCodeForbidden},
		{"malformed room", MintInput{UserID: "alice", RoomName: "alice", Identity: "alice"}, apperrors.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := new(MockSigner)
			signer.On("Configured").Return(true)
			service := NewService(signer, "")

			_, err := service.Mint(context.Background(), &tt.input)

			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			signer.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestMint_SignerError(t *testing.T) {
	signer := new(MockSigner)
	service := NewService(signer, "")

	signer.On("Configured").Return(true)
	signer.On("Mint", "alice_bob", "alice", "alice").Return("", errors.New("boom"))

	_, err := service.Mint(context.Background(), &MintInput{UserID: "alice", RoomName: "alice_bob", Identity: "alice"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInternal))
}

func TestMint_RealSignerRoundTrip(t *testing.T) {
	signer := jwt.NewRoomTokenSigner("key", "secret", 0)
	service := NewService(signer, "")

	// A zero TTL token is already expired, so only check issuance here.
	out, err := service.Mint(context.Background(), &MintInput{UserID: "alice", RoomName: "alice_bob", Identity: "alice"})

	require.NoError(t, err)
	assert.NotEmpty(t, out.Token)
}
