package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTManager(t *testing.T) {
	secret := "test-secret-key-for-testing-purposes"
	expiry := 15 * time.Minute

	manager := NewJWTManager(secret, "skillswap-api", expiry)

	assert.NotNil(t, manager)
	assert.Equal(t, secret, manager.secretKey)
	assert.Equal(t, expiry, manager.accessTokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "skillswap-api", 15*time.Minute)

	token, err := manager.GenerateAccessToken("user-a", "Ada")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	assert.NoError(t, err)
	assert.Equal(t, "user-a", claims.UserID)
	assert.Equal(t, "Ada", claims.DisplayName)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "skillswap-api", time.Nanosecond)

	token, err := manager.GenerateAccessToken("user-a", "Ada")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_WrongAudience(t *testing.T) {
	issuer := NewJWTManager("test-secret", "other-api", 15*time.Minute)
	verifier := NewJWTManager("test-secret", "skillswap-api", 15*time.Minute)

	token, err := issuer.GenerateAccessToken("user-a", "Ada")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := NewJWTManager("secret-1", "skillswap-api", 15*time.Minute)
	verifier := NewJWTManager("secret-2", "skillswap-api", 15*time.Minute)

	token, err := issuer.GenerateAccessToken("user-a", "Ada")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenID(t *testing.T) {
	manager := NewJWTManager("test-secret", "skillswap-api", 15*time.Minute)
	token, err := manager.GenerateAccessToken("user-a", "Ada")
	require.NoError(t, err)

	id, err := TokenID(token)
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = TokenID("not-a-token")
	assert.Error(t, err)
}

func TestRoomTokenSigner_MintAndVerify(t *testing.T) {
	signer := NewRoomTokenSigner("api-key", "api-secret", time.Hour)

	token, err := signer.Mint("alice_bob", "alice", "Alice")
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, "api-key", claims.Issuer)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "alice_bob", claims.Video.Room)
	assert.True(t, claims.Video.RoomJoin)
	assert.True(t, claims.Video.CanPublish)
	assert.True(t, claims.Video.CanSubscribe)
	assert.True(t, claims.Video.CanPublishData)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestRoomTokenSigner_MissingCredentials(t *testing.T) {
	signer := NewRoomTokenSigner("", "api-secret", time.Hour)

	assert.False(t, signer.Configured())
	_, err := signer.Mint("alice_bob", "alice", "Alice")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestRoomTokenSigner_RejectsForeignIssuer(t *testing.T) {
	foreign := NewRoomTokenSigner("other-key", "api-secret", time.Hour)
	signer := NewRoomTokenSigner("api-key", "api-secret", time.Hour)

	token, err := foreign.Mint("alice_bob", "alice", "Alice")
	require.NoError(t, err)

	_, err = signer.Verify(token)
	assert.Error(t, err)
}
