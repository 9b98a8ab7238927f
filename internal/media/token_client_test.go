package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "skillswap-backend/pkg/errors"
)

func TestTokenClient_MintToken(t *testing.T) {
	var got TokenRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TokenPath, r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"token":"room-token"}}`))
	}))
	defer server.Close()

	client := NewTokenClient(server.URL, "access")
	token, err := client.MintToken(context.Background(), "alice_bob", "Alice", "alice")

	require.NoError(t, err)
	assert.Equal(t, "room-token", token)
	assert.Equal(t, TokenRequest{RoomName: "alice_bob", DisplayName: "Alice", ParticipantID: "alice"}, got)
}

func TestTokenClient_ConfigurationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":{"code":"CONFIGURATION_ERROR","message":"media credentials missing"}}`))
	}))
	defer server.Close()

	_, err := NewTokenClient(server.URL, "").MintToken(context.Background(), "alice_bob", "Alice", "alice")

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfiguration))
}

func TestTokenClient_RejectedIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"error":{"code":"UNAUTHORIZED","message":"no token"}}`))
	}))
	defer server.Close()

	_, err := NewTokenClient(server.URL, "").MintToken(context.Background(), "alice_bob", "Alice", "alice")

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
}

func TestTokenClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewTokenClient(url, "").MintToken(context.Background(), "alice_bob", "Alice", "alice")

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
}
