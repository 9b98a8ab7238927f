package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPISender_Send(t *testing.T) {
	var got Email
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	service := NewService(NewAPISender(server.URL, "key-1"), "noreply@skillswap.app")

	err := service.SendMissedCallEmail(context.Background(), "bob@example.com", &MissedCallEmailData{
		RecipientName: "Bob",
		CallerName:    "Alice",
		CallType:      "video",
		At:            time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		AppURL:        "https://skillswap.app/chats/alice_bob",
	})

	require.NoError(t, err)
	assert.Equal(t, "Bearer key-1", auth)
	assert.Equal(t, "bob@example.com", got.To)
	assert.Equal(t, "noreply@skillswap.app", got.From)
	assert.Equal(t, "Missed video call from Alice", got.Subject)
	assert.Contains(t, got.Text, "May 1, 10:00 UTC")
	assert.Contains(t, got.HTML, "https://skillswap.app/chats/alice_bob")
}

func TestAPISender_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad recipient"}`))
	}))
	defer server.Close()

	err := NewAPISender(server.URL, "key-1").Send(context.Background(), &Email{To: "x"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
