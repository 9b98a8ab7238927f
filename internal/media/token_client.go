package media

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/metrics"
)

// TokenPath is the token endpoint route on call-service
const TokenPath = "/v1/calls/token"

// TokenRequest is the body posted to the token endpoint
type TokenRequest struct {
	RoomName      string `json:"roomName" binding:"required"`
	DisplayName   string `json:"displayName"`
	ParticipantID string `json:"participantId" binding:"required"`
}

// TokenResponse is the data payload returned by the token endpoint
type TokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url,omitempty"`
}

type tokenEnvelope struct {
	Success bool           `json:"success"`
	Data    *TokenResponse `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// TokenClient mints room tokens from call-service
type TokenClient struct {
	client *resty.Client
}

// NewTokenClient creates a client for baseURL authenticating with accessToken
func NewTokenClient(baseURL, accessToken string) *TokenClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if accessToken != "" {
		client.SetAuthToken(accessToken)
	}
	return &TokenClient{client: client}
}

// MintToken requests a token for identity to join room
func (c *TokenClient) MintToken(ctx context.Context, room, displayName, identity string) (string, error) {
	var env tokenEnvelope
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(TokenRequest{RoomName: room, DisplayName: displayName, ParticipantID: identity}).
		SetResult(&env).
		SetError(&env).
		Post(TokenPath)
	if err != nil {
		metrics.RoomTokensTotal.WithLabelValues("transport_error").Inc()
		return "", apperrors.TransportError("token request failed", err)
	}

	if resp.IsError() || !env.Success {
		if env.Error != nil && env.Error.Code == string(apperrors.ErrCodeConfiguration) {
			metrics.RoomTokensTotal.WithLabelValues("not_configured").Inc()
			return "", apperrors.ConfigurationError(env.Error.Message)
		}
		metrics.RoomTokensTotal.WithLabelValues("rejected").Inc()
		msg := resp.Status()
		if env.Error != nil {
			msg = env.Error.Code + ": " + env.Error.Message
		}
		return "", apperrors.TransportError("token request rejected", fmt.Errorf("%s", msg))
	}

	if env.Data == nil || env.Data.Token == "" {
		metrics.RoomTokensTotal.WithLabelValues("rejected").Inc()
		return "", apperrors.TransportError("token response carried no token", nil)
	}

	metrics.RoomTokensTotal.WithLabelValues("received").Inc()
	return env.Data.Token, nil
}
