package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingCredentials is returned when the room token signer has no API key or secret.
var ErrMissingCredentials = errors.New("media api credentials are not configured")

// VideoGrant scopes a room token to one room.
type VideoGrant struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

// RoomClaims is the payload of a media room access token. The issuer is the API key
// and the subject is the participant identity.
type RoomClaims struct {
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video"`
	jwt.RegisteredClaims
}

// RoomTokenSigner mints and verifies room tokens with an API key/secret pair.
type RoomTokenSigner struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

// NewRoomTokenSigner creates a signer. Empty credentials are accepted so the service can
// start and report a configuration error per request.
func NewRoomTokenSigner(apiKey, apiSecret string, ttl time.Duration) *RoomTokenSigner {
	return &RoomTokenSigner{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}
}

// Configured reports whether both credentials are present.
func (s *RoomTokenSigner) Configured() bool {
	return s.apiKey != "" && s.apiSecret != ""
}

// Mint issues a token granting join, publish, subscribe and data publish in roomName.
func (s *RoomTokenSigner) Mint(roomName, identity, displayName string) (string, error) {
	if !s.Configured() {
		return "", ErrMissingCredentials
	}

	now := time.Now()
	claims := &RoomClaims{
		Name: displayName,
		Video: &VideoGrant{
			Room:           roomName,
			RoomJoin:       true,
			CanPublish:     true,
			CanSubscribe:   true,
			CanPublishData: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.apiKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.apiSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign room token: %w", err)
	}
	return signed, nil
}

// Verify parses a room token and checks it was issued by this signer's API key.
func (s *RoomTokenSigner) Verify(tokenString string) (*RoomClaims, error) {
	if !s.Configured() {
		return nil, ErrMissingCredentials
	}

	token, err := jwt.ParseWithClaims(tokenString, &RoomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.apiSecret), nil
	}, jwt.WithIssuer(s.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse room token: %w", err)
	}

	claims, ok := token.Claims.(*RoomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid room token")
	}
	if claims.Video == nil || !claims.Video.RoomJoin || claims.Video.Room == "" {
		return nil, fmt.Errorf("room token carries no join grant")
	}
	return claims, nil
}
