package calls

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/media"
	"skillswap-backend/internal/middleware"
	"skillswap-backend/internal/service/token"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/pagination"
	"skillswap-backend/pkg/response"
)

// TokenMinter issues room tokens
type TokenMinter interface {
	Mint(ctx context.Context, input *token.MintInput) (*media.TokenResponse, error)
}

// HistoryReader reads the durable call log
type HistoryReader interface {
	History(ctx context.Context, userID string, before time.Time, limit int) ([]*domain.CallLog, error)
}

// Handler handles call-service HTTP requests
type Handler struct {
	tokens  TokenMinter
	history HistoryReader
	now     func() time.Time
}

// NewHandler creates a new call handler. history may be nil when no call log
// database is configured.
func NewHandler(tokens TokenMinter, history HistoryReader) *Handler {
	return &Handler{
		tokens:  tokens,
		history: history,
		now:     time.Now,
	}
}

// IssueToken mints a room token for the authenticated user
// POST /v1/calls/token
func (h *Handler) IssueToken(c *gin.Context) {
	var req media.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.tokens.Mint(c.Request.Context(), &token.MintInput{
		UserID:      middleware.UserID(c),
		RoomName:    req.RoomName,
		DisplayName: req.DisplayName,
		Identity:    req.ParticipantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, out)
}

// GetHistory lists the user's calls, newest first
// GET /v1/calls/history?before=<rfc3339>&limit=<n>
func (h *Handler) GetHistory(c *gin.Context) {
	if h.history == nil {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Call history is not available")
		return
	}

	params, err := pagination.ParseCursorParams(c.Query("before"), c.Query("limit"), h.now())
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID := middleware.UserID(c)
	logs, err := h.history.History(c.Request.Context(), userID, params.Before, params.Limit)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("Failed to load call history",
			zap.String("user_id", userID),
			zap.Error(err))
		response.InternalError(c, "Failed to load call history")
		return
	}
	if logs == nil {
		logs = []*domain.CallLog{}
	}

	var last time.Time
	if n := len(logs); n > 0 {
		last = logs[n-1].StartedAt
	}
	response.Success(c, http.StatusOK, pagination.BuildCursorResponse(params, logs, len(logs), last))
}
