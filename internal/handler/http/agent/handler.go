package agent

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skillswap-backend/internal/agent"
	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/media"
	"skillswap-backend/internal/service/call"
	"skillswap-backend/pkg/constants"
	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/pagination"
	"skillswap-backend/pkg/response"
)

// Handler serves the local control API of a call agent
type Handler struct {
	agent *agent.Agent
}

// NewHandler creates a new agent handler
func NewHandler(a *agent.Agent) *Handler {
	return &Handler{agent: a}
}

// Register mounts every control route on rg
func (h *Handler) Register(rg gin.IRouter) {
	calls := rg.Group("/calls")
	calls.POST("", h.StartCall)
	calls.GET("", h.ListCalls)
	calls.GET("/:pair", h.GetCall)
	calls.POST("/:pair/answer", h.AnswerCall)
	calls.POST("/:pair/decline", h.DeclineCall)
	calls.POST("/:pair/end", h.EndCall)
	calls.POST("/:pair/mute", h.SetMuted)
	calls.POST("/:pair/camera", h.SetCamera)
	calls.POST("/:pair/speaker", h.SetSpeaker)
	calls.POST("/:pair/screenshare", h.SetScreenShare)

	rg.POST("/notifier/arm", h.ArmNotifier)
	rg.POST("/notifier/disarm", h.DisarmNotifier)
	rg.GET("/incoming", h.ListIncoming)
	rg.POST("/incoming/:id/answer", h.AnswerIncoming)
	rg.POST("/incoming/:id/decline", h.DeclineIncoming)

	chats := rg.Group("/chats/:pair")
	chats.GET("/messages", h.GetMessages)
	chats.POST("/messages", h.SendMessage)
	chats.POST("/files", h.SendFile)
	chats.POST("/open", h.OpenChat)
	chats.POST("/close", h.CloseChat)

	rg.POST("/presence/visibility", h.SetVisibility)
}

// StartCallRequest represents call initiation request
type StartCallRequest struct {
	PeerID   string `json:"peerId" binding:"required"`
	PeerName string `json:"peerName"`
	CallType string `json:"callType" binding:"required,oneof=audio video"`
}

// ToggleRequest carries a media switch. Pointers tell false from missing.
type ToggleRequest struct {
	Muted   *bool `json:"muted"`
	Enabled *bool `json:"enabled"`
}

// SendMessageRequest represents a text message
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// VisibilityRequest reports whether the app is in the foreground
type VisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// renderError maps machine and media errors onto the response envelope
func renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, media.ErrAudioOnly):
		err = apperrors.InvalidStateError("Camera and screen share are unavailable on audio calls")
	case errors.Is(err, media.ErrSessionClosed):
		err = apperrors.InvalidStateError("Media session is closed")
	}
	appErr := apperrors.GetAppError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Warn("Agent request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	response.FromError(c, appErr)
}

func (h *Handler) machine(c *gin.Context) (*call.Machine, bool) {
	c.Request = c.Request.WithContext(logger.WithPairID(c.Request.Context(), c.Param("pair")))
	m, err := h.agent.Machine(c.Param("pair"))
	if err != nil {
		renderError(c, err)
		return nil, false
	}
	return m, true
}

// StartCall dials a peer
// POST /v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	peer := call.Participant{ID: req.PeerID, Name: req.PeerName}
	snap, err := h.agent.StartCall(c.Request.Context(), peer, domain.CallType(req.CallType))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, snap)
}

// ListCalls returns every live machine
// GET /v1/calls
func (h *Handler) ListCalls(c *gin.Context) {
	response.Success(c, http.StatusOK, h.agent.Calls.List())
}

// GetCall returns the conversation's call state
// GET /v1/calls/:pair
func (h *Handler) GetCall(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, m.Snapshot())
}

func (h *Handler) act(c *gin.Context, do func(*call.Machine) error) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if err := do(m); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, http.StatusOK, m.Snapshot())
}

// AnswerCall accepts the ringing call
// POST /v1/calls/:pair/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	h.act(c, func(m *call.Machine) error { return m.AnswerCall(c.Request.Context()) })
}

// DeclineCall rejects the ringing call
// POST /v1/calls/:pair/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	h.act(c, func(m *call.Machine) error { return m.DeclineCall(c.Request.Context()) })
}

// EndCall hangs up
// POST /v1/calls/:pair/end
func (h *Handler) EndCall(c *gin.Context) {
	h.act(c, func(m *call.Machine) error { return m.EndCall(c.Request.Context()) })
}

func bindToggle(c *gin.Context, muted bool) (bool, bool) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return false, false
	}
	v := req.Enabled
	field := "enabled"
	if muted {
		v, field = req.Muted, "muted"
	}
	if v == nil {
		response.ValidationError(c, field+" is required")
		return false, false
	}
	return *v, true
}

// SetMuted mutes or unmutes the microphone
// POST /v1/calls/:pair/mute {"muted": bool}
func (h *Handler) SetMuted(c *gin.Context) {
	v, ok := bindToggle(c, true)
	if !ok {
		return
	}
	h.act(c, func(m *call.Machine) error { return m.SetMuted(c.Request.Context(), v) })
}

// SetCamera turns the camera on or off
// POST /v1/calls/:pair/camera {"enabled": bool}
func (h *Handler) SetCamera(c *gin.Context) {
	v, ok := bindToggle(c, false)
	if !ok {
		return
	}
	h.act(c, func(m *call.Machine) error { return m.SetCameraEnabled(c.Request.Context(), v) })
}

// SetSpeaker mutes or unmutes playback
// POST /v1/calls/:pair/speaker {"muted": bool}
func (h *Handler) SetSpeaker(c *gin.Context) {
	v, ok := bindToggle(c, true)
	if !ok {
		return
	}
	h.act(c, func(m *call.Machine) error { return m.SetSpeakerMuted(c.Request.Context(), v) })
}

// SetScreenShare starts or stops screen sharing
// POST /v1/calls/:pair/screenshare {"enabled": bool}
func (h *Handler) SetScreenShare(c *gin.Context) {
	v, ok := bindToggle(c, false)
	if !ok {
		return
	}
	h.act(c, func(m *call.Machine) error { return m.SetScreenShare(c.Request.Context(), v) })
}

// ArmNotifier starts showing incoming call overlays
// POST /v1/notifier/arm
func (h *Handler) ArmNotifier(c *gin.Context) {
	if err := h.agent.ArmNotifier(); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"armed": true})
}

// DisarmNotifier hides overlays and stops watching
// POST /v1/notifier/disarm
func (h *Handler) DisarmNotifier(c *gin.Context) {
	h.agent.Notifier.Disarm()
	response.Success(c, http.StatusOK, gin.H{"armed": false})
}

// ListIncoming returns the overlays on screen
// GET /v1/incoming
func (h *Handler) ListIncoming(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"armed": h.agent.Notifier.Armed(),
		"calls": h.agent.Notifier.Pending(),
	})
}

// AnswerIncoming answers an overlay call
// POST /v1/incoming/:id/answer
func (h *Handler) AnswerIncoming(c *gin.Context) {
	m, err := h.agent.Notifier.Answer(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, http.StatusOK, m.Snapshot())
}

// DeclineIncoming declines an overlay call
// POST /v1/incoming/:id/decline
func (h *Handler) DeclineIncoming(c *gin.Context) {
	if err := h.agent.Notifier.Decline(c.Request.Context(), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"declined": c.Param("id")})
}

// GetMessages lists the newest messages, oldest first
// GET /v1/chats/:pair/messages?limit=<n>
func (h *Handler) GetMessages(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	pairID := c.Param("pair")
	msgs, err := h.agent.Chat.History(c.Request.Context(), pairID, limit)
	if err != nil {
		renderError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.ChatMessage{}
	}
	response.Success(c, http.StatusOK, gin.H{
		"messages": msgs,
		"unread":   h.agent.Unread(pairID),
	})
}

// SendMessage posts a text message
// POST /v1/chats/:pair/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	msg, err := h.agent.Chat.PostText(c.Request.Context(), c.Param("pair"), h.agent.ChatSender(), req.Text)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// SendFile uploads a multipart "file" and posts it
// POST /v1/chats/:pair/files
func (h *Handler) SendFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxAttachmentSize+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		response.ValidationError(c, "file is required")
		return
	}
	if fh.Size > constants.MaxAttachmentSize {
		response.ValidationError(c, "file exceeds the attachment size limit")
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.ValidationError(c, "failed to read file")
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	msg, err := h.agent.Chat.PostFile(c.Request.Context(), c.Param("pair"), h.agent.ChatSender(), fh.Filename, contentType, f, fh.Size)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// OpenChat marks the chat panel open
// POST /v1/chats/:pair/open
func (h *Handler) OpenChat(c *gin.Context) {
	pairID := c.Param("pair")
	if err := h.agent.OpenChat(pairID); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"pairId": pairID, "unread": 0})
}

// CloseChat marks the chat panel closed
// POST /v1/chats/:pair/close
func (h *Handler) CloseChat(c *gin.Context) {
	pairID := c.Param("pair")
	h.agent.CloseChat(pairID)
	response.Success(c, http.StatusOK, gin.H{"pairId": pairID, "unread": h.agent.Unread(pairID)})
}

// SetVisibility records app foreground/background changes
// POST /v1/presence/visibility
func (h *Handler) SetVisibility(c *gin.Context) {
	var req VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if err := h.agent.Presence.SetVisible(c.Request.Context(), *req.Visible); err != nil {
		renderError(c, apperrors.DatabaseError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"visible": *req.Visible})
}
