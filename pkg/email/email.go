package email

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
)

// Email represents an email to be sent
type Email struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// MissedCallEmailData contains data for the missed call email
type MissedCallEmailData struct {
	RecipientName string
	CallerName    string
	CallType      string
	At            time.Time
	AppURL        string
}

// Sender defines the interface for sending emails
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// MockSender is a mock implementation for development/testing
type MockSender struct{}

// Send sends an email (mock implementation)
func (m *MockSender) Send(ctx context.Context, email *Email) error {
	logger.Info("Mock email sent",
		zap.String("to", email.To),
		zap.String("subject", email.Subject))
	return nil
}

// APISender posts emails to a transactional email HTTP API
type APISender struct {
	client *resty.Client
	url    string
}

// NewAPISender creates a sender authenticating with a bearer API key
func NewAPISender(url, apiKey string) *APISender {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &APISender{client: client, url: url}
}

// Send posts the email
func (s *APISender) Send(ctx context.Context, email *Email) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(email).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("email api returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Service handles email sending operations
type Service struct {
	sender Sender
	from   string
}

// NewService creates a new email service
func NewService(sender Sender, from string) *Service {
	return &Service{
		sender: sender,
		from:   from,
	}
}

// SendMissedCallEmail tells the callee they missed a call
func (s *Service) SendMissedCallEmail(ctx context.Context, to string, data *MissedCallEmailData) error {
	return s.sender.Send(ctx, &Email{
		To:      to,
		From:    s.from,
		Subject: fmt.Sprintf("Missed %s call from %s", data.CallType, data.CallerName),
		HTML:    buildMissedCallHTML(data),
		Text:    buildMissedCallText(data),
	})
}

func buildMissedCallText(data *MissedCallEmailData) string {
	return fmt.Sprintf(`Hi %s,

You missed a %s call from %s at %s.

Open the conversation to call back:

%s

The SkillSwap Team`, data.RecipientName, data.CallType, data.CallerName,
		data.At.UTC().Format("Jan 2, 15:04 MST"), data.AppURL)
}

func buildMissedCallHTML(data *MissedCallEmailData) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Missed call - SkillSwap</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .content { background: #ffffff; padding: 30px; border-radius: 8px; }
        .button { display: inline-block; padding: 12px 30px; background: #4a90e2; color: #ffffff; text-decoration: none; border-radius: 5px; }
    </style>
</head>
<body>
    <div class="content">
        <p>Hi %s,</p>
        <p>You missed a %s call from <strong>%s</strong> at %s.</p>
        <p style="text-align: center;"><a href="%s" class="button">Call back</a></p>
    </div>
</body>
</html>`, data.RecipientName, data.CallType, data.CallerName,
		data.At.UTC().Format("Jan 2, 15:04 MST"), data.AppURL)
}
