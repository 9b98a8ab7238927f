package domain

// Contact is how a user can be reached outside the app
type Contact struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}
