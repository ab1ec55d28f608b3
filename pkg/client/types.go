package client

import (
	"fmt"
	"time"
)

// Bot is a bot definition as accepted by POST /bots.
type Bot struct {
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	Path         string `json:"path"`
	StartCommand string `json:"startCommand"`
}

// BotStatus is one entry of GET /bots.
type BotStatus struct {
	Bot
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

type addResponse struct {
	OK  bool `json:"ok"`
	Bot Bot  `json:"bot"`
}

type logsResponse struct {
	Logs string `json:"logs"`
}

// LoginRequest is the body of POST /auth/login. Method is "basic" or
// "client_secret".
type LoginRequest struct {
	Method       string `json:"method"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// LoginResult carries the issued token.
type LoginResult struct {
	Success bool     `json:"success"`
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
	Token   *struct {
		Type      string    `json:"type"`
		Value     string    `json:"value"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"token"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// APIError is returned for any non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("API error (HTTP %d): %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}
