package auth

import (
	"errors"
	"time"
)

// AuthMethod represents the type of authentication
type AuthMethod string

const (
	AuthMethodBasic        AuthMethod = "basic"         // username/password
	AuthMethodClientSecret AuthMethod = "client_secret" // client_id/client_secret
	AuthMethodJWT          AuthMethod = "jwt"           // bearer token
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSecret           = errors.New("auth enabled without jwt_secret")
)

// Config enables authentication for the bot API. Users log in with a
// password, automation clients with a client secret; both are stored as
// bcrypt hashes (see `botvisor hash-password`).
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Users     []User        `mapstructure:"users"`
	Clients   []Client      `mapstructure:"clients"`
}

type User struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Roles        []string `mapstructure:"roles"`
}

type Client struct {
	ClientID   string   `mapstructure:"client_id"`
	SecretHash string   `mapstructure:"secret_hash"`
	Roles      []string `mapstructure:"roles"`
}

// AuthResult represents the result of authentication
type AuthResult struct {
	Success bool     `json:"success"`
	Subject string   `json:"subject,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Token   *Token   `json:"token,omitempty"`
	Method  string   `json:"method,omitempty"`
}

// Token represents a JWT token
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Method       AuthMethod `json:"method"`
	Username     string     `json:"username,omitempty"`
	Password     string     `json:"password,omitempty"`
	ClientID     string     `json:"client_id,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
}

// Actions on the bots resource.
const (
	ActionRead    = "read"    // list, logs
	ActionControl = "control" // start, stop
	ActionWrite   = "write"   // add, remove
)

// Permission represents a permission in the system
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}
