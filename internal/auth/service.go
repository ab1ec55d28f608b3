package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenTTL = 24 * time.Hour
	issuer          = "botvisor"
)

var rolePermissions = map[string][]Permission{
	"admin": {
		{Resource: "*", Action: "*"},
	},
	"operator": {
		{Resource: "bots", Action: ActionRead},
		{Resource: "bots", Action: ActionControl},
	},
	"viewer": {
		{Resource: "bots", Action: ActionRead},
	},
}

// Service checks credentials from the config and issues HS256 tokens.
type Service struct {
	users    map[string]User
	clients  map[string]Client
	secret   []byte
	tokenTTL time.Duration
}

// Claims represents JWT claims
type Claims struct {
	Roles  []string `json:"roles"`
	Method string   `json:"method"`
	jwt.RegisteredClaims
}

// NewService validates cfg. A disabled config yields a nil Service.
func NewService(cfg Config) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	s := &Service{
		users:    make(map[string]User, len(cfg.Users)),
		clients:  make(map[string]Client, len(cfg.Clients)),
		secret:   []byte(cfg.JWTSecret),
		tokenTTL: cfg.TokenTTL,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}
	for _, u := range cfg.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("auth user needs username and password_hash")
		}
		if err := checkRoles(u.Roles); err != nil {
			return nil, fmt.Errorf("auth user %s: %w", u.Username, err)
		}
		s.users[u.Username] = u
	}
	for _, c := range cfg.Clients {
		if c.ClientID == "" || c.SecretHash == "" {
			return nil, fmt.Errorf("auth client needs client_id and secret_hash")
		}
		if err := checkRoles(c.Roles); err != nil {
			return nil, fmt.Errorf("auth client %s: %w", c.ClientID, err)
		}
		s.clients[c.ClientID] = c
	}
	return s, nil
}

func checkRoles(roles []string) error {
	for _, r := range roles {
		if _, ok := rolePermissions[r]; !ok {
			return fmt.Errorf("unknown role %q", r)
		}
	}
	return nil
}

// HashPassword returns the bcrypt hash to store in the config.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Authenticate performs authentication based on the login request. Basic
// and client secret logins get a fresh token in the result.
func (s *Service) Authenticate(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	switch req.Method {
	case AuthMethodBasic:
		u, ok := s.users[req.Username]
		if !ok || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
			return &AuthResult{Success: false}, ErrInvalidCredentials
		}
		return s.issue(u.Username, u.Roles, AuthMethodBasic)
	case AuthMethodClientSecret:
		c, ok := s.clients[req.ClientID]
		if !ok || bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(req.ClientSecret)) != nil {
			return &AuthResult{Success: false}, ErrInvalidCredentials
		}
		return s.issue(c.ClientID, c.Roles, AuthMethodClientSecret)
	default:
		return &AuthResult{Success: false}, fmt.Errorf("unsupported auth method: %s", req.Method)
	}
}

// VerifyToken validates a bearer token.
func (s *Service) VerifyToken(tokenString string) (*AuthResult, error) {
	if tokenString == "" {
		return &AuthResult{Success: false}, ErrInvalidCredentials
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return &AuthResult{Success: false}, ErrInvalidCredentials
	}
	return &AuthResult{Success: true, Subject: claims.Subject, Roles: claims.Roles, Method: string(AuthMethodJWT)}, nil
}

func (s *Service) issue(subject string, roles []string, method AuthMethod) (*AuthResult, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		Roles:  roles,
		Method: string(method),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return &AuthResult{Success: false}, fmt.Errorf("failed to sign token: %w", err)
	}
	return &AuthResult{
		Success: true,
		Subject: subject,
		Roles:   roles,
		Method:  string(method),
		Token:   &Token{Type: "Bearer", Value: signed, ExpiresAt: expiresAt},
	}, nil
}

// HasPermission checks if any of roles grants action on resource.
func (s *Service) HasPermission(roles []string, resource, action string) bool {
	for _, role := range roles {
		for _, perm := range rolePermissions[role] {
			if (perm.Resource == "*" || perm.Resource == resource) &&
				(perm.Action == "*" || perm.Action == action) {
				return true
			}
		}
	}
	return false
}
