package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the *AuthResult.
const ResultKey = "auth_result"

// Middleware provides gin authentication middleware. A nil service turns
// every check into a pass-through.
type Middleware struct {
	svc *Service
}

func NewMiddleware(svc *Service) *Middleware { return &Middleware{svc: svc} }

// Enabled reports whether requests are checked.
func (m *Middleware) Enabled() bool { return m != nil && m.svc != nil }

// GinAuth accepts a Bearer token or HTTP Basic credentials.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		res, err := m.authenticate(c.Request)
		if err != nil || !res.Success {
			c.Header("WWW-Authenticate", `Basic realm="botvisor"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}

// GinRequirePermission must run after GinAuth.
func (m *Middleware) GinRequirePermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		v, _ := c.Get(ResultKey)
		res, ok := v.(*AuthResult)
		if !ok || !res.Success {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !m.svc.HasPermission(res.Roles, resource, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied", "details": resource + ":" + action})
			return
		}
		c.Next()
	}
}

// GinLogin handles POST /auth/login.
func (m *Middleware) GinLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
			return
		}
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid login request", "details": err.Error()})
			return
		}
		res, err := m.svc.Authenticate(c.Request.Context(), req)
		if err != nil || !res.Success {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (m *Middleware) authenticate(r *http.Request) (*AuthResult, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return m.svc.VerifyToken(strings.TrimSpace(token))
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		return m.svc.Authenticate(r.Context(), LoginRequest{Method: AuthMethodBasic, Username: username, Password: password})
	}
	return &AuthResult{Success: false}, ErrInvalidCredentials
}
