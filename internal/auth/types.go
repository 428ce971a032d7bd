package auth

import (
	"time"
)

// OperatorClaims identifies the operator behind a token
type OperatorClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RoleOperator is the only role; every authenticated caller may trade
const RoleOperator = "operator"

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"` // Always "Bearer"
}

// Config holds authentication configuration
type Config struct {
	JWTSecret         string        `json:"jwt_secret"`
	AdminUser         string        `json:"admin_user"`
	AdminPasswordHash string        `json:"admin_password_hash"` // bcrypt
	TokenTTL          time.Duration `json:"token_ttl"`
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		JWTSecret: "", // Must be set
		AdminUser: "admin",
		TokenTTL:  12 * time.Hour,
	}
}

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrWeakPassword       = AuthError{Code: "WEAK_PASSWORD", Message: "password does not meet requirements"}
)
