package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"spot-ladder-bot/internal/logging"
)

// Service authenticates the single operator account
type Service struct {
	config    Config
	jwt       *JWTManager
	passwords *PasswordManager
	logger    *logging.Logger
}

// NewService creates a new authentication service
func NewService(config Config, logger *logging.Logger) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}
	if config.AdminPasswordHash == "" {
		return nil, errors.New("admin password hash is required")
	}
	if config.AdminUser == "" {
		config.AdminUser = DefaultConfig().AdminUser
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultConfig().TokenTTL
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Service{
		config:    config,
		jwt:       NewJWTManager(config.JWTSecret, config.TokenTTL),
		passwords: NewPasswordManager(DefaultBcryptCost),
		logger:    logger.WithComponent("auth"),
	}, nil
}

// Login checks the operator credentials and issues a token
func (s *Service) Login(username, password string) (*LoginResponse, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.AdminUser)) == 1
	// always pay the bcrypt cost so a wrong username is not faster
	passOK := s.passwords.VerifyPassword(password, s.config.AdminPasswordHash)
	if !userOK || !passOK {
		s.logger.Warn("Login failed", "username", username)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwt.GenerateToken(OperatorClaims{Username: username, Role: RoleOperator})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Operator logged in", "username", username, "expires_at", expiresAt.Format(time.RFC3339))
	return &LoginResponse{Token: token, ExpiresAt: expiresAt, TokenType: "Bearer"}, nil
}

// Validate returns the claims of a valid token
func (s *Service) Validate(token string) (*OperatorClaims, error) {
	return s.jwt.ValidateToken(token)
}
