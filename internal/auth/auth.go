package auth

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
	ErrNoPassword         = errors.New("authentication is enabled but no password is set")
)

// Config holds the single operator account and token settings
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"` // plaintext or bcrypt hash
	Secret   string        `mapstructure:"jwt_secret"`
	Expiry   time.Duration `mapstructure:"jwt_expiry"`
}

// Authenticator handles operator login for write endpoints
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator builds an authenticator. A disabled one accepts every request.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	a := &Authenticator{
		enabled:    cfg.Enabled,
		username:   username,
		jwtManager: NewJWTManager(cfg.Secret, cfg.Expiry),
	}
	if !cfg.Enabled {
		return a, nil
	}
	if cfg.Password == "" {
		return nil, ErrNoPassword
	}

	// Accept a precomputed bcrypt hash as is
	if len(cfg.Password) == 60 && strings.HasPrefix(cfg.Password, "$2") {
		a.passwordHash = []byte(cfg.Password)
		return a, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	a.passwordHash = hash
	return a, nil
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a signed token and its expiry
func (a *Authenticator) Authenticate(username, password string) (string, time.Time, error) {
	if !a.enabled {
		return "", time.Time{}, ErrAuthDisabled
	}
	if username != a.username {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.jwtManager.GenerateToken(username)
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// HashPassword creates a bcrypt hash suitable for Config.Password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
