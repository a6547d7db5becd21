package auth

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is set on every token
const Issuer = "pepperbot"

// DefaultExpiry applies when no expiry is configured
const DefaultExpiry = 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims represents the JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 tokens
type JWTManager struct {
	secretKey []byte
	expiry    time.Duration
	now       func() time.Time
}

// NewJWTManager creates a manager. An empty secret gets a random one, so
// tokens do not survive a restart.
func NewJWTManager(secret string, expiry time.Duration) *JWTManager {
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		rand.Read(key)
	}
	if expiry == 0 {
		expiry = DefaultExpiry
	}
	return &JWTManager{secretKey: key, expiry: expiry, now: time.Now}
}

// GenerateToken creates a token for username
func (m *JWTManager) GenerateToken(username string) (string, time.Time, error) {
	issuedAt := m.now()
	expiresAt := issuedAt.Add(m.expiry)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Issuer:    Issuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
