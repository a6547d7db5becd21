package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	a, err := NewAuthenticator(Config{Enabled: true, Username: "reception", Password: "s3cret", Secret: "k"})
	require.NoError(t, err)

	token, expires, err := a.Authenticate("reception", "s3cret")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultExpiry), expires, time.Minute)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "reception", claims.Username)
	assert.Equal(t, Issuer, claims.Issuer)

	_, _, err = a.Authenticate("reception", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Authenticate("admin", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticatorAcceptsHash(t *testing.T) {
	hash, err := HashPassword("pepper")
	require.NoError(t, err)

	a, err := NewAuthenticator(Config{Enabled: true, Password: hash})
	require.NoError(t, err)
	_, _, err = a.Authenticate("admin", "pepper")
	assert.NoError(t, err)
}

func TestAuthenticatorDisabled(t *testing.T) {
	a, err := NewAuthenticator(Config{})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())

	_, _, err = a.Authenticate("admin", "")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestAuthenticatorRequiresPassword(t *testing.T) {
	_, err := NewAuthenticator(Config{Enabled: true})
	assert.ErrorIs(t, err, ErrNoPassword)
}

func TestValidateToken(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, _, err := m.GenerateToken("reception")
	require.NoError(t, err)

	other := NewJWTManager("another", time.Hour)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
