package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	return token
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"chainwatch"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scope: []string{"query"},
	}
}

func TestAuthenticator_AuthenticateJWT(t *testing.T) {
	authenticator := NewAuthenticator(testSecret, nil)

	t.Run("valid token", func(t *testing.T) {
		auth, err := authenticator.AuthenticateJWT(signedToken(t, testSecret, validClaims()))

		require.NoError(t, err)
		assert.Equal(t, "user-1", auth.Subject)
		assert.False(t, auth.IsAdmin)
		assert.True(t, auth.CanQuery())
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := authenticator.AuthenticateJWT(signedToken(t, "other-secret", validClaims()))

		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

		_, err := authenticator.AuthenticateJWT(signedToken(t, testSecret, claims))

		assert.Error(t, err)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := validClaims()
		claims.Audience = jwt.ClaimStrings{"somewhere-else"}

		_, err := authenticator.AuthenticateJWT(signedToken(t, testSecret, claims))

		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := validClaims()
		claims.Subject = ""

		_, err := authenticator.AuthenticateJWT(signedToken(t, testSecret, claims))

		assert.Error(t, err)
	})

	t.Run("scope gates querying", func(t *testing.T) {
		claims := validClaims()
		claims.Scope = []string{"other"}

		auth, err := authenticator.AuthenticateJWT(signedToken(t, testSecret, claims))

		require.NoError(t, err)
		assert.False(t, auth.CanQuery())
	})
}

func TestAuthenticator_AuthenticateAPIKey(t *testing.T) {
	authenticator := NewAuthenticator("", []string{"key-1", "key-2"})

	t.Run("known key", func(t *testing.T) {
		auth, err := authenticator.AuthenticateAPIKey("key-2")

		require.NoError(t, err)
		assert.True(t, auth.IsAdmin)
		assert.True(t, auth.CanQuery())
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := authenticator.AuthenticateAPIKey("nope")

		assert.Error(t, err)
	})
}

func TestAuthenticator_Enabled(t *testing.T) {
	assert.False(t, NewAuthenticator("", nil).Enabled())
	assert.True(t, NewAuthenticator(testSecret, nil).Enabled())
	assert.True(t, NewAuthenticator("", []string{"key-1"}).Enabled())
}
