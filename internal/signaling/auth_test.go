package signaling

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestJWTCredentialValidator_Valid(t *testing.T) {
	v := NewJWTCredentialValidator("secret")

	credential := signToken(t, "secret", jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{"player"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	assert.NoError(t, v.Validate(credential))
}

func TestJWTCredentialValidator_WrongAudience(t *testing.T) {
	v := NewJWTCredentialValidator("secret")

	credential := signToken(t, "secret", jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{"admin"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	assert.ErrorIs(t, v.Validate(credential), ErrInvalidCredential)
}

func TestJWTCredentialValidator_WrongSecret(t *testing.T) {
	v := NewJWTCredentialValidator("secret")

	credential := signToken(t, "other-secret", jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{"player"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	assert.ErrorIs(t, v.Validate(credential), ErrInvalidCredential)
}

func TestJWTCredentialValidator_Expired(t *testing.T) {
	v := NewJWTCredentialValidator("secret")

	credential := signToken(t, "secret", jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{"player"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	assert.ErrorIs(t, v.Validate(credential), ErrInvalidCredential)
}

func TestJWTCredentialValidator_Garbage(t *testing.T) {
	v := NewJWTCredentialValidator("secret")
	assert.ErrorIs(t, v.Validate("not-a-token"), ErrInvalidCredential)
	assert.ErrorIs(t, v.Validate(""), ErrInvalidCredential)
}
