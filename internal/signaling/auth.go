package signaling

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential is returned by CredentialValidator.Validate when the
// player's AUTH credential does not check out.
var ErrInvalidCredential = errors.New("invalid credential")

// CredentialValidator checks the credential a player presents during AUTH.
// The default implementation expects an HMAC-signed JWT carrying a
// "player" audience claim.
type CredentialValidator interface {
	Validate(credential string) error
}

type jwtCredentialValidator struct {
	secret []byte
}

// NewJWTCredentialValidator builds a CredentialValidator backed by JWTs
// signed with secret using any HMAC method (HS256, HS384 or HS512).
func NewJWTCredentialValidator(secret string) CredentialValidator {
	return &jwtCredentialValidator{secret: []byte(secret)}
}

type playerClaims struct {
	jwt.RegisteredClaims
}

func (v *jwtCredentialValidator) Validate(credential string) error {
	token, err := jwt.ParseWithClaims(credential, &playerClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidCredential
	}

	claims, ok := token.Claims.(*playerClaims)
	if !ok {
		return ErrInvalidCredential
	}
	for _, aud := range claims.Audience {
		if aud == "player" {
			return nil
		}
	}
	return ErrInvalidCredential
}
