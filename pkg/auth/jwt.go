package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/env"
)

// JWTSecretKey for signing instance tokens
// REQUIRED: Application will panic if not set
var JWTSecretKey string

func init() {
	JWTSecretKey = env.MustGetEnvString("JWT_SECRET_KEY")
}

// InstanceTokenClaims represents the claims in an instance JWT
type InstanceTokenClaims struct {
	InstanceID string `json:"instance_id"`
	Name       string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// GenerateInstanceToken creates a long-lived JWT for an instance.
// The token does not expire; revoking it means deleting the instance.
func GenerateInstanceToken(instanceID string, name string) (string, error) {
	if JWTSecretKey == "" {
		return "", errors.New("JWT_SECRET_KEY not configured")
	}

	claims := InstanceTokenClaims{
		InstanceID: instanceID,
		Name:       name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   instanceID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(JWTSecretKey))
}

// ValidateInstanceToken validates an instance JWT and returns the claims
func ValidateInstanceToken(tokenString string) (*InstanceTokenClaims, error) {
	if JWTSecretKey == "" {
		return nil, errors.New("JWT_SECRET_KEY not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &InstanceTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(JWTSecretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*InstanceTokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}
