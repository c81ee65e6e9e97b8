package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenExpiry = 7 * 24 * time.Hour

// settingsStore persists the signing secret across restarts
type settingsStore interface {
	GetSetting(key string) string
	SetSetting(key, value string) error
}

// IdentityIssuer mints guest identities and signs tokens so a client can
// present the same identity across connections. It is the concrete
// Identity Source the core consults at pairing and validation time.
type IdentityIssuer struct {
	secret []byte
}

// NewIdentityIssuer builds an issuer. The signing secret comes from the
// PONG_JWT_SECRET env var, the settings store, or is generated and
// persisted.
func NewIdentityIssuer(settings settingsStore) *IdentityIssuer {
	return &IdentityIssuer{secret: loadOrCreateSecret(settings)}
}

func loadOrCreateSecret(settings settingsStore) []byte {
	if env := os.Getenv("PONG_JWT_SECRET"); env != "" {
		if b, err := hex.DecodeString(env); err == nil && len(b) == 32 {
			return b
		}
		log.Printf("PONG_JWT_SECRET is not 32 hex-encoded bytes, ignoring")
	}
	if settings != nil {
		if h := settings.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate signing secret: " + err.Error())
	}
	if settings != nil {
		if err := settings.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			log.Printf("warning: could not persist signing secret: %v", err)
		}
	}
	return secret
}

// NewGuestIdentity mints a fresh player identifier
func (iss *IdentityIssuer) NewGuestIdentity() string {
	return "guest-" + uuid.NewString()[:8]
}

// IssueToken signs a token carrying the identity
func (iss *IdentityIssuer) IssueToken(identity string) (string, error) {
	claims := jwt.MapClaims{
		"sub": identity,
		"exp": time.Now().Add(tokenExpiry).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(iss.secret)
}

// ValidateToken returns the identity a token was issued for
func (iss *IdentityIssuer) ValidateToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return iss.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	identity, ok := claims["sub"].(string)
	if !ok || identity == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return identity, nil
}
