// Package auth mints and verifies reconnect tokens. Adapted from the
// teacher's login-JWT issuer (internal/auth/session.go): the same
// ed25519-signed JWT machinery now carries a playerId claim instead of a
// user login subject, since a reconnect token is exactly a signed bearer
// of identity with no separate session store required to validate it.
package auth

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer signs and verifies reconnect tokens with a per-process ed25519 key
// pair. Keys are generated fresh at startup — spec has no requirement that
// reconnect tokens survive a process restart (lobbies don't either).
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewIssuer generates a fresh ed25519 key pair.
func NewIssuer() (*Issuer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Issuer{privateKey: priv, publicKey: pub}, nil
}

// CreateReconnectToken signs a token binding playerId, with no expiry claim
// — expiry is enforced by the session manager's archive TTL, not the token
// itself, so a stale-but-unexpired token is simply rejected for lack of a
// matching archive entry.
func (i *Issuer) CreateReconnectToken(playerID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": playerID,
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(i.privateKey)
}

// VerifyReconnectToken validates a token's signature and returns the bound
// playerId.
func (i *Issuer) VerifyReconnectToken(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("reconnect token parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid reconnect token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid reconnect token claims")
	}
	playerID, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("missing sub in reconnect token")
	}
	return playerID, nil
}
