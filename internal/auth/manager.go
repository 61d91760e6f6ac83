package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var _ Verifier = (*Manager)(nil)

// Manager issues and validates HMAC signed session tokens for self-hosted deployments.
type Manager struct {
	secret []byte
}

// NewManager creates a Manager with the provided secret.
func NewManager(secret string) *Manager {
	if secret == "" {
		panic("auth manager requires non-empty secret")
	}
	return &Manager{secret: []byte(secret)}
}

// IssueToken issues a signed session token for the identity.
func (m *Manager) IssueToken(id Identity, ttl time.Duration) (string, error) {
	if id.Anonymous() {
		return "", errors.New("user id required")
	}
	for _, field := range []string{id.UserID, id.UserName, id.Email} {
		if strings.Contains(field, "|") {
			return "", errors.New("identity fields must not contain '|'")
		}
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	expires := time.Now().Add(ttl).Unix()
	payload := fmt.Sprintf("%s|%s|%s|%d", id.UserID, id.UserName, id.Email, expires)
	sig := m.sign([]byte(payload))
	token := fmt.Sprintf("%s.%s", base64.RawURLEncoding.EncodeToString([]byte(payload)), base64.RawURLEncoding.EncodeToString(sig))
	return token, nil
}

// ValidateToken validates and returns the embedded identity.
func (m *Manager) ValidateToken(token string) (Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Identity{}, errors.New("invalid token format")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Identity{}, errors.New("invalid token payload")
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Identity{}, errors.New("invalid token signature")
	}
	if !hmac.Equal(sigBytes, m.sign(payloadBytes)) {
		return Identity{}, errors.New("signature mismatch")
	}
	fields := strings.Split(string(payloadBytes), "|")
	if len(fields) != 4 {
		return Identity{}, errors.New("invalid payload")
	}
	expiry, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Identity{}, errors.New("invalid expiry")
	}
	if time.Now().Unix() > expiry {
		return Identity{}, errors.New("token expired")
	}
	return Identity{UserID: fields[0], UserName: fields[1], Email: fields[2]}, nil
}

// Verify implements Verifier.
func (m *Manager) Verify(_ context.Context, token string) (Identity, error) {
	id, err := m.ValidateToken(token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return id, nil
}

func (m *Manager) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write(payload)
	return h.Sum(nil)
}
