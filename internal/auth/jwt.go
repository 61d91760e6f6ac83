package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var _ Verifier = (*JWTVerifier)(nil)

// Claims are the identity provider claims the relay reads.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates identity provider JWTs signed with RS256 or HS256.
type JWTVerifier struct {
	publicKey *rsa.PublicKey
	secret    []byte
	issuer    string
	leeway    time.Duration
}

// JWTConfig configures a JWTVerifier. Exactly one of PublicKeyFile or Secret is required.
type JWTConfig struct {
	PublicKeyFile string
	Secret        string
	Issuer        string
	Leeway        time.Duration
}

// NewJWTVerifier loads the verification key.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	v := &JWTVerifier{issuer: strings.TrimSpace(cfg.Issuer), leeway: cfg.Leeway}
	if v.leeway == 0 {
		v.leeway = 30 * time.Second
	}
	switch {
	case cfg.PublicKeyFile != "":
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("auth: read jwt public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("auth: parse jwt public key: %w", err)
		}
		v.publicKey = key
	case cfg.Secret != "":
		v.secret = []byte(cfg.Secret)
	default:
		return nil, errors.New("auth: jwt verifier requires a public key file or secret")
	}
	return v, nil
}

func (v *JWTVerifier) keyFunc(t *jwt.Token) (any, error) {
	if v.publicKey != nil {
		return v.publicKey, nil
	}
	return v.secret, nil
}

// Verify parses and validates token, returning the identity in its claims.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	method := "HS256"
	if v.publicKey != nil {
		method = "RS256"
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, v.keyFunc, opts...); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Identity{UserID: claims.Subject, UserName: claims.Username, Email: claims.Email}, nil
}

// SignHS256 issues an HS256 token for id. It exists for development and tests; production
// tokens come from the identity provider.
func SignHS256(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:    id.Email,
		Username: id.UserName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
