package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the session id in the registered JTI field. Access and
// refresh tokens minted together share one JTI, so whitelisting the session
// id covers both halves of the pair.
type Claims struct {
	TokenType    string `json:"token_type"`
	TokenVersion int    `json:"token_version"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
}

func NewJWTManager(issuer, audience, accessSecret, refreshSecret string) *JWTManager {
	return &JWTManager{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
	}
}

func (m *JWTManager) SignAccessToken(userID uint, tokenVersion int, ttl time.Duration, jti string) (string, error) {
	if jti == "" {
		jti = uuid.NewString()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, m.claims("access", userID, tokenVersion, ttl, jti)).
		SignedString(m.accessSecret)
}

func (m *JWTManager) SignRefreshToken(userID uint, tokenVersion int, ttl time.Duration, jti string) (string, error) {
	if jti == "" {
		jti = uuid.NewString()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, m.claims("refresh", userID, tokenVersion, ttl, jti)).
		SignedString(m.refreshSecret)
}

func (m *JWTManager) claims(tokenType string, userID uint, tokenVersion int, ttl time.Duration, jti string) Claims {
	return Claims{
		TokenType:    tokenType,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        jti,
		},
	}
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, "access")
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	return m.parse(raw, m.refreshSecret, "refresh")
}

// IsExpired distinguishes plain expiry from every other verification
// failure; expiry routes to the refresh path, everything else is terminal.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

func (m *JWTManager) parse(raw string, secret []byte, tokenType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	return claims, nil
}
