package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidPageToken is returned for tokens that fail parsing or validation.
var ErrInvalidPageToken = errors.New("invalid page token")

const pageTokenIssuer = "attribution-agent-bridge"

// PageClaims binds a bridge token to one open page of one organization.
type PageClaims struct {
	PageID string `json:"page_id"`
	OrgID  string `json:"org_id"`
	jwt.RegisteredClaims
}

// PageTokens issues and validates page tokens with an HMAC secret.
type PageTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewPageTokens creates a signer. A nil now uses time.Now.
func NewPageTokens(secret string, ttl time.Duration, now func() time.Time) *PageTokens {
	if now == nil {
		now = time.Now
	}
	return &PageTokens{secret: []byte(secret), ttl: ttl, now: now}
}

// Generate signs a token for pageID.
func (p *PageTokens) Generate(pageID, orgID string) (string, error) {
	issued := p.now()
	claims := &PageClaims{
		PageID: pageID,
		OrgID:  orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(issued.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			Issuer:    pageTokenIssuer,
			Subject:   pageID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns its claims.
func (p *PageTokens) Validate(tokenString string) (*PageClaims, error) {
	claims := &PageClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithIssuer(pageTokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidPageToken
	}
	return claims, nil
}
