package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidRefreshToken = errors.New("invalid refresh token")

// Subject is the identity a token pair is issued for.
type Subject struct {
	UserID      string
	Username    string
	Role        string
	IsSuperuser bool
}

// TokenPair is returned on login and refresh.
type TokenPair struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenIssuer signs HS256 access and refresh tokens. Every token gets a
// unique jti so it can be revoked individually.
type TokenIssuer struct {
	issuer     string
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(issuer string, key []byte, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		issuer:     issuer,
		key:        key,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (t *TokenIssuer) Issue(sub Subject) (*TokenPair, error) {
	now := t.now()
	access, accessExp, err := t.sign(sub, TokenTypeAccess, now, t.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := t.sign(sub, TokenTypeRefresh, now, t.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (t *TokenIssuer) sign(sub Subject, typ string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.UserID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username:    sub.Username,
		Roles:       []string{sub.Role},
		IsSuperuser: sub.IsSuperuser,
		TokenType:   typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	return signed, exp, err
}

// ParseRefresh validates a refresh token and returns its claims.
func (t *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	claims, err := parseClaims(token, t.issuer, t.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: wrong token type %q", ErrInvalidRefreshToken, claims.TokenType)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidRefreshToken)
	}
	return claims, nil
}

// JWTConfig returns a middleware config that accepts this issuer's tokens.
func (t *TokenIssuer) JWTConfig(revocations RevocationStore) JWTConfig {
	return JWTConfig{
		Issuer:      t.issuer,
		SigningKey:  t.key,
		Revocations: revocations,
		Skipper:     AuthSkipper,
	}
}
