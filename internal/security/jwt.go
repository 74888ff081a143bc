package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/throttlecove/throttlecove/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// AccessClaims is the full identity payload carried by an access token.
// SessionID ties the token to a revocable session row.
type AccessClaims struct {
	TokenType string      `json:"token_type"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	SessionID string      `json:"session_id"`
	jwt.RegisteredClaims
}

// RefreshClaims deliberately carries only enough to find the session again.
type RefreshClaims struct {
	TokenType string `json:"token_type"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenIssuer signs and verifies the access/refresh pair. The two token
// kinds use distinct secrets so leaking one does not forge the other, and
// a token of one kind never verifies as the other.
type TokenIssuer struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenIssuer(issuer, accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		issuer:        issuer,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssuePair mints the access/refresh pair bound to sessionID.
func (i *TokenIssuer) IssuePair(user *domain.User, sessionID string) (TokenPair, error) {
	now := time.Now()
	access := AccessClaims{
		TokenType: "access",
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(i.accessSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh := RefreshClaims{
		TokenType: "refresh",
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   access.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(i.refreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (i *TokenIssuer) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(raw, i.accessSecret, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != "access" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *TokenIssuer) ParseRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(raw, i.refreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != "refresh" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *TokenIssuer) parse(raw string, secret []byte, claims jwt.Claims) error {
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(i.issuer))
	if err != nil || !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}

// UserIDFromSubject parses the numeric user id out of a token subject.
func UserIDFromSubject(subject string) (uint, error) {
	id, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}
