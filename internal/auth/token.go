package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/frahmantamala/employee-management/internal"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// JWTTokenGenerator signs access and refresh tokens with separate HS256 keys.
type JWTTokenGenerator struct {
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	now func() time.Time
}

type TokenOption func(*JWTTokenGenerator)

// WithClock replaces the wall clock for both signing and verification.
func WithClock(now func() time.Time) TokenOption {
	return func(j *JWTTokenGenerator) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJWTTokenGenerator creates a new JWT token generator. An empty refresh
// secret falls back to the access secret; an empty access secret is fatal.
func NewJWTTokenGenerator(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, opts ...TokenOption) (*JWTTokenGenerator, error) {
	if accessSecret == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET is not set", internal.ErrConfigurationFatal)
	}
	if refreshSecret == "" {
		refreshSecret = accessSecret
	}
	if accessTTL <= 0 {
		accessTTL = internal.DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = internal.DefaultRefreshTokenTTL
	}

	j := &JWTTokenGenerator{
		AccessTokenSecret:  []byte(accessSecret),
		RefreshTokenSecret: []byte(refreshSecret),
		AccessTokenTTL:     accessTTL,
		RefreshTokenTTL:    refreshTTL,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// IssueAccessToken creates a new access token
func (j *JWTTokenGenerator) IssueAccessToken(userID, role string) (string, error) {
	now := j.now()
	claims := &AccessClaims{
		UserID: userID,
		Role:   role,
		Type:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.AccessTokenTTL)),
		},
	}
	return sign(claims, j.AccessTokenSecret)
}

// IssueRefreshToken creates a new refresh token stamped with the user's
// current token version. The returned claims carry the generated jti.
func (j *JWTTokenGenerator) IssueRefreshToken(userID, role string, tokenVersion int) (string, *RefreshClaims, error) {
	now := j.now()
	claims := &RefreshClaims{
		UserID:       userID,
		Role:         role,
		TokenVersion: tokenVersion,
		Type:         tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.RefreshTokenTTL)),
		},
	}
	token, err := sign(claims, j.RefreshTokenSecret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// ParseAccessToken verifies signature and expiry of an access token.
func (j *JWTTokenGenerator) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenString, claims, j.AccessTokenSecret); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAccess || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseRefreshToken verifies signature and expiry of a refresh token.
func (j *JWTTokenGenerator) ParseRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenString, claims, j.RefreshTokenSecret); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (j *JWTTokenGenerator) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (j *JWTTokenGenerator) RefreshTTL() time.Duration {
	return j.RefreshTokenTTL
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}
