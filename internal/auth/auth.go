package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/employee-management/internal/user"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// UserStore is the slice of the credential store the auth flows need.
// *user.Service satisfies it.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id string) (*user.User, error)
	IncrementTokenVersion(ctx context.Context, id string) (int, error)
}

// TokenGenerator mints and verifies the two token kinds.
type TokenGenerator interface {
	IssueAccessToken(userID, role string) (string, error)
	IssueRefreshToken(userID, role string, tokenVersion int) (string, *RefreshClaims, error)
	ParseAccessToken(tokenString string) (*AccessClaims, error)
	ParseRefreshToken(tokenString string) (*RefreshClaims, error)
	RefreshTTL() time.Duration
}

// AccessClaims is carried by access tokens: identity and role only, so
// profile changes never force a re-login.
type AccessClaims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	UserID       string `json:"userId"`
	Role         string `json:"role"`
	TokenVersion int    `json:"tokenVersion"`
	Type         string `json:"typ"`
	jwt.RegisteredClaims
}

// Session is the result of a successful login or refresh. RefreshToken only
// ever leaves the server inside the refresh cookie.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *user.User
}
