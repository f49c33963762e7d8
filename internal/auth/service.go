package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/employee-management/internal"
	"github.com/frahmantamala/employee-management/internal/core/events"
	"github.com/frahmantamala/employee-management/internal/user"
)

// Service is the main auth service with dependencies
type Service struct {
	users    UserStore
	tokens   TokenGenerator
	rotation RotationStore
	events   events.Publisher
	logger   *slog.Logger

	logoutRevokesSessions bool
}

type ServiceOption func(*Service)

// WithRotationStore enables rejection of superseded refresh tokens.
func WithRotationStore(store RotationStore) ServiceOption {
	return func(s *Service) { s.rotation = store }
}

// WithLogoutRevocation makes logout bump the caller's token version, signing
// out every device. Off by default.
func WithLogoutRevocation(enabled bool) ServiceOption {
	return func(s *Service) { s.logoutRevokesSessions = enabled }
}

// NewService creates a new auth service
func NewService(users UserStore, tokens TokenGenerator, publisher events.Publisher, logger *slog.Logger, opts ...ServiceOption) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		users:  users,
		tokens: tokens,
		events: publisher,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCheck spends the same bcrypt work as a real comparison so an
// unknown email is not distinguishable by latency.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = user.HashPassword("not-a-real-password", internal.DefaultBCryptCost)
	})
	_ = user.VerifyPassword(dummyHash, password)
}

// Login validates credentials and returns a fresh session
func (s *Service) Login(ctx context.Context, dto LoginDTO) (*Session, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, dto.Email)
	if err != nil {
		if !errors.Is(err, internal.ErrUserNotFound) {
			return nil, fmt.Errorf("failed to look up credentials: %w", err)
		}
		burnPasswordCheck(dto.Password)
		s.publish(ctx, events.NewAuthEvent(events.EventTypeLoginFailed, "", "", map[string]interface{}{
			"reason": "unknown_email",
		}))
		return nil, internal.ErrInvalidCredentials
	}

	if err := user.VerifyPassword(u.PasswordHash, dto.Password); err != nil {
		s.publish(ctx, events.NewAuthEvent(events.EventTypeLoginFailed, u.ID, u.ID, map[string]interface{}{
			"reason": "wrong_password",
		}))
		return nil, internal.ErrInvalidCredentials
	}

	session, refreshClaims, err := s.issue(u)
	if err != nil {
		return nil, err
	}

	if s.rotation != nil {
		if err := s.rotation.Record(ctx, u.ID, refreshClaims.ID, s.refreshTokenTTL()); err != nil {
			return nil, fmt.Errorf("failed to record refresh token: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", u.ID, "role", u.Role)
	s.publish(ctx, events.NewAuthEvent(events.EventTypeLoginSucceeded, u.ID, u.ID, nil))
	return session, nil
}

// Refresh exchanges a valid, non-revoked refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, internal.ErrNoRefreshToken
	}

	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		s.rejected(ctx, "", "invalid_token")
		return nil, internal.ErrInvalidRefreshToken.WithCause(err)
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, internal.ErrUserNotFound) {
			s.rejected(ctx, claims.UserID, "user_not_found")
			return nil, internal.ErrRefreshUserNotFound.WithCause(err)
		}
		return nil, fmt.Errorf("failed to load user for refresh: %w", err)
	}

	if claims.TokenVersion != u.TokenVersion {
		s.rejected(ctx, u.ID, "version_mismatch")
		return nil, internal.ErrRefreshTokenRevoked
	}

	session, next, err := s.issue(u)
	if err != nil {
		return nil, err
	}

	if s.rotation != nil {
		ok, err := s.rotation.Rotate(ctx, u.ID, claims.ID, next.ID, s.refreshTokenTTL())
		if err != nil {
			return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
		}
		if !ok {
			s.rejected(ctx, u.ID, "superseded")
			return nil, internal.ErrRefreshTokenRevoked
		}
	}

	s.publish(ctx, events.NewAuthEvent(events.EventTypeTokenRefreshed, u.ID, u.ID, nil))
	return session, nil
}

// Logout never fails. accessToken is optional; when it identifies the caller
// the configured revocation policy is applied to that user.
func (s *Service) Logout(ctx context.Context, accessToken string) {
	var userID string
	if accessToken != "" {
		if claims, err := s.tokens.ParseAccessToken(accessToken); err == nil {
			userID = claims.UserID
		}
	}

	if userID != "" {
		if s.rotation != nil {
			if err := s.rotation.Forget(ctx, userID); err != nil {
				s.logger.WarnContext(ctx, "failed to drop refresh token id on logout", "user_id", userID, "error", err)
			}
		}
		if s.logoutRevokesSessions {
			version, err := s.users.IncrementTokenVersion(ctx, userID)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to revoke sessions on logout", "user_id", userID, "error", err)
			} else {
				s.publish(ctx, events.NewAuthEvent(events.EventTypeSessionsRevoked, userID, userID, map[string]interface{}{
					"token_version": version,
					"reason":        "logout",
				}))
			}
		}
	}

	s.publish(ctx, events.NewAuthEvent(events.EventTypeLogout, userID, userID, nil))
}

// ValidateAccessToken validates access token and returns claims
func (s *Service) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	return s.tokens.ParseAccessToken(tokenString)
}

func (s *Service) issue(u *user.User) (*Session, *RefreshClaims, error) {
	accessToken, err := s.tokens.IssueAccessToken(u.ID, string(u.Role))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, claims, err := s.tokens.IssueRefreshToken(u.ID, string(u.Role), u.TokenVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         u,
	}, claims, nil
}

func (s *Service) refreshTokenTTL() time.Duration {
	if ttl := s.tokens.RefreshTTL(); ttl > 0 {
		return ttl
	}
	return internal.DefaultRefreshTokenTTL
}

func (s *Service) rejected(ctx context.Context, userID, reason string) {
	s.logger.InfoContext(ctx, "refresh rejected", "user_id", userID, "reason", reason)
	s.publish(ctx, events.NewAuthEvent(events.EventTypeRefreshRejected, userID, userID, map[string]interface{}{
		"reason": reason,
	}))
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
