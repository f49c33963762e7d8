package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/employee-management/internal"
	userDatamodel "github.com/frahmantamala/employee-management/internal/core/datamodel/user"
	"github.com/frahmantamala/employee-management/internal/core/events"
)

type Repository interface {
	Create(ctx context.Context, u *userDatamodel.User) error
	GetByID(ctx context.Context, id string) (*userDatamodel.User, error)
	GetByEmail(ctx context.Context, email string) (*userDatamodel.User, error)
	UpdateProfile(ctx context.Context, id string, changes map[string]interface{}) error
	UpdatePassword(ctx context.Context, id, passwordHash string) (int, error)
	IncrementTokenVersion(ctx context.Context, id string) (int, error)
}

type Service struct {
	repo       Repository
	bcryptCost int
	events     events.Publisher
	logger     *slog.Logger
}

func NewService(repo Repository, bcryptCost int, publisher events.Publisher, logger *slog.Logger) *Service {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = internal.DefaultBCryptCost
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		bcryptCost: bcryptCost,
		events:     publisher,
		logger:     logger,
	}
}

// Register creates an account with a password derived from the user's name.
// The plaintext initial password is returned once so HR can hand it over.
// Only a super_admin may create another super_admin.
func (s *Service) Register(ctx context.Context, actor internal.Identity, dto RegisterDTO) (*User, string, error) {
	if err := dto.Validate(); err != nil {
		return nil, "", err
	}

	role := RoleEmployee
	if dto.Role != "" {
		role, _ = ParseRole(dto.Role)
	}
	if !Role(actor.Role).CanAssign(role) {
		s.logger.WarnContext(ctx, "register denied: role above actor", "actor_id", actor.UserID, "actor_role", actor.Role, "role", role)
		return nil, "", internal.ErrForbidden
	}

	password := DefaultPassword(dto.Name)
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, "", internal.NewInternalError("failed to hash password", err)
	}

	now := time.Now().UTC()
	u := &User{
		ID:           uuid.NewString(),
		Email:        NormalizeEmail(dto.Email),
		Name:         strings.TrimSpace(dto.Name),
		PasswordHash: hash,
		Role:         role,
		DepartmentID: dto.DepartmentID,
		Position:     dto.Position,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, ToDataModel(u)); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, "", internal.ErrEmailTaken.WithCause(err)
		}
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", u.ID, "role", u.Role, "actor_id", actor.UserID)
	s.publish(ctx, events.NewAuthEvent(events.EventTypeUserRegistered, actor.UserID, u.ID, map[string]interface{}{
		"role": string(u.Role),
	}))

	return u, password, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, internal.ErrUserNotFound.WithCause(err)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return FromDataModel(u), nil
}

// GetByEmail looks the user up by the case-normalized address.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, internal.ErrUserNotFound.WithCause(err)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return FromDataModel(u), nil
}

// UpdateProfile is allowed for the owner and for people managers. Profile
// fields are not part of any token, so no session is touched.
func (s *Service) UpdateProfile(ctx context.Context, actor internal.Identity, id string, dto UpdateProfileDTO) (*User, error) {
	if actor.UserID != id && !Role(actor.Role).CanManagePeople() {
		return nil, internal.ErrForbidden
	}
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	changes := dto.Changes()
	if len(changes) > 0 {
		changes["updated_at"] = time.Now().UTC()
		if err := s.repo.UpdateProfile(ctx, id, changes); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, internal.ErrUserNotFound.WithCause(err)
			}
			return nil, fmt.Errorf("failed to update profile: %w", err)
		}
		s.publish(ctx, events.NewAuthEvent(events.EventTypeProfileUpdated, actor.UserID, id, nil))
	}

	return s.GetByID(ctx, id)
}

// ChangePassword stores the new hash and bumps the token version in the same
// write, so every refresh token issued before the change stops working.
func (s *Service) ChangePassword(ctx context.Context, userID string, dto ChangePasswordDTO) error {
	if err := dto.Validate(); err != nil {
		return err
	}

	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(u.PasswordHash, dto.CurrentPassword); err != nil {
		return internal.ErrWrongPassword
	}

	hash, err := s.HashPassword(dto.NewPassword)
	if err != nil {
		return internal.NewInternalError("failed to hash password", err)
	}

	version, err := s.repo.UpdatePassword(ctx, userID, hash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.InfoContext(ctx, "password changed, sessions revoked", "user_id", userID, "token_version", version)
	s.publish(ctx, events.NewAuthEvent(events.EventTypePasswordChanged, userID, userID, map[string]interface{}{
		"token_version": version,
	}))
	return nil
}

// RevokeSessions invalidates every outstanding refresh token of the user.
// Sessions of a super_admin can only be revoked by a super_admin.
func (s *Service) RevokeSessions(ctx context.Context, actor internal.Identity, id string) (int, error) {
	target, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if !Role(actor.Role).CanAssign(target.Role) {
		s.logger.WarnContext(ctx, "revoke denied: target above actor", "actor_id", actor.UserID, "actor_role", actor.Role, "user_id", id)
		return 0, internal.ErrForbidden
	}

	version, err := s.IncrementTokenVersion(ctx, id)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, events.NewAuthEvent(events.EventTypeSessionsRevoked, actor.UserID, id, map[string]interface{}{
		"token_version": version,
	}))
	return version, nil
}

func (s *Service) IncrementTokenVersion(ctx context.Context, id string) (int, error) {
	version, err := s.repo.IncrementTokenVersion(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, internal.ErrUserNotFound.WithCause(err)
		}
		return 0, fmt.Errorf("failed to increment token version: %w", err)
	}
	return version, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	return HashPassword(password, s.bcryptCost)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
