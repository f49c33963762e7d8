package user

import (
	"strings"

	errors "github.com/frahmantamala/employee-management/internal"
	"github.com/frahmantamala/employee-management/internal/core/common/validation"
)

// RegisterDTO is accepted from HR when onboarding a new employee account.
type RegisterDTO struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Role         string  `json:"role"`
	DepartmentID *string `json:"department_id,omitempty"`
	Position     string  `json:"position,omitempty"`
}

func (d RegisterDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("name", d.Name).Required().MaxLength(120)
	v.Field("email", strings.TrimSpace(d.Email)).Required().Email().MaxLength(254)
	if d.Role != "" {
		v.Field("role", strings.ToLower(strings.TrimSpace(d.Role))).OneOf(RoleNames(), errors.ErrCodeInvalidRole)
	}
	return v.Validate()
}

// UpdateProfileDTO carries the mutable profile fields. Nil means unchanged.
type UpdateProfileDTO struct {
	Name         *string `json:"name,omitempty"`
	DepartmentID *string `json:"department_id,omitempty"`
	Position     *string `json:"position,omitempty"`
	PictureURL   *string `json:"picture_url,omitempty"`
}

func (d UpdateProfileDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	if d.Name != nil {
		v.Field("name", d.Name).Required().MaxLength(120)
	}
	if d.Position != nil {
		v.Field("position", d.Position).MaxLength(120)
	}
	if d.PictureURL != nil {
		v.Field("picture_url", d.PictureURL).MaxLength(2048)
	}
	return v.Validate()
}

func (d UpdateProfileDTO) Changes() map[string]interface{} {
	changes := map[string]interface{}{}
	if d.Name != nil {
		changes["name"] = strings.TrimSpace(*d.Name)
	}
	if d.DepartmentID != nil {
		if *d.DepartmentID == "" {
			changes["department_id"] = nil
		} else {
			changes["department_id"] = *d.DepartmentID
		}
	}
	if d.Position != nil {
		changes["position"] = *d.Position
	}
	if d.PictureURL != nil {
		changes["picture_url"] = *d.PictureURL
	}
	return changes
}

type ChangePasswordDTO struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (d ChangePasswordDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("current_password", d.CurrentPassword).Required()
	v.Field("new_password", d.NewPassword).Required().MinLength(8).MaxLength(72)
	return v.Validate()
}

// RegisterResponse includes the generated initial password exactly once.
type RegisterResponse struct {
	User            Profile `json:"user"`
	InitialPassword string  `json:"initial_password"`
}
