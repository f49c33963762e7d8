package user

import (
	"errors"
	"strings"
	"time"
	"unicode"

	userDatamodel "github.com/frahmantamala/employee-management/internal/core/datamodel/user"
)

type Role string

const (
	RoleEmployee   Role = "employee"
	RoleManager    Role = "manager"
	RoleHR         Role = "hr"
	RoleSuperAdmin Role = "super_admin"
)

var AllRoles = []Role{RoleEmployee, RoleManager, RoleHR, RoleSuperAdmin}

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// CanManagePeople reports whether the role may edit other users' records.
func (r Role) CanManagePeople() bool {
	return r == RoleHR || r == RoleSuperAdmin
}

// CanAssign reports whether an actor holding r may create or revoke an account
// with the target role. super_admin accounts are reserved to super_admins.
func (r Role) CanAssign(target Role) bool {
	return target != RoleSuperAdmin || r == RoleSuperAdmin
}

func RoleNames() []string {
	names := make([]string, len(AllRoles))
	for i, r := range AllRoles {
		names[i] = string(r)
	}
	return names
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	DepartmentID *string   `json:"department_id,omitempty"`
	Position     string    `json:"position,omitempty"`
	PictureURL   string    `json:"picture_url,omitempty"`
	TokenVersion int       `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the sanitized view returned to clients. It never carries the
// password hash or the token version.
type Profile struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Role         Role    `json:"role"`
	DepartmentID *string `json:"department_id,omitempty"`
	Position     string  `json:"position,omitempty"`
	PictureURL   string  `json:"picture_url,omitempty"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Role:         u.Role,
		DepartmentID: u.DepartmentID,
		Position:     u.Position,
		PictureURL:   u.PictureURL,
	}
}

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DefaultPassword derives the initial password handed out at registration:
// the lower-cased name without whitespace followed by "@123".
// Weak on purpose; users are expected to change it.
func DefaultPassword(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String() + "@123"
}

func ToDataModel(u *User) *userDatamodel.User {
	return &userDatamodel.User{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		DepartmentID: u.DepartmentID,
		Position:     u.Position,
		PictureURL:   u.PictureURL,
		TokenVersion: u.TokenVersion,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func FromDataModel(u *userDatamodel.User) *User {
	return &User{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         Role(u.Role),
		DepartmentID: u.DepartmentID,
		Position:     u.Position,
		PictureURL:   u.PictureURL,
		TokenVersion: u.TokenVersion,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}
