package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/employee-management/internal"
	"github.com/frahmantamala/employee-management/internal/transport"
	"github.com/frahmantamala/employee-management/internal/user"
)

// RBACAuthorization checks the role resolved by AuthMiddleware against an
// allow-list. It must run after AuthMiddleware.
type RBACAuthorization struct {
	*transport.BaseHandler
	logger *slog.Logger
}

func NewRBACAuthorization(logger *slog.Logger) *RBACAuthorization {
	if logger == nil {
		logger = slog.Default()
	}
	return &RBACAuthorization{
		BaseHandler: transport.NewBaseHandler(logger),
		logger:      logger,
	}
}

func (ra *RBACAuthorization) Check(next http.HandlerFunc, roles ...user.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := internal.IdentityFromContext(r.Context())
		if !ok {
			ra.logger.WarnContext(r.Context(), "authorization check failed: no identity in context")
			ra.WriteAppError(w, r, internal.ErrUnauthenticated)
			return
		}

		if !roleAllowed(user.Role(id.Role), roles) {
			ra.logger.WarnContext(r.Context(), "access denied: role not allowed",
				"user_id", id.UserID,
				"role", id.Role,
				"allowed_roles", roles)
			ra.WriteAppError(w, r, internal.ErrForbidden)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// RequireRoles is the chi-friendly form of Check.
func (ra *RBACAuthorization) RequireRoles(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return ra.Check(next.ServeHTTP, roles...)
	}
}

func (ra *RBACAuthorization) RequirePeopleManager() func(http.Handler) http.Handler {
	return ra.RequireRoles(user.RoleHR, user.RoleSuperAdmin)
}

func roleAllowed(role user.Role, allowed []user.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
