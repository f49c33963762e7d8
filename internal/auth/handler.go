package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/employee-management/internal"
	"github.com/frahmantamala/employee-management/internal/transport"
	"github.com/frahmantamala/employee-management/pkg/logger"
)

type ServiceAPI interface {
	Login(ctx context.Context, dto LoginDTO) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Logout(ctx context.Context, accessToken string)
	ValidateAccessToken(tokenString string) (*AccessClaims, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Cookie  CookieConfig
}

func NewHandler(svc ServiceAPI, cookie CookieConfig) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
		Cookie:      cookie.withDefaults(),
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.Service.Login(r.Context(), dto)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}

	h.Cookie.Set(w, session.RefreshToken)
	h.WriteJSON(w, http.StatusOK, LoginResponse{
		Token: session.AccessToken,
		User:  session.User.Profile(),
	})
}

// RefreshToken reads only the refresh cookie; the body is ignored. Failures
// leave the cookie untouched.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	session, err := h.Service.Refresh(r.Context(), h.Cookie.Read(r))
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}

	h.Cookie.Set(w, session.RefreshToken)
	h.WriteJSON(w, http.StatusOK, RefreshResponse{Token: session.AccessToken})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Service.Logout(r.Context(), h.ExtractTokenFromHeader(r))
	h.Cookie.Clear(w)
	h.WriteJSON(w, http.StatusOK, LogoutResponse{Success: true})
}

// AuthMiddleware verifies the bearer access token without touching storage.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.WriteAppError(w, r, internal.ErrUnauthenticated)
			return
		}

		claims, err := h.Service.ValidateAccessToken(token)
		if err != nil {
			h.WriteAppError(w, r, internal.ErrUnauthenticated.WithCause(err))
			return
		}

		ctx := internal.ContextWithIdentity(r.Context(), internal.Identity{
			UserID: claims.UserID,
			Role:   claims.Role,
		})
		ctx = logger.WithUser(ctx, claims.UserID, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
