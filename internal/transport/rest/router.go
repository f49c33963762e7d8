package rest

import (
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/frahmantamala/employee-management/internal/audit"
	"github.com/frahmantamala/employee-management/internal/auth"
	"github.com/frahmantamala/employee-management/internal/transport/middleware"
	"github.com/frahmantamala/employee-management/internal/transport/swagger"
	"github.com/frahmantamala/employee-management/internal/user"
)

type Dependencies struct {
	DB    Pinger
	Redis redis.UniversalClient

	AuthHandler  *auth.Handler
	UserHandler  *user.Handler
	AuditHandler *audit.Handler
	RBAC         *auth.RBACAuthorization
	RateLimiter  *middleware.RateLimiter

	OpenAPI        *openapi3.T
	OpenAPIPath    string
	AllowedOrigins []string
	Logger         *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	healthHandler := NewHealthHandler(deps.DB, deps.Redis)

	rbac := deps.RBAC
	if rbac == nil {
		rbac = auth.NewRBACAuthorization(logger)
	}

	// Apply global middleware
	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	if deps.OpenAPIPath != "" {
		router.Get(swagger.SpecURL, swagger.SpecHandler(deps.OpenAPIPath))
		router.Handle("/swagger/*", swagger.Handler())
	}

	var validate func(http.Handler) http.Handler
	if deps.OpenAPI != nil {
		v, err := middleware.OpenAPIValidator(deps.OpenAPI, logger)
		if err != nil {
			return err
		}
		validate = v
	}

	router.Route("/api", func(r chi.Router) {
		if validate != nil {
			r.Use(validate)
		}

		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if deps.AuthHandler == nil {
			return
		}
		authHandler := deps.AuthHandler

		r.Route("/users", func(ur chi.Router) {
			ur.With(deps.RateLimiter.Limit("login")).Post("/login", authHandler.Login)
			ur.Post("/refresh-token", authHandler.RefreshToken)
			ur.Post("/logout", authHandler.Logout)

			if deps.UserHandler == nil {
				return
			}
			userHandler := deps.UserHandler

			ur.Group(func(pr chi.Router) {
				pr.Use(authHandler.AuthMiddleware)

				pr.Get("/me", userHandler.GetCurrentUser)
				pr.Put("/me/password", userHandler.ChangePassword)
				pr.Patch("/{id}", userHandler.UpdateProfile)

				pr.Group(func(hr chi.Router) {
					hr.Use(rbac.RequirePeopleManager())
					hr.Post("/register", userHandler.Register)
					hr.Post("/{id}/revoke-sessions", userHandler.RevokeSessions)
				})
			})
		})

		if deps.AuditHandler != nil {
			r.Group(func(ar chi.Router) {
				ar.Use(authHandler.AuthMiddleware)
				ar.Use(rbac.RequirePeopleManager())
				ar.Get("/audit-logs", deps.AuditHandler.ListAuditLogs)
			})
		}
	})

	return nil
}
