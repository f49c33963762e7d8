package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/employee-management/internal"
	"github.com/frahmantamala/employee-management/internal/audit"
	"github.com/frahmantamala/employee-management/internal/auth"
	userDatamodel "github.com/frahmantamala/employee-management/internal/core/datamodel/user"
	"github.com/frahmantamala/employee-management/internal/transport/rest"
	"github.com/frahmantamala/employee-management/internal/user"
	userPostgres "github.com/frahmantamala/employee-management/internal/user/postgres"
	"github.com/frahmantamala/employee-management/pkg/logger"
)

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("connection refused") }

var _ = Describe("RegisterAllRoutes", func() {
	var (
		server      *httptest.Server
		userService *user.Service
		hrPassword  string
		empPassword string
		empID       string
		adminID     string
		deps        rest.Dependencies
	)

	newClient := func() *http.Client {
		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		return &http.Client{Jar: jar}
	}

	call := func(client *http.Client, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequest(method, server.URL+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		decoded := map[string]interface{}{}
		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &decoded)
		}
		return resp, decoded
	}

	login := func(client *http.Client, email, password string) string {
		resp, body := call(client, http.MethodPost, "/api/users/login", "", map[string]string{
			"email":    email,
			"password": password,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		return body["token"].(string)
	}

	start := func() {
		router := chi.NewRouter()
		Expect(rest.RegisterAllRoutes(router, deps)).To(Succeed())
		server = httptest.NewServer(router)
	}

	BeforeEach(func() {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&userDatamodel.User{})).To(Succeed())

		lg := logger.Discard()
		userService = user.NewService(userPostgres.NewUserRepository(db), 4, nil, lg)

		ctx := context.Background()
		_, hrPassword, err = userService.Register(ctx, internal.Identity{}, user.RegisterDTO{Name: "Helen Ross", Email: "hr@example.com", Role: "hr"})
		Expect(err).NotTo(HaveOccurred())
		var emp *user.User
		emp, empPassword, err = userService.Register(ctx, internal.Identity{}, user.RegisterDTO{Name: "Evan Price", Email: "evan@example.com"})
		Expect(err).NotTo(HaveOccurred())
		empID = emp.ID
		admin, _, err := userService.Register(ctx, internal.Identity{Role: string(user.RoleSuperAdmin)}, user.RegisterDTO{Name: "Ada Root", Email: "root@example.com", Role: "super_admin"})
		Expect(err).NotTo(HaveOccurred())
		adminID = admin.ID

		tokens, err := auth.NewJWTTokenGenerator("router-access", "router-refresh", 0, 0)
		Expect(err).NotTo(HaveOccurred())
		authService := auth.NewService(userService, tokens, nil, lg)

		cfg := &internal.Config{}
		cfg.Security.JWTSecret = "router-access"
		cfg.ApplyDefaults()

		deps = rest.Dependencies{
			DB:           sqlDB,
			AuthHandler:  auth.NewHandler(authService, auth.NewCookieConfig(cfg)),
			UserHandler:  user.NewHandler(userService),
			AuditHandler: audit.NewHandler(audit.NewService(nil, lg)),
			RBAC:         auth.NewRBACAuthorization(lg),
			Logger:       lg,
		}
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	Context("health", func() {
		It("answers ping and reports the database", func() {
			start()
			client := newClient()

			resp, body := call(client, http.MethodGet, "/api/ping", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["status"]).To(Equal("OK"))

			resp, body = call(client, http.MethodGet, "/api/health", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["status"]).To(Equal("healthy"))
			Expect(body["components"]).To(HaveKey("postgres"))
		})

		It("returns 503 when a dependency is down", func() {
			deps.DB = failingPinger{}
			start()

			resp, body := call(newClient(), http.MethodGet, "/api/health", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(body["status"]).To(Equal("unhealthy"))
		})
	})

	Context("session lifecycle", func() {
		BeforeEach(start)

		It("logs in, refreshes through the cookie jar and logs out", func() {
			client := newClient()
			access := login(client, "EVAN@example.com", empPassword)

			resp, body := call(client, http.MethodGet, "/api/users/me", access, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["id"]).To(Equal(empID))

			resp, body = call(client, http.MethodPost, "/api/users/refresh-token", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["token"]).NotTo(BeEmpty())

			resp, body = call(client, http.MethodPost, "/api/users/logout", access, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["success"]).To(BeTrue())

			u, err := url.Parse(server.URL + "/api/users/refresh-token")
			Expect(err).NotTo(HaveOccurred())
			Expect(client.Jar.Cookies(u)).To(BeEmpty())

			resp, body = call(client, http.MethodPost, "/api/users/refresh-token", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(body["message"]).To(Equal("No refresh token"))
		})

		It("rejects protected routes without a bearer token", func() {
			resp, body := call(newClient(), http.MethodGet, "/api/users/me", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(body["message"]).To(Equal("Not authenticated"))
		})

		It("revokes outstanding refresh tokens when HR bumps the version", func() {
			empClient := newClient()
			login(empClient, "evan@example.com", empPassword)

			hrClient := newClient()
			hrToken := login(hrClient, "hr@example.com", hrPassword)

			resp, body := call(hrClient, http.MethodPost, "/api/users/"+empID+"/revoke-sessions", hrToken, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["token_version"]).To(BeEquivalentTo(1))

			resp, body = call(empClient, http.MethodPost, "/api/users/refresh-token", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(body["message"]).To(Equal("Refresh token revoked"))
		})
	})

	Context("role checks", func() {
		BeforeEach(start)

		It("limits registration and audit logs to people managers", func() {
			empClient := newClient()
			empToken := login(empClient, "evan@example.com", empPassword)

			newHire := map[string]string{"name": "Nina Hale", "email": "nina@example.com"}

			resp, _ := call(empClient, http.MethodPost, "/api/users/register", empToken, newHire)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

			resp, _ = call(empClient, http.MethodGet, "/api/audit-logs", empToken, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

			hrClient := newClient()
			hrToken := login(hrClient, "hr@example.com", hrPassword)

			resp, body := call(hrClient, http.MethodPost, "/api/users/register", hrToken, newHire)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(body).To(HaveKey("initial_password"))

			resp, body = call(hrClient, http.MethodGet, "/api/audit-logs", hrToken, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKey("records"))
		})

		It("keeps super_admin accounts out of HR's reach", func() {
			hrClient := newClient()
			hrToken := login(hrClient, "hr@example.com", hrPassword)

			resp, body := call(hrClient, http.MethodPost, "/api/users/register", hrToken, map[string]string{
				"name":  "Eve Root",
				"email": "eve@example.com",
				"role":  "super_admin",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			Expect(body).NotTo(HaveKey("initial_password"))

			resp, _ = call(hrClient, http.MethodPost, "/api/users/"+adminID+"/revoke-sessions", hrToken, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})
})
