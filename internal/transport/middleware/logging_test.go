package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/employee-management/internal/transport/middleware"
)

var _ = Describe("LoggingMiddleware", func() {
	It("never writes credentials or tokens to the log", func() {
		var buf bytes.Buffer
		lg := slog.New(slog.NewJSONHandler(&buf, nil))

		h := middleware.LoggingMiddleware(lg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "jid", Value: "refresh-secret-value", HttpOnly: true})
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"access-secret-value","user":{"id":"u-1"}}`))
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/users/login",
			strings.NewReader(`{"email":"a@example.com","password":"hunter22"}`))
		req.Header.Set("Authorization", "Bearer old-access-value")
		req.AddCookie(&http.Cookie{Name: "jid", Value: "old-refresh-value"})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))

		out := buf.String()
		Expect(out).To(ContainSubstring("a@example.com"))
		Expect(out).To(ContainSubstring("u-1"))
		for _, secret := range []string{"hunter22", "access-secret-value", "refresh-secret-value", "old-access-value", "old-refresh-value"} {
			Expect(out).NotTo(ContainSubstring(secret))
		}
	})
})
