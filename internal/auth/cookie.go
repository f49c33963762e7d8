package auth

import (
	"net/http"
	"time"

	"github.com/frahmantamala/employee-management/internal"
)

// CookieConfig describes the refresh cookie. Clearing must use the same
// name, path and flags or the browser keeps the old cookie.
type CookieConfig struct {
	Name     string
	Path     string
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
}

func NewCookieConfig(cfg *internal.Config) CookieConfig {
	return CookieConfig{
		Name:     cfg.Security.RefreshCookieName,
		Path:     cfg.Security.RefreshCookiePath,
		MaxAge:   cfg.Security.RefreshTokenDuration,
		Secure:   cfg.App.IsProduction(),
		SameSite: cfg.CookieSameSite(),
	}
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Name == "" {
		c.Name = internal.DefaultRefreshCookie
	}
	if c.Path == "" {
		c.Path = internal.DefaultRefreshPath
	}
	if c.MaxAge <= 0 {
		c.MaxAge = internal.DefaultRefreshTokenTTL
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

func (c CookieConfig) Set(w http.ResponseWriter, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    refreshToken,
		Path:     c.Path,
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// Read returns the refresh token or "" when the cookie is absent.
func (c CookieConfig) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
