package auth

import (
	"net/http"
	"strings"
	"time"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// TokenSource records where Extract found a token.
type TokenSource string

const (
	SourceNone   TokenSource = ""
	SourceHeader TokenSource = "header"
	SourceCookie TokenSource = "cookie"
)

// Extract returns the presented token, preferring a Bearer Authorization header over
// the named cookie. A header that is absent, empty or not a Bearer credential does not
// hide the cookie.
func Extract(r *http.Request, cookieName string) (string, TokenSource) {
	raw := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if len(raw) > len(bearerPrefix) && strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		if tok := strings.TrimSpace(raw[len(bearerPrefix):]); tok != "" {
			return tok, SourceHeader
		}
	}

	if cookieName == "" {
		return "", SourceNone
	}
	if c, err := r.Cookie(cookieName); err == nil {
		if tok := strings.TrimSpace(c.Value); tok != "" {
			return tok, SourceCookie
		}
	}
	return "", SourceNone
}

// CookieConfig describes the identity cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	Path   string
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// SetTokenCookie writes the identity cookie with a max-age matching ttl.
func SetTokenCookie(w http.ResponseWriter, cfg CookieConfig, token string, ttl time.Duration) {
	if cfg.Name == "" || token == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     cfg.path(),
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearTokenCookie expires the identity cookie on the client.
func ClearTokenCookie(w http.ResponseWriter, cfg CookieConfig) {
	if cfg.Name == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.path(),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
