package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

const (
	csrfCookieName = "officemesh-csrf-token"
	csrfHeaderName = "X-CSRF-Token"
)

// CSRF guards state-changing requests with a double-submit token. Any
// request without the cookie receives one; POST, PUT, PATCH and DELETE must
// echo it in the X-CSRF-Token header.
type CSRF struct {
	// Secure restricts the cookie to HTTPS.
	Secure bool
	// Exempt lists path prefixes served to non-browser clients.
	Exempt []string
}

// CSRFMiddleware applies the default CSRF settings.
func CSRFMiddleware(next http.Handler) http.Handler {
	return CSRF{}.Middleware(next)
}

func (c CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		var token string
		if cookie, err := r.Cookie(csrfCookieName); err == nil {
			token = cookie.Value
		}
		if token == "" {
			fresh, err := newCSRFToken()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to issue CSRF token", err.Error())
				return
			}
			token = fresh
			http.SetCookie(w, &http.Cookie{
				Name:     csrfCookieName,
				Value:    token,
				Path:     "/",
				SameSite: http.SameSiteStrictMode,
				Secure:   c.Secure,
			})
		}

		if changesState(r.Method) && !tokensMatch(r.Header.Get(csrfHeaderName), token) {
			writeError(w, http.StatusForbidden, "invalid CSRF token", "csrf header mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c CSRF) exempt(path string) bool {
	for _, prefix := range c.Exempt {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func changesState(method string) bool {
	return method == http.MethodPost || method == http.MethodPut ||
		method == http.MethodPatch || method == http.MethodDelete
}

func tokensMatch(header, token string) bool {
	return header != "" && subtle.ConstantTimeCompare([]byte(header), []byte(token)) == 1
}

func newCSRFToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
