package auth

import (
	"net/http"
	"time"
)

// SessionCookie carries session tokens between the server and the browser.
type SessionCookie struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

func NewSessionCookie(name string, secure bool, maxAge time.Duration) SessionCookie {
	return SessionCookie{Name: name, Secure: secure, MaxAge: maxAge}
}

func (c SessionCookie) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(token, int(c.MaxAge.Seconds())))
}

// Clear overwrites the cookie with an empty value that expires immediately.
// Tokens already issued stay valid until they expire.
func (c SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

// Token returns the raw cookie value, or "" when the request has none.
func (c SessionCookie) Token(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (c SessionCookie) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
