package gate

import (
	"net/http"
	"time"
)

// Cookie describes the browser cookie carrying the opaque session id.
type Cookie struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// Read returns the session id sent by the browser, or "".
func (c Cookie) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Write stores sid in the browser.
func (c Cookie) Write(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(c.TTL.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear removes the cookie.
func (c Cookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
