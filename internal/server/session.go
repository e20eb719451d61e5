package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// sessionCookie names the cookie that ties uploads to later split and
// download requests from the same client.
const sessionCookie = "audiosplit_session"

type sessionKey struct{}

// withSession ensures every request carries a session id, minting one when
// the client has none yet. The id is a plain UUID; it identifies a working
// directory, not an authenticated user.
func withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sid string
		if c, err := r.Cookie(sessionCookie); err == nil && isValidSessionID(c.Value) {
			sid = c.Value
		} else {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionID returns the request's session id. The session middleware
// guarantees it is present.
func sessionID(r *http.Request) string {
	sid, _ := r.Context().Value(sessionKey{}).(string)
	return sid
}

// isValidSessionID rejects anything that is not a UUID, so a tampered
// cookie can never become a path component.
func isValidSessionID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
