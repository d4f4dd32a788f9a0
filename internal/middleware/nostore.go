package middleware

import "net/http"

// NoStore marks responses as uncacheable. Signing views and staged links
// change as soon as a session is signed.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
