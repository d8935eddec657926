package server

import "net/http"

// apiKeyMiddleware requires every request to carry a matching x-api-key
// header, set to the value of STATE_MANAGER_SECRET. If no secret is
// configured, all requests are rejected: an unconfigured deployment is not
// an open one.
func (s *Server) apiKeyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.secret == "" {
				httpResponse(w, "state manager secret not configured", http.StatusForbidden)
				return
			}

			key := r.Header.Get("x-api-key")
			if key == "" || key != s.secret {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
