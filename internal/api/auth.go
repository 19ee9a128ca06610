package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errNoCredentials = errors.New("missing API key")
	errBadScheme     = errors.New("authorization must use the Bearer scheme")
)

// requestKey returns the caller's key from "Authorization: Bearer <key>".
// GET requests may pass ?api_key= instead, since EventSource clients
// cannot set headers on /events.
func requestKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if r.Method == http.MethodGet {
			if key := strings.TrimSpace(r.URL.Query().Get("api_key")); key != "" {
				return key, nil
			}
		}
		return "", errNoCredentials
	}

	scheme, key, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errBadScheme
	}
	if key = strings.TrimSpace(key); key == "" {
		return "", errNoCredentials
	}
	return key, nil
}

// keyMatches compares in constant time. An empty configured key never matches.
func keyMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := requestKey(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !keyMatches(key, s.config.APIKey) {
			s.logger.Warn("rejected API key", "path", r.URL.Path, "remote", r.RemoteAddr)
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
