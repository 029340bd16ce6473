package httpapi

import (
	"errors"
	"net/http"
	"strings"
)

var errAuthUnavailable = errors.New("authentication is not configured")

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r, s.sessionCookieName)
		u, err := s.authenticate(r, token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuthUser(r.Context(), u)))
	})
}

// optionalAuth attaches the caller when a valid token is presented and
// lets anonymous requests through otherwise.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r, s.sessionCookieName)
		if token == "" || s.authSvc == nil {
			next.ServeHTTP(w, r)
			return
		}
		u, err := s.authenticate(r, token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuthUser(r.Context(), u)))
	})
}

// gate is requireAuth under AUTH_REQUIRED and optionalAuth otherwise.
func (s *Server) gate(next http.Handler) http.Handler {
	if s.authRequired {
		return s.requireAuth(next)
	}
	return s.optionalAuth(next)
}

func (s *Server) authenticate(r *http.Request, token string) (*AuthUser, error) {
	if s.authSvc == nil {
		return nil, errAuthUnavailable
	}
	u, sess, err := s.authSvc.Authenticate(r.Context(), token)
	if err != nil {
		return nil, err
	}
	return &AuthUser{
		UserID:      u.UserID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		SessionID:   sess.SessionID,
	}, nil
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	for _, r := range roles {
		allowed[strings.ToUpper(r)] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := authUserFromContext(r.Context())
			if user == nil {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
				return
			}
			if _, ok := allowed[strings.ToUpper(string(user.Role))]; !ok {
				respondError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads a bearer header, the session cookie or, for browser
// WebSocket clients that cannot set headers, the token query parameter.
func extractToken(r *http.Request, cookieName string) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return r.URL.Query().Get("token")
}
