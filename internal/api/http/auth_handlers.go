package httpapi

import (
	"errors"
	"net/http"
	"time"

	appAuth "github.com/tablehub/tablehub/internal/application/auth"
	appUser "github.com/tablehub/tablehub/internal/application/user"
	domainUser "github.com/tablehub/tablehub/internal/domain/user"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type bootstrapRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type loginResponse struct {
	User         interface{} `json:"user"`
	SessionID    string      `json:"session_id"`
	ExpiresAt    string      `json:"expires_at"`
	SessionToken string      `json:"session_token"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	userAgent := r.UserAgent()
	res, err := s.authSvc.Login(r.Context(), req.Username, req.Password, &userAgent)
	if err != nil {
		if errors.Is(err, appAuth.ErrInvalidCredentials) || errors.Is(err, appAuth.ErrUserDisabled) {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionCookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.sessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	respondJSON(w, http.StatusOK, loginResponse{
		User:         res.User,
		SessionID:    res.Session.SessionID.String(),
		ExpiresAt:    res.Session.ExpiresAt.Format(time.RFC3339),
		SessionToken: res.Token,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r, s.sessionCookieName)
	if err := s.authSvc.Logout(r.Context(), token); err != nil {
		s.logger.Warn().Err(err).Msg("logout")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.sessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u := authUserFromContext(r.Context())
	if u == nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	user, err := s.userSvc.GetUser(r.Context(), u.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// bootstrapAdmin creates the first account. It only works on an empty
// user table.
func (s *Server) bootstrapAdmin(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	count, err := s.userSvc.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if count > 0 {
		respondError(w, http.StatusBadRequest, "INVALID_STATE", "bootstrap already completed")
		return
	}
	u, err := s.userSvc.CreateUser(r.Context(), appUser.CreateInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        domainUser.RoleAdmin,
		Status:      domainUser.StatusActive,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, u)
}
