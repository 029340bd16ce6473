package httpapi

import (
	"errors"
	"net/http"
	"strings"

	appUser "github.com/tablehub/tablehub/internal/application/user"
	domainUser "github.com/tablehub/tablehub/internal/domain/user"
)

type userCreateRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

type userUpdateRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Role        *string `json:"role,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type passwordUpdateRequest struct {
	Password string `json:"password"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	role := domainUser.RolePlayer
	if req.Role != "" {
		parsed, err := parseRole(req.Role)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		role = parsed
	}
	u, err := s.userSvc.CreateUser(r.Context(), appUser.CreateInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        role,
		Status:      domainUser.StatusActive,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, appUser.ErrUsernameTaken) {
			status = http.StatusConflict
		}
		respondError(w, status, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 200)
	filter := domainUser.Filter{}
	if v := r.URL.Query().Get("role"); v != "" {
		role, err := parseRole(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		filter.Role = &role
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := domainUser.Status(strings.ToUpper(v))
		filter.Status = &st
	}
	if v := r.URL.Query().Get("username"); v != "" {
		filter.Username = &v
	}
	users, err := s.userSvc.ListUsers(r.Context(), filter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "userId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid userId")
		return
	}
	auth := authUserFromContext(r.Context())
	if auth == nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	if auth.Role != domainUser.RoleAdmin && auth.UserID != id {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
		return
	}
	u, err := s.userSvc.GetUser(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if u == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "userId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid userId")
		return
	}
	var req userUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	var role *domainUser.Role
	if req.Role != nil {
		parsed, err := parseRole(*req.Role)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		role = &parsed
	}
	var status *domainUser.Status
	if req.Status != nil {
		st := domainUser.Status(strings.ToUpper(*req.Status))
		if err := domainUser.ValidateStatus(st); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		status = &st
	}
	u, err := s.userSvc.UpdateUser(r.Context(), id, appUser.UpdateInput{
		DisplayName: req.DisplayName,
		Role:        role,
		Status:      status,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) setUserPassword(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "userId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid userId")
		return
	}
	auth := authUserFromContext(r.Context())
	if auth == nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	if auth.Role != domainUser.RoleAdmin && auth.UserID != id {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
		return
	}
	var req passwordUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.userSvc.SetPassword(r.Context(), id, req.Password); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}

func parseRole(role string) (domainUser.Role, error) {
	r := domainUser.Role(strings.ToUpper(role))
	if err := domainUser.ValidateRole(r); err != nil {
		return "", err
	}
	return r, nil
}
