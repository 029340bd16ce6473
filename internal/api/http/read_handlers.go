package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tablehub/tablehub/internal/domain/adventure"
	"github.com/tablehub/tablehub/internal/domain/character"
	domainUser "github.com/tablehub/tablehub/internal/domain/user"
)

func (s *Server) listCharacters(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 500)
	characters := []*character.Character{}
	if s.characters != nil {
		list, err := s.characters.List(r.Context(), limit, offset)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		characters = list
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"characters": characters})
}

func (s *Server) getCharacter(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "characterId"))
	if s.characters == nil || id == "" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", character.ErrNotFound.Error())
		return
	}
	c, err := s.characters.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", character.ErrNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) listAdventures(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 200)
	filter := adventure.Filter{}
	if auth := authUserFromContext(r.Context()); auth != nil && auth.Role != domainUser.RoleAdmin {
		filter.OwnerID = auth.ownerID()
	}
	if v := r.URL.Query().Get("character"); v != "" {
		filter.CharacterRef = &v
	}
	list, err := s.adventures.List(r.Context(), filter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"adventures": list})
}

func (s *Server) getAdventure(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAdventure(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) deleteAdventure(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAdventure(w, r)
	if !ok {
		return
	}
	if err := s.adventures.Delete(r.Context(), a.AdventureID); err != nil {
		if errors.Is(err, adventure.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}

// loadAdventure fetches the adventure named in the path. Adventures owned
// by someone else read as missing unless the caller is an admin.
func (s *Server) loadAdventure(w http.ResponseWriter, r *http.Request) (*adventure.Adventure, bool) {
	id, err := parseUUIDParam(r, "adventureId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid adventureId")
		return nil, false
	}
	a, err := s.adventures.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return nil, false
	}
	if a == nil || !visibleTo(a, authUserFromContext(r.Context())) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", adventure.ErrNotFound.Error())
		return nil, false
	}
	return a, true
}

func visibleTo(a *adventure.Adventure, caller *AuthUser) bool {
	if a.OwnerID == nil {
		return true
	}
	if caller == nil {
		return false
	}
	return caller.Role == domainUser.RoleAdmin || caller.UserID == *a.OwnerID
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	rm := s.rooms.FindRoom(chi.URLParam(r, "code"))
	if rm == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "room not found")
		return
	}
	respondJSON(w, http.StatusOK, rm.Snapshot())
}
