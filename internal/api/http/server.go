// Package httpapi is the HTTP surface: auth endpoints, REST read models
// and the WebSocket gateway that dispatches protocol frames to rooms and
// solo sessions.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAuth "github.com/tablehub/tablehub/internal/application/auth"
	"github.com/tablehub/tablehub/internal/application/room"
	"github.com/tablehub/tablehub/internal/application/solo"
	appUser "github.com/tablehub/tablehub/internal/application/user"
	"github.com/tablehub/tablehub/internal/domain/adventure"
	"github.com/tablehub/tablehub/internal/domain/character"
	domainUser "github.com/tablehub/tablehub/internal/domain/user"
	"github.com/tablehub/tablehub/internal/infrastructure/ws"
)

// Dependencies wires the server. Auth and Users are nil when the store
// has no identity tables; the auth routes are then not mounted.
type Dependencies struct {
	Auth       *appAuth.Service
	Users      *appUser.Service
	Characters character.Repository
	Adventures adventure.Repository
	Rooms      *room.Registry
	Solo       *solo.Service
	Hub        *ws.Hub
	Logger     zerolog.Logger

	AuthRequired        bool
	SessionCookieName   string
	SessionCookieSecure bool
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	authSvc             *appAuth.Service
	userSvc             *appUser.Service
	characters          character.Repository
	adventures          adventure.Repository
	rooms               *room.Registry
	soloSvc             *solo.Service
	hub                 *ws.Hub
	logger              zerolog.Logger
	authRequired        bool
	sessionCookieName   string
	sessionCookieSecure bool
}

func NewServer(deps Dependencies) *Server {
	return &Server{
		authSvc:             deps.Auth,
		userSvc:             deps.Users,
		characters:          deps.Characters,
		adventures:          deps.Adventures,
		rooms:               deps.Rooms,
		soloSvc:             deps.Solo,
		hub:                 deps.Hub,
		logger:              deps.Logger.With().Str("service", "http").Logger(),
		authRequired:        deps.AuthRequired,
		sessionCookieName:   deps.SessionCookieName,
		sessionCookieSecure: deps.SessionCookieSecure,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.With(s.optionalAuth).Get("/ws", s.serveWS)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		if s.authSvc != nil {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", s.login)
				r.Post("/bootstrap", s.bootstrapAdmin)
				r.Group(func(r chi.Router) {
					r.Use(s.requireAuth)
					r.Post("/logout", s.logout)
					r.Get("/me", s.me)
				})
			})
			r.Route("/users", func(r chi.Router) {
				r.Use(s.requireAuth)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Post("/", s.createUser)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Get("/", s.listUsers)
				r.Get("/{userId}", s.getUser)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Patch("/{userId}", s.updateUser)
				r.Post("/{userId}/password", s.setUserPassword)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(s.gate)

			r.Route("/characters", func(r chi.Router) {
				r.Get("/", s.listCharacters)
				r.Get("/{characterId}", s.getCharacter)
			})
			r.Route("/adventures", func(r chi.Router) {
				r.Get("/", s.listAdventures)
				r.Get("/{adventureId}", s.getAdventure)
				r.Delete("/{adventureId}", s.deleteAdventure)
			})
			r.Get("/rooms/{code}", s.getRoom)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "OK",
		"rooms":       s.rooms.Len(),
		"connections": s.hub.Count(),
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
