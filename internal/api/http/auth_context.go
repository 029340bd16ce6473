package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/tablehub/tablehub/internal/domain/user"
)

type authContextKey string

const authUserKey authContextKey = "authUser"

// AuthUser represents the authenticated user in context.
type AuthUser struct {
	UserID      uuid.UUID
	Username    string
	DisplayName string
	Role        user.Role
	SessionID   uuid.UUID
}

func withAuthUser(ctx context.Context, u *AuthUser) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, authUserKey, u)
}

func authUserFromContext(ctx context.Context) *AuthUser {
	val := ctx.Value(authUserKey)
	if v, ok := val.(*AuthUser); ok {
		return v
	}
	return nil
}

// ownerID is the caller's user id, or nil for anonymous callers.
func (u *AuthUser) ownerID() *uuid.UUID {
	if u == nil {
		return nil
	}
	id := u.UserID
	return &id
}

// canHost reports whether the caller may own a room or a solo adventure.
// Without AUTH_REQUIRED everybody may.
func (s *Server) canHost(u *AuthUser) bool {
	if !s.authRequired {
		return true
	}
	return u != nil && u.Role.CanHost()
}
