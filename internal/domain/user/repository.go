package user

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Filter controls user listing.
type Filter struct {
	Role     *Role
	Status   *Status
	Username *string
}

// Repository defines persistence for player accounts.
type Repository interface {
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*User, error)
	Count(ctx context.Context) (int, error)
}
