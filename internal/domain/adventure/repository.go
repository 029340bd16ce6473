package adventure

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Filter controls adventure listing.
type Filter struct {
	OwnerID      *uuid.UUID
	CharacterRef *string
}

// Repository defines persistence for adventures. Get returns nil, nil when
// the record does not exist.
type Repository interface {
	Create(ctx context.Context, a *Adventure) error
	Get(ctx context.Context, adventureID uuid.UUID) (*Adventure, error)
	Update(ctx context.Context, a *Adventure) error
	Delete(ctx context.Context, adventureID uuid.UUID) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Adventure, error)
}
