package character

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import "context"

// Repository is the read-only character lookup. GetByID returns nil, nil
// when the id is unknown.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Character, error)
	List(ctx context.Context, limit, offset int) ([]*Character, error)
}
