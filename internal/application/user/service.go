package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domain "github.com/tablehub/tablehub/internal/domain/user"
)

var ErrUsernameTaken = errors.New("username already taken")

// Service handles player accounts.
type Service struct {
	repo   domain.Repository
	logger zerolog.Logger
}

// NewService creates a user service.
func NewService(repo domain.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "user").Logger(),
	}
}

// CreateInput defines user creation input.
type CreateInput struct {
	Username    string
	DisplayName string
	Password    string
	Role        domain.Role
	Status      domain.Status
}

// UpdateInput defines user update input.
type UpdateInput struct {
	DisplayName *string
	Role        *domain.Role
	Status      *domain.Status
}

func (s *Service) CreateUser(ctx context.Context, input CreateInput) (*domain.User, error) {
	username := domain.NormalizeUsername(input.Username)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password, username); err != nil {
		return nil, err
	}
	if input.Role == "" {
		input.Role = domain.RolePlayer
	}
	if err := domain.ValidateRole(input.Role); err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = domain.StatusActive
	}
	if err := domain.ValidateStatus(input.Status); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := domain.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = username
	}

	now := time.Now().UTC()
	u := &domain.User{
		UserID:       uuid.New(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         input.Role,
		Status:       input.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", u.UserID.String()).Str("username", u.Username).Str("role", string(u.Role)).Msg("user created")
	return u, nil
}

func (s *Service) UpdateUser(ctx context.Context, userID uuid.UUID, input UpdateInput) (*domain.User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user not found: %s", userID)
	}
	if input.DisplayName != nil {
		if name := strings.TrimSpace(*input.DisplayName); name != "" {
			u.DisplayName = name
		}
	}
	if input.Role != nil {
		if err := domain.ValidateRole(*input.Role); err != nil {
			return nil, err
		}
		u.Role = *input.Role
	}
	if input.Status != nil {
		if err := domain.ValidateStatus(*input.Status); err != nil {
			return nil, err
		}
		u.Status = *input.Status
	}
	u.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("user not found: %s", userID)
	}
	if err := domain.ValidatePassword(password, u.Username); err != nil {
		return err
	}
	hash, err := domain.HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.repo.GetByID(ctx, userID)
}

func (s *Service) ListUsers(ctx context.Context, filter domain.Filter, limit, offset int) ([]*domain.User, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
