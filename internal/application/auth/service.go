package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainSession "github.com/tablehub/tablehub/internal/domain/session"
	domainUser "github.com/tablehub/tablehub/internal/domain/user"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserDisabled       = errors.New("user is disabled")
	ErrMissingToken       = errors.New("missing token")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
)

// Service maps credentials to players and their roles.
type Service struct {
	userRepo    domainUser.Repository
	sessionRepo domainSession.Repository
	sessionTTL  time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewService creates an auth service.
func NewService(userRepo domainUser.Repository, sessionRepo domainSession.Repository, sessionTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sessionTTL:  sessionTTL,
		logger:      logger.With().Str("service", "auth").Logger(),
		now:         time.Now,
	}
}

// LoginResult contains login response.
type LoginResult struct {
	User    *domainUser.User
	Session *domainSession.Session
	Token   string
}

// Login authenticates a user and creates a session.
func (s *Service) Login(ctx context.Context, username, password string, userAgent *string) (*LoginResult, error) {
	username = domainUser.NormalizeUsername(username)
	u, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive() {
		return nil, ErrUserDisabled
	}
	if !domainUser.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &domainSession.Session{
		SessionID:  uuid.New(),
		TokenHash:  hashToken(token),
		UserID:     u.UserID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.sessionTTL),
		LastSeenAt: &now,
		UserAgent:  userAgent,
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", u.UserID.String()).Msg("user login")
	return &LoginResult{User: u, Session: sess, Token: token}, nil
}

// Authenticate validates a session token and returns the user.
func (s *Service) Authenticate(ctx context.Context, token string) (*domainUser.User, *domainSession.Session, error) {
	if token == "" {
		return nil, nil, ErrMissingToken
	}
	sess, err := s.sessionRepo.GetByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, ErrSessionNotFound
	}
	if sess.IsExpired(s.now().UTC()) {
		_ = s.sessionRepo.DeleteByID(ctx, sess.SessionID)
		return nil, nil, ErrSessionExpired
	}
	u, err := s.userRepo.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	if u == nil || !u.IsActive() {
		return nil, nil, ErrUserDisabled
	}
	if err := s.sessionRepo.UpdateLastSeen(ctx, sess.SessionID); err != nil {
		s.logger.Warn().Err(err).Msg("update last seen")
	}
	return u, sess, nil
}

// Logout deletes a session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessionRepo.DeleteByTokenHash(ctx, hashToken(token))
}

// PurgeExpired removes expired login sessions.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("sessions", n).Msg("expired sessions purged")
	}
	return n, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
