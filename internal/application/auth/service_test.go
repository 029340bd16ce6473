package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainSession "github.com/tablehub/tablehub/internal/domain/session"
	sessionmocks "github.com/tablehub/tablehub/internal/domain/session/mocks"
	domainUser "github.com/tablehub/tablehub/internal/domain/user"
	usermocks "github.com/tablehub/tablehub/internal/domain/user/mocks"
)

const password = "S3cure!Passw0rd"

func newUser(t *testing.T, status domainUser.Status) *domainUser.User {
	t.Helper()
	hash, err := domainUser.HashPassword(password)
	require.NoError(t, err)
	return &domainUser.User{
		UserID:       uuid.New(),
		Username:     "mira",
		PasswordHash: hash,
		Role:         domainUser.RoleGameMaster,
		Status:       status,
	}
}

func newService(t *testing.T) (*Service, *usermocks.MockRepository, *sessionmocks.MockRepository) {
	ctrl := gomock.NewController(t)
	users := usermocks.NewMockRepository(ctrl)
	sessions := sessionmocks.NewMockRepository(ctrl)
	return NewService(users, sessions, time.Hour, zerolog.Nop()), users, sessions
}

func TestLogin(t *testing.T) {
	svc, users, sessions := newService(t)
	u := newUser(t, domainUser.StatusActive)
	users.EXPECT().GetByUsername(gomock.Any(), "mira").Return(u, nil)

	var stored *domainSession.Session
	sessions.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, s *domainSession.Session) error {
		stored = s
		return nil
	})

	res, err := svc.Login(context.Background(), "  Mira ", password, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, hashToken(res.Token), stored.TokenHash)
	assert.NotEqual(t, res.Token, stored.TokenHash)
	assert.Equal(t, u.UserID, stored.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), stored.ExpiresAt, time.Minute)
}

func TestLogin_Rejections(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		svc, users, _ := newService(t)
		users.EXPECT().GetByUsername(gomock.Any(), "ghost").Return(nil, nil)
		_, err := svc.Login(context.Background(), "ghost", password, nil)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
	t.Run("wrong password", func(t *testing.T) {
		svc, users, _ := newService(t)
		users.EXPECT().GetByUsername(gomock.Any(), "mira").Return(newUser(t, domainUser.StatusActive), nil)
		_, err := svc.Login(context.Background(), "mira", "nope", nil)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
	t.Run("disabled", func(t *testing.T) {
		svc, users, _ := newService(t)
		users.EXPECT().GetByUsername(gomock.Any(), "mira").Return(newUser(t, domainUser.StatusDisabled), nil)
		_, err := svc.Login(context.Background(), "mira", password, nil)
		assert.ErrorIs(t, err, ErrUserDisabled)
	})
	t.Run("repository failure", func(t *testing.T) {
		svc, users, _ := newService(t)
		boom := errors.New("db down")
		users.EXPECT().GetByUsername(gomock.Any(), "mira").Return(nil, boom)
		_, err := svc.Login(context.Background(), "mira", password, nil)
		assert.ErrorIs(t, err, boom)
	})
}

func TestAuthenticate(t *testing.T) {
	svc, users, sessions := newService(t)
	u := newUser(t, domainUser.StatusActive)
	sess := &domainSession.Session{SessionID: uuid.New(), UserID: u.UserID, ExpiresAt: time.Now().Add(time.Hour)}

	sessions.EXPECT().GetByTokenHash(gomock.Any(), hashToken("tok")).Return(sess, nil)
	users.EXPECT().GetByID(gomock.Any(), u.UserID).Return(u, nil)
	sessions.EXPECT().UpdateLastSeen(gomock.Any(), sess.SessionID).Return(nil)

	got, gotSess, err := svc.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, sess, gotSess)
}

func TestAuthenticate_Expired(t *testing.T) {
	svc, _, sessions := newService(t)
	sess := &domainSession.Session{SessionID: uuid.New(), ExpiresAt: time.Now().Add(-time.Minute)}
	sessions.EXPECT().GetByTokenHash(gomock.Any(), gomock.Any()).Return(sess, nil)
	sessions.EXPECT().DeleteByID(gomock.Any(), sess.SessionID).Return(nil)

	_, _, err := svc.Authenticate(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestAuthenticate_MissingAndUnknown(t *testing.T) {
	svc, _, sessions := newService(t)
	_, _, err := svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)

	sessions.EXPECT().GetByTokenHash(gomock.Any(), gomock.Any()).Return(nil, nil)
	_, _, err = svc.Authenticate(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLogoutAndPurge(t *testing.T) {
	svc, _, sessions := newService(t)
	require.NoError(t, svc.Logout(context.Background(), ""))

	sessions.EXPECT().DeleteByTokenHash(gomock.Any(), hashToken("tok")).Return(nil)
	require.NoError(t, svc.Logout(context.Background(), "tok"))

	sessions.EXPECT().DeleteExpired(gomock.Any()).Return(3, nil)
	n, err := svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
