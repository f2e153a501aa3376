package auth

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"chat-presence-service/internal/models"
	"chat-presence-service/internal/repositories"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, userID int64, tokenVersion int, expiresAt time.Time) string {
	t.Helper()
	claims := Claims{
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

type userRepoStub struct {
	repositories.UserRepository
	user models.User
	err  error
}

func (s *userRepoStub) FindUser(_ context.Context, _ int64) (models.User, error) {
	return s.user, s.err
}

func TestVerifyTokenSuccess(t *testing.T) {
	users := &userRepoStub{user: models.User{ID: 7, Active: true, TokenVersion: 3}}
	v := NewJWTVerifier(testSecret, users)

	token := signToken(t, 7, 3, time.Now().Add(time.Hour))

	identity, err := v.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, int64(7), identity.UserID)
	require.Equal(t, 3, identity.TokenVersion)
}

func TestVerifyTokenExpired(t *testing.T) {
	users := &userRepoStub{user: models.User{ID: 7, TokenVersion: 3}}
	v := NewJWTVerifier(testSecret, users)

	token := signToken(t, 7, 3, time.Now().Add(-time.Hour))

	_, err := v.VerifyToken(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyTokenGarbage(t *testing.T) {
	v := NewJWTVerifier(testSecret, &userRepoStub{})

	_, err := v.VerifyToken(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	v := NewJWTVerifier("a-different-secret", &userRepoStub{})

	token := signToken(t, 7, 3, time.Now().Add(time.Hour))

	_, err := v.VerifyToken(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenStaleVersionIsRevoked(t *testing.T) {
	users := &userRepoStub{user: models.User{ID: 7, Active: true, TokenVersion: 4}}
	v := NewJWTVerifier(testSecret, users)

	token := signToken(t, 7, 3, time.Now().Add(time.Hour))

	_, err := v.VerifyToken(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestVerifyTokenUnknownUser(t *testing.T) {
	users := &userRepoStub{err: repositories.ErrUserNotFound}
	v := NewJWTVerifier(testSecret, users)

	token := signToken(t, 7, 3, time.Now().Add(time.Hour))

	_, err := v.VerifyToken(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestIsUsable(t *testing.T) {
	cases := []struct {
		name string
		user models.User
		want bool
	}{
		{"active", models.User{ID: 7, Active: true}, true},
		{"locked", models.User{ID: 7, Active: true, Locked: true}, false},
		{"deactivated", models.User{ID: 7, Active: false}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewJWTVerifier(testSecret, &userRepoStub{user: tc.user})
			usable, err := v.IsUsable(context.Background(), 7)
			require.NoError(t, err)
			require.Equal(t, tc.want, usable)
		})
	}
}

func TestIsUsableUnknownUser(t *testing.T) {
	v := NewJWTVerifier(testSecret, &userRepoStub{err: repositories.ErrUserNotFound})

	usable, err := v.IsUsable(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, usable)
}
