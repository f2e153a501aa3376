package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"chat-presence-service/internal/repositories"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
)

// Identity is the result of a successful token verification.
type Identity struct {
	UserID       int64
	TokenVersion int
}

// Verifier resolves bearer tokens to user identities and answers whether an
// account may hold a session.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (Identity, error)
	IsUsable(ctx context.Context, userID int64) (bool, error)
}

// Claims is the JWT claim set issued by the auth collaborator.
type Claims struct {
	TokenVersion int `json:"token_version"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed tokens and checks the embedded token
// version against the user record so revoked tokens stop working.
type JWTVerifier struct {
	secret []byte
	users  repositories.UserRepository
}

// NewJWTVerifier constructs a JWTVerifier.
func NewJWTVerifier(secret string, users repositories.UserRepository) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), users: users}
}

// VerifyToken parses and validates the token and returns the user identity.
func (v *JWTVerifier) VerifyToken(ctx context.Context, token string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrTokenInvalid
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return Identity{}, ErrTokenInvalid
	}

	user, err := v.users.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return Identity{}, ErrTokenInvalid
		}
		return Identity{}, err
	}
	if claims.TokenVersion != user.TokenVersion {
		return Identity{}, ErrTokenRevoked
	}

	return Identity{UserID: userID, TokenVersion: claims.TokenVersion}, nil
}

// IsUsable reports whether the account is active and not locked.
func (v *JWTVerifier) IsUsable(ctx context.Context, userID int64) (bool, error) {
	user, err := v.users.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.Usable(), nil
}
