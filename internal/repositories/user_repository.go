package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-presence-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository defines durable storage interactions for user records.
type UserRepository interface {
	FindUser(ctx context.Context, userID int64) (models.User, error)
	UpdateStatus(ctx context.Context, userID int64, status models.UserStatus) error
	TouchActivity(ctx context.Context, userID int64, at time.Time) error
	LastActivity(ctx context.Context, userID int64) (*time.Time, error)
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error
}

// UserRepo is a sqlx-backed repository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// FindUser fetches a user by id.
func (r *UserRepo) FindUser(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, username, status, active, locked, token_version, last_activity, last_seen, created_at
         FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// UpdateStatus persists the user's presence status.
func (r *UserRepo) UpdateStatus(ctx context.Context, userID int64, status models.UserStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET status=$2 WHERE id=$1`, userID, status)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

// TouchActivity persists the session activity timestamp. The guard keeps the
// stored value monotonic when updates arrive out of order.
func (r *UserRepo) TouchActivity(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_activity=$2 WHERE id=$1 AND (last_activity IS NULL OR last_activity < $2)`,
		userID, at)
	return err
}

// LastActivity reads the persisted activity timestamp, nil when never tracked.
func (r *UserRepo) LastActivity(ctx context.Context, userID int64) (*time.Time, error) {
	var at sql.NullTime
	err := r.db.GetContext(ctx, &at, `SELECT last_activity FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	t := at.Time
	return &t, nil
}

// TouchLastSeen records when the user was last observed connected.
func (r *UserRepo) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen=$2 WHERE id=$1`, userID, at)
	return err
}
