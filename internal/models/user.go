package models

import "time"

// UserStatus is a user's presence state as observed by other users.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
	StatusAway    UserStatus = "away"
)

// Valid reports whether the status is one of the supported values.
func (s UserStatus) Valid() bool {
	return s == StatusOnline || s == StatusOffline || s == StatusAway
}

// User is the durable user record owned by the storage collaborator.
type User struct {
	ID           int64      `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Status       UserStatus `db:"status" json:"status"`
	Active       bool       `db:"active" json:"active"`
	Locked       bool       `db:"locked" json:"locked"`
	TokenVersion int        `db:"token_version" json:"token_version"`
	LastActivity *time.Time `db:"last_activity" json:"last_activity,omitempty"`
	LastSeen     *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Usable reports whether the account may hold an application session.
func (u User) Usable() bool {
	return u.Active && !u.Locked
}
