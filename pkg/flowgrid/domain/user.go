package domain

import (
	"database/sql"
)

// User is a notifiable principal: an API caller, an approver, or both.
// Passwords are stored bcrypt-hashed.
type User struct {
	ID            int64          `json:"id"`
	Username      string         `json:"username"`
	Password      string         `json:"password"`
	SessionID     sql.NullString `json:"sessionId"`
	ApiKey        sql.NullString `json:"apiKey"`
	SessionExpiry sql.NullTime   `json:"sessionExpiry"`
	Created       sql.NullTime   `json:"created"`
	Enabled       sql.NullBool   `json:"enabled"`
}
