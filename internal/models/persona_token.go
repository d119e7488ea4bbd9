package models

import "time"

// PersonaToken is a single-use credential that logs an operator in as a test identity.
type PersonaToken struct {
	Token     string     `json:"token" db:"token"`
	UserID    int64      `json:"user_id" db:"user_id"`
	Role      Role       `json:"role" db:"role"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
}

// Expired reports whether the token can no longer be redeemed at now.
func (t *PersonaToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Used reports whether the token was already redeemed.
func (t *PersonaToken) Used() bool {
	return t.UsedAt != nil
}
