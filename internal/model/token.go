package model

import "time"

const TokenTypeBearer = "BEARER"

// Token is a persisted bearer token. Rows are never deleted, only flagged.
type Token struct {
	ID        int64     `json:"id"`
	UserID    int       `json:"user_id"`
	Token     string    `json:"-"`
	TokenType string    `json:"token_type"`
	Expired   bool      `json:"expired"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the token may still be used
func (t *Token) Valid() bool {
	return !t.Expired && !t.Revoked
}

// Revoke marks the token as expired and revoked
func (t *Token) Revoke() {
	t.Expired = true
	t.Revoked = true
}
