package model

import "time"

// TokenData contains the data stored with a session token.
type TokenData struct {
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsAdmin reports whether the session belongs to an administrator.
func (t *TokenData) IsAdmin() bool {
	return t.Role == RoleAdmin
}
