package auth

// Package auth contains domain-level types for sessions.
// It is pure and free of framework/adapter concerns.

import "time"

// Role represents an application's authorization role.
// Keep string form for easy persistence and cookies.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Session is the server-side record persisted for an authenticated user.
// ID is an opaque session identifier (random URL-safe string).
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired returns true once the session's absolute expiry has passed.
func (s Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// IsAdmin returns true if the session role is admin.
func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }
