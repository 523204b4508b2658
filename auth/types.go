// Package auth implements the authentication service: registration, login,
// session validation/refresh/logout, rate limiting, and lockout (spec.md
// §4.4).
package auth

import "time"

// Role is a user's privilege level (spec.md §3).
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
	RoleGuest     Role = "guest"
)

// Status is a user account's lifecycle state (spec.md §3).
type Status string

const (
	StatusActive              Status = "active"
	StatusSuspended           Status = "suspended"
	StatusBanned              Status = "banned"
	StatusPendingVerification Status = "pending_verification"
	StatusDeactivated         Status = "deactivated"
)

// User mirrors spec.md §3's User entity. PasswordHash is the full encoded
// Argon2id hash (including its embedded salt and parameters, see
// password.go); there is no separate Salt field because the standard
// Argon2id encoding is self-describing.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSeenAt   *time.Time
}

// Protocol identifies which transport a Session was established over
// (spec.md §3, §6).
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolWS   Protocol = "ws"
	ProtocolHTTP Protocol = "http"
)

// Session mirrors spec.md §3's Session entity.
type Session struct {
	ID           string
	UserID       string
	Token        string
	Protocol     Protocol
	IP           string
	UserAgent    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActiveAt time.Time
}

// UserRepository is the persistence contract for users (spec.md §1, §6).
// store.Store satisfies this; tests may use an in-memory fake.
type UserRepository interface {
	CreateUser(u *User) error
	GetUserByID(id string) (*User, error)
	GetUserByUsernameOrEmail(identifier string) (*User, error)
	UpdateUser(u *User) error
	DeleteUser(id string) error
}

// SessionRepository is the persistence contract for sessions (spec.md §1, §6).
type SessionRepository interface {
	CreateSession(s *Session) error
	GetSessionByToken(token string) (*Session, error)
	UpdateSession(s *Session) error
	DeleteSession(id string) error
	DeleteSessionsForUser(userID string) error
	DeleteExpiredSessions(now time.Time) (int, error)
}

// AuthResponse is returned by a successful Login (spec.md §4.4).
type AuthResponse struct {
	User    *User
	Session *Session
}
