package auth

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"lair-chat/server/errs"
)

// ServiceConfig bundles the tunables spec.md §4.4 names.
type ServiceConfig struct {
	RateLimit       RateLimitConfig
	PasswordParams  PasswordParams
	SessionLifetime time.Duration // initial session lifetime on login
	RefreshLifetime time.Duration // default 24h, spec.md §4.4
}

// DefaultServiceConfig matches spec.md §4.4's literal defaults.
var DefaultServiceConfig = ServiceConfig{
	RateLimit:       DefaultRateLimitConfig,
	PasswordParams:  DefaultPasswordParams,
	SessionLifetime: 24 * time.Hour,
	RefreshLifetime: 24 * time.Hour,
}

// Service implements spec.md §4.4's authentication operations on top of the
// UserRepository/SessionRepository persistence contracts.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	cfg      ServiceConfig
	limiter  *rateLimiter
	now      func() time.Time
}

func NewService(users UserRepository, sessions SessionRepository, cfg ServiceConfig) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		limiter:  newRateLimiter(cfg.RateLimit),
		now:      time.Now,
	}
}

// Register creates a new user. Fails with Conflict if the repository's
// GetUserByUsernameOrEmail already returns a user for the username (the
// SQLite store matches case-insensitively, per spec.md §3).
func (s *Service) Register(username, email, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errs.New(errs.ProtocolError, "username must not be empty")
	}
	if existing, _ := s.users.GetUserByUsernameOrEmail(username); existing != nil {
		return nil, errs.New(errs.Conflict, "username already exists")
	}

	hash, err := HashPassword(password, s.cfg.PasswordParams)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(u); err != nil {
		return nil, errs.Wrap(errs.StorageError, err, "create user")
	}
	return u, nil
}

// Login implements spec.md §4.4's Login operation, including the rule that
// the server must never leak *why* a login failed (spec.md §7): missing
// user, wrong password, and a non-Active account all collapse to
// InvalidCredentials.
func (s *Service) Login(identifier, password, fingerprint, ip string, protocol Protocol) (*AuthResponse, error) {
	if err := s.limiter.checkLocked(identifier); err != nil {
		return nil, err
	}

	u, err := s.users.GetUserByUsernameOrEmail(identifier)
	if err != nil || u == nil {
		s.recordFailure(identifier)
		return nil, errs.New(errs.InvalidCredentials, "invalid username or password")
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok {
		s.recordFailure(identifier)
		return nil, errs.New(errs.InvalidCredentials, "invalid username or password")
	}

	if u.Status != StatusActive {
		s.recordFailure(identifier)
		return nil, errs.New(errs.InvalidCredentials, "invalid username or password")
	}

	now := s.now()
	u.LastSeenAt = &now
	u.UpdatedAt = now
	if err := s.users.UpdateUser(u); err != nil {
		return nil, errs.Wrap(errs.StorageError, err, "update last_seen_at")
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       u.ID,
		Token:        token,
		Protocol:     protocol,
		IP:           ip,
		UserAgent:    fingerprint,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.SessionLifetime),
		LastActiveAt: now,
	}
	if err := s.sessions.CreateSession(sess); err != nil {
		return nil, errs.Wrap(errs.StorageError, err, "create session")
	}

	s.limiter.reset(identifier)
	return &AuthResponse{User: u, Session: sess}, nil
}

func (s *Service) recordFailure(identifier string) {
	// The lockout error itself is discarded here: Login already reports
	// InvalidCredentials for this attempt, per spec.md §7. The bucket
	// transition to locked-out is what matters for future attempts.
	_ = s.limiter.checkAndRecordFailure(identifier)
}

// ValidateSession looks up a session by token and rejects (and deletes) it
// if expired (spec.md §4.4).
func (s *Service) ValidateSession(token string) (*Session, error) {
	sess, err := s.sessions.GetSessionByToken(token)
	if err != nil || sess == nil {
		return nil, errs.New(errs.InvalidToken, "unknown session token")
	}
	if !sess.ExpiresAt.After(s.now()) {
		_ = s.sessions.DeleteSession(sess.ID)
		return nil, errs.New(errs.SessionExpired, "session has expired")
	}
	return sess, nil
}

// RefreshSession validates then extends a session's expiry by
// cfg.RefreshLifetime (spec.md §4.4, default 24h).
func (s *Service) RefreshSession(token string) (*Session, error) {
	sess, err := s.ValidateSession(token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess.ExpiresAt = now.Add(s.cfg.RefreshLifetime)
	sess.LastActiveAt = now
	if err := s.sessions.UpdateSession(sess); err != nil {
		return nil, errs.Wrap(errs.StorageError, err, "extend session")
	}
	return sess, nil
}

// Logout deletes the session identified by token.
func (s *Service) Logout(token string) error {
	sess, err := s.sessions.GetSessionByToken(token)
	if err != nil || sess == nil {
		return nil // already gone; logout is idempotent
	}
	return s.sessions.DeleteSession(sess.ID)
}

// CleanupSessions deletes all expired sessions and returns how many were
// removed. Idempotent (spec.md §4.4).
func (s *Service) CleanupSessions() (int, error) {
	n, err := s.sessions.DeleteExpiredSessions(s.now())
	if err != nil {
		return 0, errs.Wrap(errs.StorageError, err, "cleanup expired sessions")
	}
	return n, nil
}

// newSessionToken generates a cryptographically random 256-bit token,
// hex-encoded (spec.md §4.4).
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errs.Wrap(errs.StorageError, err, "generate session token")
	}
	return hex.EncodeToString(b), nil
}
