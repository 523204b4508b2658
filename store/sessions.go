package store

import (
	"database/sql"
	"time"

	"lair-chat/server/auth"
)

// CreateSession inserts a new session row.
func (s *Store) CreateSession(sess *auth.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, user_id, protocol, ip, user_agent, created_at, expires_at, last_active_at, token)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(sess.Protocol), nullableString(sess.IP), nullableString(sess.UserAgent),
		sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(), sess.LastActiveAt.Unix(), sess.Token,
	)
	return err
}

// GetSessionByToken returns the session with the given opaque token, or
// (nil, nil) if absent.
func (s *Store) GetSessionByToken(token string) (*auth.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, protocol, ip, user_agent, created_at, expires_at, last_active_at, token
		 FROM sessions WHERE token = ?`, token,
	)
	return scanSession(row)
}

// UpdateSession overwrites an existing session row (used for refresh and
// last-active-at bumps).
func (s *Store) UpdateSession(sess *auth.Session) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET expires_at = ?, last_active_at = ? WHERE id = ?`,
		sess.ExpiresAt.Unix(), sess.LastActiveAt.Unix(), sess.ID,
	)
	return err
}

// DeleteSession removes a session row by ID.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteSessionsForUser removes every session belonging to a user.
func (s *Store) DeleteSessionsForUser(userID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

// DeleteExpiredSessions sweeps every session whose expires_at has passed and
// returns the count removed (backs the periodic cleanup_sessions task).
func (s *Store) DeleteExpiredSessions(now time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanSession(row *sql.Row) (*auth.Session, error) {
	var sess auth.Session
	var protocol string
	var ip, userAgent sql.NullString
	var createdAt, expiresAt, lastActiveAt int64

	err := row.Scan(&sess.ID, &sess.UserID, &protocol, &ip, &userAgent,
		&createdAt, &expiresAt, &lastActiveAt, &sess.Token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess.Protocol = auth.Protocol(protocol)
	sess.IP = ip.String
	sess.UserAgent = userAgent.String
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	sess.LastActiveAt = time.Unix(lastActiveAt, 0).UTC()
	return &sess, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
