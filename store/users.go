package store

import (
	"database/sql"
	"time"

	"lair-chat/server/auth"
)

// CreateUser inserts a new user row. Callers are expected to have already
// generated u.ID (google/uuid) and hashed the password.
func (s *Store) CreateUser(u *auth.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, username, email, password_hash, role, status, created_at, updated_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), string(u.Status),
		u.CreatedAt.Unix(), u.UpdatedAt.Unix(), nullableUnix(u.LastSeenAt),
	)
	return err
}

// GetUserByID returns the user with the given ID, or (nil, nil) if absent.
func (s *Store) GetUserByID(id string) (*auth.User, error) {
	row := s.db.QueryRow(
		`SELECT id, username, email, password_hash, role, status, created_at, updated_at, last_seen_at
		 FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

// GetUserByUsernameOrEmail looks a user up case-insensitively by username or
// email (spec.md §4.4 Login accepts either).
func (s *Store) GetUserByUsernameOrEmail(identifier string) (*auth.User, error) {
	row := s.db.QueryRow(
		`SELECT id, username, email, password_hash, role, status, created_at, updated_at, last_seen_at
		 FROM users WHERE username = ? COLLATE NOCASE OR email = ? COLLATE NOCASE`,
		identifier, identifier,
	)
	return scanUser(row)
}

// UpdateUser overwrites all mutable fields of an existing user row.
func (s *Store) UpdateUser(u *auth.User) error {
	_, err := s.db.Exec(
		`UPDATE users SET username = ?, email = ?, password_hash = ?, role = ?, status = ?,
		 updated_at = ?, last_seen_at = ? WHERE id = ?`,
		u.Username, u.Email, u.PasswordHash, string(u.Role), string(u.Status),
		u.UpdatedAt.Unix(), nullableUnix(u.LastSeenAt), u.ID,
	)
	return err
}

// DeleteUser removes a user row by ID.
func (s *Store) DeleteUser(id string) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	return err
}

// ListUsers returns every registered user, ordered by username. Intended
// for admin tooling (the `users` CLI subcommand), not the live chat path.
func (s *Store) ListUsers() ([]*auth.User, error) {
	rows, err := s.db.Query(
		`SELECT id, username, email, password_hash, role, status, created_at, updated_at, last_seen_at
		 FROM users ORDER BY username COLLATE NOCASE`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.User
	for rows.Next() {
		var u auth.User
		var role, status string
		var createdAt, updatedAt int64
		var lastSeenAt sql.NullInt64

		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &status,
			&createdAt, &updatedAt, &lastSeenAt); err != nil {
			return nil, err
		}
		u.Role = auth.Role(role)
		u.Status = auth.Status(status)
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		if lastSeenAt.Valid {
			t := time.Unix(lastSeenAt.Int64, 0).UTC()
			u.LastSeenAt = &t
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	var role, status string
	var createdAt, updatedAt int64
	var lastSeenAt sql.NullInt64

	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &status,
		&createdAt, &updatedAt, &lastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u.Role = auth.Role(role)
	u.Status = auth.Status(status)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastSeenAt.Valid {
		t := time.Unix(lastSeenAt.Int64, 0).UTC()
		u.LastSeenAt = &t
	}
	return &u, nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
