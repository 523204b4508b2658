package store

import (
	"database/sql"
	"time"
)

// RoomRecord is a persisted room. Room membership itself is authoritative
// in chatserver's in-memory State (spec.md §5), which neither loads nor
// saves these tables, so rooms created by chat clients do not survive a
// restart; the admin CLI reads and writes them (supplements spec.md,
// grounded in the teacher's channels table).
type RoomRecord struct {
	Name      string
	IsLobby   bool
	CreatedAt time.Time
}

// CreateRoom persists a new room row. Re-creating the lobby is a no-op.
func (s *Store) CreateRoom(name string, isLobby bool, createdAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO rooms (name, is_lobby, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, boolToInt(isLobby), createdAt.Unix(),
	)
	return err
}

// ListRooms returns every persisted room, lobby first.
func (s *Store) ListRooms() ([]RoomRecord, error) {
	rows, err := s.db.Query(`SELECT name, is_lobby, created_at FROM rooms ORDER BY is_lobby DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoomRecord
	for rows.Next() {
		var r RoomRecord
		var isLobby int
		var createdAt int64
		if err := rows.Scan(&r.Name, &isLobby, &createdAt); err != nil {
			return nil, err
		}
		r.IsLobby = isLobby != 0
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRoom removes a room and its membership rows. The lobby should never
// be passed here; callers enforce that invariant.
func (s *Store) DeleteRoom(name string) error {
	if _, err := s.db.Exec(`DELETE FROM room_members WHERE room_name = ?`, name); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM rooms WHERE name = ?`, name)
	return err
}

// AddRoomMember records that username is present in room. Idempotent.
func (s *Store) AddRoomMember(room, username string) error {
	_, err := s.db.Exec(
		`INSERT INTO room_members (room_name, username) VALUES (?, ?)
		 ON CONFLICT(room_name, username) DO NOTHING`,
		room, username,
	)
	return err
}

// RemoveRoomMember deletes a membership row.
func (s *Store) RemoveRoomMember(room, username string) error {
	_, err := s.db.Exec(`DELETE FROM room_members WHERE room_name = ? AND username = ?`, room, username)
	return err
}

// RoomMembers lists the usernames currently recorded as present in room.
func (s *Store) RoomMembers(room string) ([]string, error) {
	rows, err := s.db.Query(`SELECT username FROM room_members WHERE room_name = ? ORDER BY username ASC`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// InvitationRecord is a persisted pending room invitation (spec.md §5.7).
type InvitationRecord struct {
	ID        string
	Inviter   string
	Invitee   string
	Room      string
	InvitedAt time.Time
}

// CreateInvitation persists a pending invitation.
func (s *Store) CreateInvitation(inv InvitationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO pending_invitations (id, inviter, invitee, room_name, invited_at) VALUES (?, ?, ?, ?, ?)`,
		inv.ID, inv.Inviter, inv.Invitee, inv.Room, inv.InvitedAt.Unix(),
	)
	return err
}

// GetInvitation returns a single invitation by ID, or (nil, nil) if absent.
func (s *Store) GetInvitation(id string) (*InvitationRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, inviter, invitee, room_name, invited_at FROM pending_invitations WHERE id = ?`, id,
	)
	var inv InvitationRecord
	var invitedAt int64
	err := row.Scan(&inv.ID, &inv.Inviter, &inv.Invitee, &inv.Room, &invitedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inv.InvitedAt = time.Unix(invitedAt, 0).UTC()
	return &inv, nil
}

// ListInvitationsFor returns every pending invitation addressed to invitee.
func (s *Store) ListInvitationsFor(invitee string) ([]InvitationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, inviter, invitee, room_name, invited_at FROM pending_invitations
		 WHERE invitee = ? ORDER BY invited_at ASC`, invitee,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvitationRecord
	for rows.Next() {
		var inv InvitationRecord
		var invitedAt int64
		if err := rows.Scan(&inv.ID, &inv.Inviter, &inv.Invitee, &inv.Room, &invitedAt); err != nil {
			return nil, err
		}
		inv.InvitedAt = time.Unix(invitedAt, 0).UTC()
		out = append(out, inv)
	}
	return out, rows.Err()
}

// DeleteInvitation removes a single invitation (accept/decline/expire).
func (s *Store) DeleteInvitation(id string) error {
	_, err := s.db.Exec(`DELETE FROM pending_invitations WHERE id = ?`, id)
	return err
}

// DeleteExpiredInvitations sweeps invitations older than ttl and returns the
// count removed (backs the periodic invitation sweep, spec.md §5.7).
func (s *Store) DeleteExpiredInvitations(now time.Time, ttl time.Duration) (int, error) {
	cutoff := now.Add(-ttl).Unix()
	res, err := s.db.Exec(`DELETE FROM pending_invitations WHERE invited_at <= ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
