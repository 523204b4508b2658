package store

import (
	"testing"
	"time"

	"lair-chat/server/auth"
)

// newMemStore opens an in-memory SQLite database, runs migrations, and returns
// the store. The database is discarded when the test process exits.
func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsApplied verifies that after opening a fresh database every
// migration has been recorded in schema_migrations.
func TestMigrationsApplied(t *testing.T) {
	s := newMemStore(t)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

// TestMigrationsIdempotent verifies that re-running migrate() on an
// already-migrated store applies nothing a second time.
func TestMigrationsIdempotent(t *testing.T) {
	s := newMemStore(t)

	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d rows after second migrate, got %d", len(migrations), count)
	}
}

// TestGetSetSetting verifies the basic read/write contract of the settings
// table.
func TestGetSetSetting(t *testing.T) {
	s := newMemStore(t)

	val, ok, err := s.GetSetting("server_name")
	if err != nil {
		t.Fatalf("GetSetting missing key: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for missing key, got %q", val)
	}

	if err := s.SetSetting("server_name", "My Server"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}

	val, ok, err = s.GetSetting("server_name")
	if err != nil {
		t.Fatalf("GetSetting after set: %v", err)
	}
	if !ok || val != "My Server" {
		t.Errorf("expected (%q, true), got (%q, %v)", "My Server", val, ok)
	}
}

// TestSetSettingUpsert verifies that SetSetting overwrites an existing value.
func TestSetSettingUpsert(t *testing.T) {
	s := newMemStore(t)

	if err := s.SetSetting("x", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("x", "second"); err != nil {
		t.Fatal(err)
	}

	val, ok, err := s.GetSetting("x")
	if err != nil || !ok {
		t.Fatalf("GetSetting: val=%q ok=%v err=%v", val, ok, err)
	}
	if val != "second" {
		t.Errorf("expected %q after upsert, got %q", "second", val)
	}
}

func TestGetAllSettings(t *testing.T) {
	s := newMemStore(t)

	all, err := s.GetAllSettings()
	if err != nil {
		t.Fatalf("GetAllSettings on empty store: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected no settings, got %v", all)
	}

	if err := s.SetSetting("server_name", "My Server"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("max_rooms", "50"); err != nil {
		t.Fatal(err)
	}

	all, err = s.GetAllSettings()
	if err != nil {
		t.Fatalf("GetAllSettings: %v", err)
	}
	if all["server_name"] != "My Server" || all["max_rooms"] != "50" {
		t.Errorf("unexpected settings map: %v", all)
	}
}

func TestListUsers(t *testing.T) {
	s := newMemStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	for _, name := range []string{"zoe", "alice", "mallory"} {
		u := &auth.User{
			ID: name + "-id", Username: name, Email: name + "@example.com",
			PasswordHash: "hash", Role: auth.RoleUser, Status: auth.StatusActive,
			CreatedAt: now, UpdatedAt: now,
		}
		if err := s.CreateUser(u); err != nil {
			t.Fatalf("CreateUser(%q): %v", name, err)
		}
	}

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}
	// Ordered by username, case-insensitively.
	want := []string{"alice", "mallory", "zoe"}
	for i, u := range users {
		if u.Username != want[i] {
			t.Errorf("position %d: got %q, want %q", i, u.Username, want[i])
		}
	}
}

func TestUserCRUDRoundTrip(t *testing.T) {
	s := newMemStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	u := &auth.User{
		ID:           "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=4$salt$hash",
		Role:         auth.RoleUser,
		Status:       auth.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := s.GetUserByUsernameOrEmail("ALICE")
	if err != nil {
		t.Fatalf("GetUserByUsernameOrEmail: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("expected to find user by case-insensitive username, got %+v", got)
	}

	got.Status = auth.StatusSuspended
	got.UpdatedAt = now.Add(time.Minute)
	if err := s.UpdateUser(got); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	reloaded, err := s.GetUserByID(u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if reloaded.Status != auth.StatusSuspended {
		t.Errorf("expected status %q, got %q", auth.StatusSuspended, reloaded.Status)
	}

	if err := s.DeleteUser(u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	gone, err := s.GetUserByID(u.ID)
	if err != nil {
		t.Fatalf("GetUserByID after delete: %v", err)
	}
	if gone != nil {
		t.Errorf("expected nil after delete, got %+v", gone)
	}
}

func TestUserDuplicateUsernameRejected(t *testing.T) {
	s := newMemStore(t)
	now := time.Now().UTC()

	u1 := &auth.User{ID: "u1", Username: "bob", Email: "bob@example.com", PasswordHash: "x", Role: auth.RoleUser, Status: auth.StatusActive, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateUser(u1); err != nil {
		t.Fatalf("CreateUser u1: %v", err)
	}

	u2 := &auth.User{ID: "u2", Username: "BOB", Email: "other@example.com", PasswordHash: "x", Role: auth.RoleUser, Status: auth.StatusActive, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateUser(u2); err == nil {
		t.Fatal("expected UNIQUE constraint violation for case-insensitive duplicate username")
	}
}

func TestSessionCRUDAndExpirySweep(t *testing.T) {
	s := newMemStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	u := &auth.User{ID: "user-1", Username: "carol", Email: "carol@example.com", PasswordHash: "x", Role: auth.RoleUser, Status: auth.StatusActive, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	live := &auth.Session{ID: "sess-live", UserID: u.ID, Token: "tok-live", Protocol: auth.ProtocolTCP, CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastActiveAt: now}
	expired := &auth.Session{ID: "sess-expired", UserID: u.ID, Token: "tok-expired", Protocol: auth.ProtocolTCP, CreatedAt: now, ExpiresAt: now.Add(-time.Hour), LastActiveAt: now}

	if err := s.CreateSession(live); err != nil {
		t.Fatalf("CreateSession live: %v", err)
	}
	if err := s.CreateSession(expired); err != nil {
		t.Fatalf("CreateSession expired: %v", err)
	}

	got, err := s.GetSessionByToken("tok-live")
	if err != nil || got == nil {
		t.Fatalf("GetSessionByToken: %v, %+v", err, got)
	}

	n, err := s.DeleteExpiredSessions(now)
	if err != nil {
		t.Fatalf("DeleteExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired session removed, got %d", n)
	}

	stillThere, err := s.GetSessionByToken("tok-live")
	if err != nil || stillThere == nil {
		t.Fatalf("expected live session to survive sweep, got %v, %+v", err, stillThere)
	}

	if err := s.DeleteSessionsForUser(u.ID); err != nil {
		t.Fatalf("DeleteSessionsForUser: %v", err)
	}
	gone, err := s.GetSessionByToken("tok-live")
	if err != nil {
		t.Fatalf("GetSessionByToken after user purge: %v", err)
	}
	if gone != nil {
		t.Errorf("expected no sessions left for user, got %+v", gone)
	}
}

func TestRoomAndMembershipPersistence(t *testing.T) {
	s := newMemStore(t)
	now := time.Now().UTC()

	if err := s.CreateRoom("lobby", true, now); err != nil {
		t.Fatalf("CreateRoom lobby: %v", err)
	}
	if err := s.CreateRoom("general", false, now); err != nil {
		t.Fatalf("CreateRoom general: %v", err)
	}
	// Re-creating the lobby must be a no-op, not an error.
	if err := s.CreateRoom("lobby", true, now); err != nil {
		t.Fatalf("re-CreateRoom lobby: %v", err)
	}

	rooms, err := s.ListRooms()
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 2 || !rooms[0].IsLobby {
		t.Fatalf("expected lobby first among 2 rooms, got %+v", rooms)
	}

	if err := s.AddRoomMember("general", "alice"); err != nil {
		t.Fatalf("AddRoomMember: %v", err)
	}
	if err := s.AddRoomMember("general", "alice"); err != nil {
		t.Fatalf("duplicate AddRoomMember should be a no-op: %v", err)
	}

	members, err := s.RoomMembers("general")
	if err != nil {
		t.Fatalf("RoomMembers: %v", err)
	}
	if len(members) != 1 || members[0] != "alice" {
		t.Fatalf("expected [alice], got %v", members)
	}

	if err := s.RemoveRoomMember("general", "alice"); err != nil {
		t.Fatalf("RemoveRoomMember: %v", err)
	}
	if err := s.DeleteRoom("general"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
}

func TestInvitationLifecycleAndExpirySweep(t *testing.T) {
	s := newMemStore(t)
	now := time.Now().UTC()

	inv := InvitationRecord{ID: "inv-1", Inviter: "alice", Invitee: "bob", Room: "general", InvitedAt: now.Add(-2 * time.Hour)}
	if err := s.CreateInvitation(inv); err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}

	fresh := InvitationRecord{ID: "inv-2", Inviter: "alice", Invitee: "bob", Room: "general", InvitedAt: now}
	if err := s.CreateInvitation(fresh); err != nil {
		t.Fatalf("CreateInvitation fresh: %v", err)
	}

	list, err := s.ListInvitationsFor("bob")
	if err != nil {
		t.Fatalf("ListInvitationsFor: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 pending invitations, got %d", len(list))
	}

	n, err := s.DeleteExpiredInvitations(now, time.Hour)
	if err != nil {
		t.Fatalf("DeleteExpiredInvitations: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired invitation swept, got %d", n)
	}

	remaining, err := s.ListInvitationsFor("bob")
	if err != nil {
		t.Fatalf("ListInvitationsFor after sweep: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "inv-2" {
		t.Fatalf("expected only inv-2 to remain, got %+v", remaining)
	}

	if err := s.DeleteInvitation("inv-2"); err != nil {
		t.Fatalf("DeleteInvitation: %v", err)
	}
}

func TestBackupAndOptimize(t *testing.T) {
	s := newMemStore(t)
	if err := s.Optimize(); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if err := s.Backup(":memory:"); err != nil {
		t.Fatalf("Backup: %v", err)
	}
}
